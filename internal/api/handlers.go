package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store"
)

// consultationDTO is the JSON shape of one consultation. Monetary values are
// rendered as decimal strings to keep their exact scale.
type consultationDTO struct {
	Reference       string     `json:"reference"`
	Authority       string     `json:"authority"`
	Title           string     `json:"title"`
	Object          *string    `json:"object,omitempty"`
	MarketType      string     `json:"market_type,omitempty"`
	Status          string     `json:"status,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	SessionDate     *time.Time `json:"session_date,omitempty"`
	EstimatedAmount *string    `json:"estimated_amount,omitempty"`
	ProvisionalBond *string    `json:"provisional_bond,omitempty"`
	AuthorityName   *string    `json:"authority_name,omitempty"`
	AuthorityCity   *string    `json:"authority_city,omitempty"`
	Sector          *string    `json:"sector,omitempty"`
	CPVCode         *string    `json:"cpv_code,omitempty"`
	DetailURL       *string    `json:"detail_url,omitempty"`
	ArchivePath     *string    `json:"archive_path,omitempty"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
}

type lotDTO struct {
	Number          string  `json:"number"`
	Designation     string  `json:"designation"`
	Description     *string `json:"description,omitempty"`
	EstimatedAmount *string `json:"estimated_amount,omitempty"`
	ProvisionalBond *string `json:"provisional_bond,omitempty"`
	FinalBond       *string `json:"final_bond,omitempty"`
	ExecutionDelay  *string `json:"execution_delay,omitempty"`
}

func moneyString(m records.Money) *string {
	if !m.Valid {
		return nil
	}
	s := m.Value.String()
	return &s
}

func toConsultationDTO(c *records.Consultation) consultationDTO {
	return consultationDTO{
		Reference:       c.Reference,
		Authority:       c.Authority,
		Title:           c.Title,
		Object:          c.Object,
		MarketType:      string(c.MarketType),
		Status:          string(c.Status),
		PublishedAt:     c.PublishedAt,
		Deadline:        c.Deadline,
		SessionDate:     c.SessionDate,
		EstimatedAmount: moneyString(c.EstimatedAmount),
		ProvisionalBond: moneyString(c.ProvisionalBond),
		AuthorityName:   c.AuthorityName,
		AuthorityCity:   c.AuthorityCity,
		Sector:          c.Sector,
		CPVCode:         c.CPVCode,
		DetailURL:       c.DetailURL,
		ArchivePath:     c.ArchivePath,
		LastUpdatedAt:   c.LastUpdatedAt,
	}
}

func toLotDTO(l *records.Lot) lotDTO {
	return lotDTO{
		Number:          l.Number,
		Designation:     l.Designation,
		Description:     l.Description,
		EstimatedAmount: moneyString(l.EstimatedAmount),
		ProvisionalBond: moneyString(l.ProvisionalBond),
		FinalBond:       moneyString(l.FinalBond),
		ExecutionDelay:  l.ExecutionDelay,
	}
}

func (s *Server) listConsultations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ConsultationFilter{
		Status:     records.ConsultationStatus(q.Get("status")),
		MarketType: records.MarketType(q.Get("market_type")),
		Authority:  q.Get("authority"),
		Limit:      queryInt(q.Get("limit"), 50),
		Offset:     queryInt(q.Get("offset"), 0),
	}

	list, err := s.repo.ListConsultations(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list consultations failed")
		return
	}

	dtos := make([]consultationDTO, 0, len(list))
	for _, c := range list {
		dtos = append(dtos, toConsultationDTO(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"consultations": dtos})
}

func (s *Server) getConsultation(w http.ResponseWriter, r *http.Request) {
	authority := chi.URLParam(r, "authority")
	reference := chi.URLParam(r, "reference")

	c, err := s.repo.GetConsultation(r.Context(), reference, authority)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "consultation not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "get consultation failed")
		return
	}

	lots, err := s.repo.ListLots(r.Context(), reference, authority)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list lots failed")
		return
	}
	lotDTOs := make([]lotDTO, 0, len(lots))
	for _, l := range lots {
		lotDTOs = append(lotDTOs, toLotDTO(l))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"consultation": toConsultationDTO(c),
		"lots":         lotDTOs,
	})
}

type runDTO struct {
	ID              string     `json:"id"`
	JobName         string     `json:"job_name"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Status          string     `json:"status"`
	PagesCrawled    int        `json:"pages_crawled"`
	ItemsExtracted  int        `json:"items_extracted"`
	ItemsSaved      int        `json:"items_saved"`
	ItemsDropped    int        `json:"items_dropped"`
	Errors          int        `json:"errors"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	Message         *string    `json:"message,omitempty"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := s.repo.ListRuns(r.Context(), queryInt(q.Get("limit"), 50), queryInt(q.Get("offset"), 0))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}

	dtos := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, runDTO{
			ID:              run.ID,
			JobName:         run.JobName,
			StartedAt:       run.StartedAt,
			FinishedAt:      run.FinishedAt,
			Status:          string(run.Status),
			PagesCrawled:    run.PagesCrawled,
			ItemsExtracted:  run.ItemsExtracted,
			ItemsSaved:      run.ItemsSaved,
			ItemsDropped:    run.ItemsDropped,
			Errors:          run.Errors,
			DurationSeconds: run.DurationSeconds,
			Message:         run.Message,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store"
)

type stubRepo struct {
	consultations []*records.Consultation
	lots          []*records.Lot
	runs          []records.RunLog
	listErr       error
	lastFilter    store.ConsultationFilter
}

func (s *stubRepo) Save(context.Context, *records.Record) (bool, error) { return false, nil }

func (s *stubRepo) KnownConsultationKeys(context.Context) (map[string]struct{}, error) {
	return nil, nil
}

func (s *stubRepo) DeleteConsultation(context.Context, string, string) error { return nil }

func (s *stubRepo) GetConsultation(_ context.Context, reference, authority string) (*records.Consultation, error) {
	for _, c := range s.consultations {
		if c.Reference == reference && c.Authority == authority {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubRepo) ListConsultations(_ context.Context, f store.ConsultationFilter) ([]*records.Consultation, error) {
	s.lastFilter = f
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.consultations, nil
}

func (s *stubRepo) ListLots(context.Context, string, string) ([]*records.Lot, error) {
	return s.lots, nil
}

func (s *stubRepo) StartRun(context.Context, *records.RunLog) error    { return nil }
func (s *stubRepo) CompleteRun(context.Context, *records.RunLog) error { return nil }
func (s *stubRepo) ListRuns(context.Context, int, int) ([]records.RunLog, error) {
	return s.runs, nil
}
func (s *stubRepo) Close() {}

func newTestServer(repo store.Repository) *httptest.Server {
	return httptest.NewServer(NewServer(repo, zap.NewNop()).Handler())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubRepo{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListConsultationsAppliesFilters(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{consultations: []*records.Consultation{{
		Reference:       "AO-1",
		Authority:       "ONEE",
		Title:           "Fourniture de cables",
		MarketType:      records.MarketSupplies,
		Status:          records.StatusOpen,
		EstimatedAmount: records.MoneyFromDecimal(decimal.RequireFromString("1234567.89")),
		LastUpdatedAt:   time.Now().UTC(),
	}}}
	srv := newTestServer(repo)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/consultations?status=en_cours&market_type=fournitures&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Consultations []consultationDTO `json:"consultations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Consultations, 1)
	assert.Equal(t, "AO-1", body.Consultations[0].Reference)
	require.NotNil(t, body.Consultations[0].EstimatedAmount)
	assert.Equal(t, "1234567.89", *body.Consultations[0].EstimatedAmount)

	assert.Equal(t, records.StatusOpen, repo.lastFilter.Status)
	assert.Equal(t, records.MarketSupplies, repo.lastFilter.MarketType)
	assert.Equal(t, 10, repo.lastFilter.Limit)
}

func TestGetConsultationWithLots(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{
		consultations: []*records.Consultation{{
			Reference: "AO-2", Authority: "DRETL-RABAT", Title: "Pont",
		}},
		lots: []*records.Lot{{
			Reference: "AO-2", Authority: "DRETL-RABAT", Number: "1", Designation: "Gros oeuvre",
		}},
	}
	srv := newTestServer(repo)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/consultations/DRETL-RABAT/AO-2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Consultation consultationDTO `json:"consultation"`
		Lots         []lotDTO        `json:"lots"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "AO-2", body.Consultation.Reference)
	require.Len(t, body.Lots, 1)
	assert.Equal(t, "Gros oeuvre", body.Lots[0].Designation)
}

func TestGetConsultationNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubRepo{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/consultations/NOBODY/AO-404")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListConsultationsError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubRepo{listErr: errors.New("boom")})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/consultations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{runs: []records.RunLog{{
		ID:           "run-1",
		JobName:      "consultations",
		StartedAt:    time.Now().UTC(),
		Status:       records.RunSuccess,
		PagesCrawled: 2,
		ItemsSaved:   24,
	}}}
	srv := newTestServer(repo)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "success", body.Runs[0].Status)
	assert.Equal(t, 24, body.Runs[0].ItemsSaved)
}

func TestMetricsEndpointExposesProm(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubRepo{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

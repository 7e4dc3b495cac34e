// Package records defines the procurement record kinds shared across subsystems.
package records

import (
	"strings"
	"time"
)

// Kind identifies one of the closed set of record kinds flowing through the pipeline.
type Kind string

// Record kinds. The set is closed: pipeline stages switch exhaustively over it.
const (
	KindConsultation Kind = "consultation"
	KindLot          Kind = "lot"
	KindPV           Kind = "pv"
	KindAttribution  Kind = "attribution"
	KindCompletion   Kind = "completion"
)

// Kinds lists every known record kind.
func Kinds() []Kind {
	return []Kind{KindConsultation, KindLot, KindPV, KindAttribution, KindCompletion}
}

// MarketType classifies a consultation's market.
type MarketType string

// Market types published by the portal.
const (
	MarketWorks    MarketType = "travaux"
	MarketSupplies MarketType = "fournitures"
	MarketServices MarketType = "services"
	MarketStudies  MarketType = "etudes"
)

// ConsultationStatus is the lifecycle status of a consultation on the portal.
type ConsultationStatus string

// Consultation statuses.
const (
	StatusOpen         ConsultationStatus = "en_cours"
	StatusClosed       ConsultationStatus = "cloture"
	StatusCanceled     ConsultationStatus = "annule"
	StatusPostponed    ConsultationStatus = "reporte"
	StatusUnsuccessful ConsultationStatus = "infructueux"
)

// keySep joins natural key components. It never appears in portal data.
const keySep = "\x1f"

// JoinKey builds a natural key string from its components.
func JoinKey(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.TrimSpace(p)
	}
	return strings.Join(normalized, keySep)
}

// Consultation is a public tender notice, the root entity of the domain.
// Natural key: (Reference, Authority).
type Consultation struct {
	Reference string
	Authority string

	Title      string
	Object     *string
	MarketType MarketType
	Status     ConsultationStatus

	PublishedAt *time.Time
	Deadline    *time.Time
	SessionDate *time.Time

	EstimatedAmount Money
	ProvisionalBond Money

	AuthorityName  *string
	AuthorityCity  *string
	AuthorityPhone *string
	AuthorityEmail *string

	Sector  *string
	CPVCode *string

	DetailURL  *string
	NoticeURL  *string
	DossierURL *string

	ExtractedAt   time.Time
	LastUpdatedAt time.Time
	ArchivePath   *string
}

// Key returns the consultation's natural key.
func (c *Consultation) Key() string {
	return JoinKey(c.Reference, c.Authority)
}

// Lot is a subdivision of a consultation awarded separately.
// Natural key: (consultation key, Number).
type Lot struct {
	Reference string
	Authority string
	Number    string

	Designation     string
	Description     *string
	EstimatedAmount Money
	ProvisionalBond Money
	FinalBond       Money
	ExecutionDelay  *string

	ExtractedAt time.Time
}

// Key returns the lot's natural key.
func (l *Lot) Key() string {
	return JoinKey(l.Reference, l.Authority, l.Number)
}

// PV is a published minutes extract (bid opening, evaluation) tied to a consultation.
// Natural key: (consultation key, SessionDate, Type).
type PV struct {
	Reference string
	Authority string

	Type        *string
	SessionDate *time.Time
	PublishedAt time.Time

	Content     *string
	BidderCount *int
	PVURL       *string

	ExtractedAt time.Time
	ArchivePath *string
}

// Key returns the PV's natural key.
func (p *PV) Key() string {
	session := ""
	if p.SessionDate != nil {
		session = p.SessionDate.UTC().Format("2006-01-02")
	}
	pvType := ""
	if p.Type != nil {
		pvType = *p.Type
	}
	return JoinKey(p.Reference, p.Authority, session, pvType)
}

// Attribution is a final award decision for a consultation or one of its lots.
// Natural key: (consultation key, FirmName, LotNumber).
type Attribution struct {
	Reference string
	Authority string

	AwardDate   *time.Time
	PublishedAt *time.Time

	FirmName string
	FirmICE  *string
	FirmCity *string

	AmountExclTax Money
	AmountInclTax Money
	DiscountRate  Money

	LotNumber      *string
	LotDesignation *string
	ExecutionDelay *string
	ResultURL      *string

	ExtractedAt time.Time
	ArchivePath *string
}

// Key returns the attribution's natural key.
func (a *Attribution) Key() string {
	lot := ""
	if a.LotNumber != nil {
		lot = *a.LotNumber
	}
	return JoinKey(a.Reference, a.Authority, a.FirmName, lot)
}

// Completion is a post-award closeout report.
// Natural key: (consultation key, CompletionDate).
type Completion struct {
	Reference string
	Authority string

	CompletionDate *time.Time
	PublishedAt    *time.Time

	FirmName     *string
	FinalAmount  Money
	Observations *string
	ReportURL    *string

	ExtractedAt time.Time
	ArchivePath *string
}

// Key returns the completion's natural key.
func (c *Completion) Key() string {
	date := ""
	if c.CompletionDate != nil {
		date = c.CompletionDate.UTC().Format("2006-01-02")
	}
	return JoinKey(c.Reference, c.Authority, date)
}

// Record is the tagged variant carried through the pipeline. Exactly one of
// the entity pointers matching Kind is non-nil.
type Record struct {
	Kind Kind

	Consultation *Consultation
	Lot          *Lot
	PV           *PV
	Attribution  *Attribution
	Completion   *Completion

	// RawHTML holds the source markup for archiving. The Archiver strips it
	// before the record reaches the store.
	RawHTML   []byte
	SourceURL string
}

// NewConsultation wraps a consultation in a Record.
func NewConsultation(c *Consultation) *Record {
	return &Record{Kind: KindConsultation, Consultation: c}
}

// NewLot wraps a lot in a Record.
func NewLot(l *Lot) *Record {
	return &Record{Kind: KindLot, Lot: l}
}

// NewPV wraps a PV in a Record.
func NewPV(p *PV) *Record {
	return &Record{Kind: KindPV, PV: p}
}

// NewAttribution wraps an attribution in a Record.
func NewAttribution(a *Attribution) *Record {
	return &Record{Kind: KindAttribution, Attribution: a}
}

// NewCompletion wraps a completion in a Record.
func NewCompletion(c *Completion) *Record {
	return &Record{Kind: KindCompletion, Completion: c}
}

// Key returns the natural key of the wrapped entity.
func (r *Record) Key() string {
	switch r.Kind {
	case KindConsultation:
		return r.Consultation.Key()
	case KindLot:
		return r.Lot.Key()
	case KindPV:
		return r.PV.Key()
	case KindAttribution:
		return r.Attribution.Key()
	case KindCompletion:
		return r.Completion.Key()
	}
	return ""
}

// SetArchivePath records where the raw markup was archived, for the kinds
// that carry an archive reference.
func (r *Record) SetArchivePath(path string) {
	switch r.Kind {
	case KindConsultation:
		r.Consultation.ArchivePath = &path
	case KindPV:
		r.PV.ArchivePath = &path
	case KindAttribution:
		r.Attribution.ArchivePath = &path
	case KindCompletion:
		r.Completion.ArchivePath = &path
	case KindLot:
		// Lots are extracted from their parent's detail page; the parent
		// consultation owns the archived markup.
	}
}

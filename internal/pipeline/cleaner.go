package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pmmp-data/harvester/internal/extract"
	"github.com/pmmp-data/harvester/internal/records"
)

// maxTextLen bounds free-text fields so a malformed page cannot balloon a row.
const maxTextLen = 1000

// Cleaner normalizes whitespace, bounds text length and coerces raw monetary
// text into decimal values. Coercion failure leaves the field absent; it is
// never a drop.
type Cleaner struct{}

// NewCleaner returns the cleaning stage.
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// Name implements Stage.
func (c *Cleaner) Name() string { return "cleaner" }

// Process cleans the wrapped entity in place and always accepts.
func (c *Cleaner) Process(_ context.Context, rec *records.Record) Result {
	switch rec.Kind {
	case records.KindConsultation:
		c.cleanConsultation(rec.Consultation)
	case records.KindLot:
		c.cleanLot(rec.Lot)
	case records.KindPV:
		c.cleanPV(rec.PV)
	case records.KindAttribution:
		c.cleanAttribution(rec.Attribution)
	case records.KindCompletion:
		c.cleanCompletion(rec.Completion)
	}
	return Accept()
}

func (c *Cleaner) cleanConsultation(v *records.Consultation) {
	v.Reference = cleanText(v.Reference)
	v.Authority = cleanText(v.Authority)
	v.Title = cleanText(v.Title)
	cleanTextPtr(&v.Object)
	cleanTextPtr(&v.AuthorityName)
	cleanTextPtr(&v.AuthorityCity)
	cleanTextPtr(&v.AuthorityPhone)
	cleanTextPtr(&v.AuthorityEmail)
	cleanTextPtr(&v.Sector)
	cleanTextPtr(&v.CPVCode)
	coerceMoney(&v.EstimatedAmount)
	coerceMoney(&v.ProvisionalBond)
}

func (c *Cleaner) cleanLot(v *records.Lot) {
	v.Reference = cleanText(v.Reference)
	v.Authority = cleanText(v.Authority)
	v.Number = cleanText(v.Number)
	v.Designation = cleanText(v.Designation)
	cleanTextPtr(&v.Description)
	cleanTextPtr(&v.ExecutionDelay)
	coerceMoney(&v.EstimatedAmount)
	coerceMoney(&v.ProvisionalBond)
	coerceMoney(&v.FinalBond)
}

func (c *Cleaner) cleanPV(v *records.PV) {
	v.Reference = cleanText(v.Reference)
	v.Authority = cleanText(v.Authority)
	cleanTextPtr(&v.Type)
	cleanTextPtr(&v.Content)
}

func (c *Cleaner) cleanAttribution(v *records.Attribution) {
	v.Reference = cleanText(v.Reference)
	v.Authority = cleanText(v.Authority)
	v.FirmName = cleanText(v.FirmName)
	cleanTextPtr(&v.FirmICE)
	cleanTextPtr(&v.FirmCity)
	cleanTextPtr(&v.LotNumber)
	cleanTextPtr(&v.LotDesignation)
	cleanTextPtr(&v.ExecutionDelay)
	coerceMoney(&v.AmountExclTax)
	coerceMoney(&v.AmountInclTax)
	coerceMoney(&v.DiscountRate)
}

func (c *Cleaner) cleanCompletion(v *records.Completion) {
	v.Reference = cleanText(v.Reference)
	v.Authority = cleanText(v.Authority)
	cleanTextPtr(&v.FirmName)
	cleanTextPtr(&v.Observations)
	coerceMoney(&v.FinalAmount)
}

// cleanText collapses runs of whitespace and bounds the result. Truncation
// is on a rune boundary so accented text stays valid UTF-8.
func cleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxTextLen {
		cut := maxTextLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// cleanTextPtr cleans through the pointer and nils out empty results.
func cleanTextPtr(p **string) {
	if *p == nil {
		return
	}
	cleaned := cleanText(**p)
	if cleaned == "" {
		*p = nil
		return
	}
	*p = &cleaned
}

// coerceMoney parses raw portal text left behind by the extractor.
func coerceMoney(m *records.Money) {
	if m.Valid || strings.TrimSpace(m.Raw) == "" {
		return
	}
	if d, ok := extract.ParseAmount(m.Raw); ok {
		m.Value = d
		m.Valid = true
	}
}

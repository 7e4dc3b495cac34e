package pipeline

import (
	"context"

	"github.com/pmmp-data/harvester/internal/records"
)

// Validator drops records missing the fields their kind cannot live without.
type Validator struct{}

// NewValidator returns the validation stage.
func NewValidator() *Validator {
	return &Validator{}
}

// Name implements Stage.
func (v *Validator) Name() string { return "validator" }

// Process checks kind-specific required fields.
func (v *Validator) Process(_ context.Context, rec *records.Record) Result {
	ok := false
	switch rec.Kind {
	case records.KindConsultation:
		c := rec.Consultation
		ok = c != nil && c.Reference != "" && c.Authority != "" && c.Title != ""
	case records.KindLot:
		l := rec.Lot
		ok = l != nil && l.Reference != "" && l.Authority != "" && l.Number != "" && l.Designation != ""
	case records.KindPV:
		p := rec.PV
		ok = p != nil && p.Reference != "" && p.Authority != ""
	case records.KindAttribution:
		a := rec.Attribution
		ok = a != nil && a.Reference != "" && a.Authority != "" && a.FirmName != ""
	case records.KindCompletion:
		c := rec.Completion
		ok = c != nil && c.Reference != "" && c.Authority != ""
	}
	if !ok {
		return Drop(v.Name(), ReasonMissingField)
	}
	return Accept()
}

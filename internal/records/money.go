package records

import (
	"github.com/shopspring/decimal"
)

// Money is a monetary field as it travels through the pipeline. The extractor
// captures the portal's raw text (thousands separators, decimal commas,
// currency suffixes); the cleaning stage coerces it into a decimal value.
// Decimal arithmetic avoids the rounding drift a float64 would accumulate
// across repeated upserts.
type Money struct {
	Raw   string
	Value decimal.Decimal
	Valid bool
}

// RawMoney returns a Money holding un-coerced portal text.
func RawMoney(raw string) Money {
	return Money{Raw: raw}
}

// MoneyFromDecimal returns a coerced Money.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d, Valid: true}
}

// Decimal returns the value and whether it is present.
func (m Money) Decimal() (decimal.Decimal, bool) {
	return m.Value, m.Valid
}

// NullDecimal adapts the field for pgx parameter binding (NULL when absent).
func (m Money) NullDecimal() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: m.Value, Valid: m.Valid}
}

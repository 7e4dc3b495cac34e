package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateFormats lists the formats the portal has been observed to publish,
// in order of likelihood. Day/month/year first: that is the local format.
var dateFormats = []string{
	"02/01/2006 15:04",
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
}

// ParseDate tries the known portal date formats in order. Unrecognized input
// yields ok=false, never an error.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// amountCutset holds every decoration character stripped before parsing an
// amount: regular and non-breaking spaces, thousands separators, and the
// currency suffixes the portal appends.
const nbsp = ' '
const narrowNbsp = ' '

// ParseAmount normalizes portal amount text ("1 234 567,89 DH") into a
// decimal. Empty or unparseable input yields ok=false, meaning absent, not zero.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', nbsp, narrowNbsp:
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	// Strip trailing currency decoration (DH, DHS, MAD, Dhs TTC, ...).
	cleaned = strings.TrimFunc(cleaned, func(r rune) bool {
		return !isAmountRune(r)
	})
	for _, suffix := range []string{"DHTTC", "DHHT", "DHS", "MAD", "DH"} {
		cleaned = strings.TrimSuffix(strings.ToUpper(cleaned), suffix)
		cleaned = strings.TrimFunc(cleaned, func(r rune) bool {
			return !isAmountRune(r)
		})
	}
	if cleaned == "" {
		return decimal.Decimal{}, false
	}

	// Decimal comma to decimal point. A value with both separators uses the
	// comma as the decimal mark and the dot for thousands.
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func isAmountRune(r rune) bool {
	return r >= '0' && r <= '9' || r == ',' || r == '.' || r == '-'
}

// normalizeMarketType maps the portal's French market labels onto the closed
// market-type set. Unknown labels default to services, the portal's most
// common category.
func normalizeMarketType(raw string) string {
	switch {
	case containsFold(raw, "travaux"):
		return "travaux"
	case containsFold(raw, "fourniture"):
		return "fournitures"
	case containsFold(raw, "etude"), containsFold(raw, "étude"):
		return "etudes"
	default:
		return "services"
	}
}

// normalizeStatus maps the portal's status labels onto the closed status set.
func normalizeStatus(raw string) string {
	switch {
	case containsFold(raw, "cours"), containsFold(raw, "ouvert"):
		return "en_cours"
	case containsFold(raw, "annul"):
		return "annule"
	case containsFold(raw, "report"):
		return "reporte"
	case containsFold(raw, "infructueux"):
		return "infructueux"
	case containsFold(raw, "clotur"), containsFold(raw, "clôtur"), containsFold(raw, "ferm"):
		return "cloture"
	default:
		return "en_cours"
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

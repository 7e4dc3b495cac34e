package navigator

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pmmp-data/harvester/internal/records"
)

// The portal renames its form controls across releases but keeps recognizable
// fragments in their name attributes. Controls are matched by case-insensitive
// substring against these hints; the first control matching any hint wins.
var fieldHints = map[string][]string{
	"keyword":     {"motcle", "mot_cle", "keyword", "recherche"},
	"market_type": {"categorie", "category", "naturemarche", "typemarche"},
	"status":      {"etatconsultation", "etat", "statut", "status"},
	"date_from":   {"datedebut", "datemiseenlignestart", "date_from", "startdate"},
	"date_to":     {"datefin", "datemiseenligneend", "date_to", "enddate"},
}

// portalDateLayout is the format the form's date inputs accept.
const portalDateLayout = "02/01/2006"

// fillForm writes the query's criteria into whichever controls the current
// markup exposes. A criterion with no matching control is logged and skipped
// rather than failing the run.
func (n *Navigator) fillForm(ctx context.Context, html string, q Query) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse form markup: %w", err)
	}

	type binding struct {
		field string
		value string
	}
	bindings := []binding{
		{"keyword", q.Keyword},
		{"market_type", string(q.MarketType)},
		{"status", string(q.Status)},
	}
	if q.From != nil {
		bindings = append(bindings, binding{"date_from", q.From.Format(portalDateLayout)})
	}
	if q.To != nil {
		bindings = append(bindings, binding{"date_to", q.To.Format(portalDateLayout)})
	}

	for _, b := range bindings {
		if b.value == "" {
			continue
		}
		sel, ok := matchControl(doc, fieldHints[b.field])
		if !ok {
			n.log.Warn("no form control matched criterion",
				zap.String("field", b.field),
				zap.Strings("hints", fieldHints[b.field]),
			)
			continue
		}
		if err := n.sess.SetValue(ctx, sel, b.value); err != nil {
			return fmt.Errorf("set %s: %w", b.field, err)
		}
		n.log.Debug("form field bound",
			zap.String("field", b.field),
			zap.String("selector", sel),
		)
	}
	return nil
}

// matchControl returns a CSS selector for the first form control whose name
// or id contains one of the hints.
func matchControl(doc *goquery.Document, hints []string) (string, bool) {
	var selector string
	doc.Find("input, select, textarea").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t, _ := s.Attr("type"); t == "hidden" || t == "submit" {
			return true
		}
		name, _ := s.Attr("name")
		id, _ := s.Attr("id")
		for _, hint := range hints {
			if containsFold(name, hint) || containsFold(id, hint) {
				if name != "" {
					selector = fmt.Sprintf("[name=%q]", name)
				} else {
					selector = "#" + id
				}
				return false
			}
		}
		return true
	})
	return selector, selector != ""
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// nextControl locates the pagination advance control on a results page.
type nextControl struct {
	// selector, when set, is clicked by CSS query.
	selector string
	// text is the anchor text to click when no rel=next link exists.
	text string
}

// nextLabels are tried in order when the page lacks a rel=next link.
var nextLabels = []string{"Suivant", "Next"}

// findNext reports how to reach the next results page, if there is one.
func findNext(html string) (nextControl, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nextControl{}, false
	}
	if doc.Find(`a[rel="next"]`).Length() > 0 {
		return nextControl{selector: `a[rel="next"]`}, true
	}
	for _, label := range nextLabels {
		found := false
		doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.Contains(strings.TrimSpace(s.Text()), label) {
				found = true
				return false
			}
			return true
		})
		if found {
			return nextControl{text: label}, true
		}
	}
	return nextControl{}, false
}

// StatusFromLabel maps a portal status label to its canonical value, for
// callers assembling queries from CLI flags.
func StatusFromLabel(label string) (records.ConsultationStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "en_cours", "en cours", "ouvert":
		return records.StatusOpen, true
	case "cloture", "clôturé", "cloturee":
		return records.StatusClosed, true
	case "annule", "annulé":
		return records.StatusCanceled, true
	case "reporte", "reporté":
		return records.StatusPostponed, true
	case "infructueux":
		return records.StatusUnsuccessful, true
	}
	return "", false
}

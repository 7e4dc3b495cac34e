package extract

// Selector tables for the portal's markup. Centralized so a portal redesign
// is a one-file change. Each entry lists alternatives: goquery tries them
// left to right and a miss yields an absent field, never an error.

// consultationList selects the consultations search-results table.
var consultationList = tableSelectors{
	table: "table.data-table, table.consultation-table, table[id*='result']",
	rows:  "tbody tr, tr[class*='row']",
	columns: map[string]string{
		"reference":        "td:nth-child(1), td.ref",
		"title":            "td:nth-child(2), td.titre, td.objet",
		"authority":        "td:nth-child(3), td.organisme",
		"market_type":      "td:nth-child(4), td.type",
		"date_publication": "td:nth-child(5), td.date-pub",
		"date_limite":      "td:nth-child(6), td.date-limite",
		"status":           "td:nth-child(7), td.statut",
	},
	detailLink: "a[href*='DetailsConsultation'], a.detail-link",
}

// pvList selects the minutes-extracts results table.
var pvList = tableSelectors{
	table: "table.pv-table, table.data-table, table",
	rows:  "tbody tr",
	columns: map[string]string{
		"reference":        "td:nth-child(1)",
		"authority":        "td:nth-child(2)",
		"pv_type":          "td:nth-child(3)",
		"date_seance":      "td:nth-child(4)",
		"date_publication": "td:nth-child(5)",
		"bidders":          "td:nth-child(6)",
	},
	detailLink: "a[href*='pv'], a.pv-link, a[href*='telecharger'], a[href*='download']",
}

// attributionList selects the definitive-results table.
var attributionList = tableSelectors{
	table: "table.attribution-table, table.data-table, table[id*='result']",
	rows:  "tbody tr",
	columns: map[string]string{
		"reference":        "td:nth-child(1)",
		"authority":        "td:nth-child(2)",
		"firm":             "td:nth-child(3)",
		"amount":           "td:nth-child(4)",
		"date_attribution": "td:nth-child(5)",
		"lot_number":       "td:nth-child(6), td.lot",
	},
	detailLink: "a[href*='attribution'], a[href*='Resultat']",
}

// completionList selects the completion-reports table.
var completionList = tableSelectors{
	table: "table.achevement-table, table.data-table, table[id*='result']",
	rows:  "tbody tr",
	columns: map[string]string{
		"reference":        "td:nth-child(1)",
		"authority":        "td:nth-child(2)",
		"firm":             "td:nth-child(3)",
		"amount":           "td:nth-child(4)",
		"date_achevement":  "td:nth-child(5)",
		"observations":     "td:nth-child(6)",
	},
	detailLink: "a[href*='achevement'], a[href*='rapport']",
}

// consultationDetail selects the labeled fields of a consultation detail page.
var consultationDetail = struct {
	reference     string
	title         string
	object        string
	marketType    string
	datePublished string
	dateDeadline  string
	dateSession   string
	authorityName string
	authorityCity string
	authorityTel  string
	authorityMail string
	amount        string
	bond          string
	sector        string
	cpvCode       string
	noticeLink    string
	dossierLink   string
	lotsTable     string
	lotRows       string
}{
	reference:     "span.ref-consultation, div.reference",
	title:         "h1.titre, h2.titre-consultation",
	object:        "div.objet, p.description",
	marketType:    "span.type-marche",
	datePublished: "span.date-publication",
	dateDeadline:  "span.date-limite",
	dateSession:   "span.date-seance",
	authorityName: "div.organisme-nom",
	authorityCity: "span.organisme-ville",
	authorityTel:  "span.organisme-tel",
	authorityMail: "a[href^='mailto:']",
	amount:        "span.montant-estime",
	bond:          "span.cautionnement",
	sector:        "span.secteur",
	cpvCode:       "span.code-cpv",
	noticeLink:    "a[href*='avis']",
	dossierLink:   "a[href*='dce']",
	lotsTable:     "table.lots, table[id*='lot']",
	lotRows:       "tbody tr, tr.lot",
}

// lotColumns maps lot-table columns on a detail page.
var lotColumns = map[string]string{
	"number":          "td:nth-child(1), td.numero",
	"designation":     "td:nth-child(2), td.designation",
	"amount":          "td:nth-child(3), td.montant",
	"bond":            "td:nth-child(4), td.cautionnement",
	"execution_delay": "td:nth-child(5), td.delai",
}

// tableSelectors describes one row-oriented result listing.
type tableSelectors struct {
	table      string
	rows       string
	columns    map[string]string
	detailLink string
}

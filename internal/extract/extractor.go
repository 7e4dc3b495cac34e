// Package extract turns rendered portal pages into raw procurement records.
// Extraction is pure: a selector miss yields an absent field, never an error.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pmmp-data/harvester/internal/records"
)

// Rows walks the result table of a rendered listing page and produces one raw
// record per data row for the given kind.
func Rows(html []byte, pageURL string, kind records.Kind) ([]*records.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var sel tableSelectors
	switch kind {
	case records.KindConsultation:
		sel = consultationList
	case records.KindPV:
		sel = pvList
	case records.KindAttribution:
		sel = attributionList
	case records.KindCompletion:
		sel = completionList
	default:
		return nil, fmt.Errorf("no listing selectors for kind %q", kind)
	}

	table := doc.Find(sel.table).First()
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}
	if table.Length() == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var out []*records.Record
	table.Find(sel.rows).Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}
		rec := recordFromRow(row, sel, kind, pageURL, now)
		if rec == nil {
			return
		}
		if raw, err := goquery.OuterHtml(row); err == nil {
			rec.RawHTML = []byte(raw)
		}
		rec.SourceURL = pageURL
		out = append(out, rec)
	})
	return out, nil
}

func recordFromRow(row *goquery.Selection, sel tableSelectors, kind records.Kind, pageURL string, now time.Time) *records.Record {
	field := func(name string) string {
		css, ok := sel.columns[name]
		if !ok {
			return ""
		}
		return collapse(row.Find(css).First().Text())
	}
	link := detailHref(row, sel.detailLink, pageURL)

	switch kind {
	case records.KindConsultation:
		c := &records.Consultation{
			Reference:     field("reference"),
			Authority:     field("authority"),
			Title:         field("title"),
			MarketType:    records.MarketType(normalizeMarketType(field("market_type"))),
			Status:        records.ConsultationStatus(normalizeStatus(field("status"))),
			ExtractedAt:   now,
			LastUpdatedAt: now,
		}
		c.PublishedAt = datePtr(field("date_publication"))
		c.Deadline = datePtr(field("date_limite"))
		if link != "" {
			c.DetailURL = &link
		}
		if c.Reference == "" && c.Title == "" && c.Authority == "" && link == "" {
			return nil
		}
		return records.NewConsultation(c)

	case records.KindPV:
		p := &records.PV{
			Reference:   field("reference"),
			Authority:   field("authority"),
			ExtractedAt: now,
		}
		p.Type = strPtr(field("pv_type"))
		p.SessionDate = datePtr(field("date_seance"))
		if t, ok := ParseDate(field("date_publication")); ok {
			p.PublishedAt = t
		}
		if n, ok := ParseBidderCount(field("bidders")); ok {
			p.BidderCount = &n
		}
		if link != "" {
			p.PVURL = &link
		}
		if p.Reference == "" && p.Authority == "" {
			return nil
		}
		return records.NewPV(p)

	case records.KindAttribution:
		a := &records.Attribution{
			Reference:     field("reference"),
			Authority:     field("authority"),
			FirmName:      field("firm"),
			AmountExclTax: records.RawMoney(field("amount")),
			ExtractedAt:   now,
		}
		a.AwardDate = datePtr(field("date_attribution"))
		a.LotNumber = strPtr(field("lot_number"))
		if link != "" {
			a.ResultURL = &link
		}
		if a.Reference == "" && a.FirmName == "" {
			return nil
		}
		return records.NewAttribution(a)

	case records.KindCompletion:
		c := &records.Completion{
			Reference:   field("reference"),
			Authority:   field("authority"),
			FinalAmount: records.RawMoney(field("amount")),
			ExtractedAt: now,
		}
		c.FirmName = strPtr(field("firm"))
		c.CompletionDate = datePtr(field("date_achevement"))
		c.Observations = strPtr(field("observations"))
		if link != "" {
			c.ReportURL = &link
		}
		if c.Reference == "" {
			return nil
		}
		return records.NewCompletion(c)
	}
	return nil
}

// EnrichConsultation overlays the labeled fields of a detail page onto an
// already-extracted consultation and returns the lots listed there. Absent
// selectors leave existing values untouched.
func EnrichConsultation(html []byte, pageURL string, c *records.Consultation) ([]*records.Lot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}
	d := consultationDetail

	if v := collapse(doc.Find(d.object).First().Text()); v != "" {
		c.Object = &v
	}
	if v := collapse(doc.Find(d.marketType).First().Text()); v != "" {
		c.MarketType = records.MarketType(normalizeMarketType(v))
	}
	if t := datePtr(collapse(doc.Find(d.datePublished).First().Text())); t != nil {
		c.PublishedAt = t
	}
	if t := datePtr(collapse(doc.Find(d.dateDeadline).First().Text())); t != nil {
		c.Deadline = t
	}
	if t := datePtr(collapse(doc.Find(d.dateSession).First().Text())); t != nil {
		c.SessionDate = t
	}
	if v := collapse(doc.Find(d.authorityName).First().Text()); v != "" {
		c.AuthorityName = &v
	}
	if v := collapse(doc.Find(d.authorityCity).First().Text()); v != "" {
		c.AuthorityCity = &v
	}
	if v := collapse(doc.Find(d.authorityTel).First().Text()); v != "" {
		c.AuthorityPhone = &v
	}
	if href, ok := doc.Find(d.authorityMail).First().Attr("href"); ok {
		mail := strings.TrimPrefix(href, "mailto:")
		if mail != "" {
			c.AuthorityEmail = &mail
		}
	}
	if v := collapse(doc.Find(d.amount).First().Text()); v != "" {
		c.EstimatedAmount = records.RawMoney(v)
	}
	if v := collapse(doc.Find(d.bond).First().Text()); v != "" {
		c.ProvisionalBond = records.RawMoney(v)
	}
	if v := collapse(doc.Find(d.sector).First().Text()); v != "" {
		c.Sector = &v
	}
	if v := collapse(doc.Find(d.cpvCode).First().Text()); v != "" {
		c.CPVCode = &v
	}
	if href := resolveHref(doc.Find(d.noticeLink).First(), pageURL); href != "" {
		c.NoticeURL = &href
	}
	if href := resolveHref(doc.Find(d.dossierLink).First(), pageURL); href != "" {
		c.DossierURL = &href
	}

	return lotsFromDetail(doc, c), nil
}

func lotsFromDetail(doc *goquery.Document, c *records.Consultation) []*records.Lot {
	table := doc.Find(consultationDetail.lotsTable).First()
	if table.Length() == 0 {
		return nil
	}
	now := time.Now().UTC()
	var lots []*records.Lot
	table.Find(consultationDetail.lotRows).Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}
		field := func(name string) string {
			return collapse(row.Find(lotColumns[name]).First().Text())
		}
		lot := &records.Lot{
			Reference:       c.Reference,
			Authority:       c.Authority,
			Number:          field("number"),
			Designation:     field("designation"),
			EstimatedAmount: records.RawMoney(field("amount")),
			ProvisionalBond: records.RawMoney(field("bond")),
			ExtractedAt:     now,
		}
		lot.ExecutionDelay = strPtr(field("execution_delay"))
		if lot.Number == "" && lot.Designation == "" {
			return
		}
		lots = append(lots, lot)
	})
	return lots
}

// CanonicalDetailURL reconstructs a consultation's detail URL from its
// natural key, for rows whose detail link is missing or javascript-driven.
func CanonicalDetailURL(base, reference, authority string) string {
	return fmt.Sprintf(
		"%s/index.php?page=entreprise.EntrepriseDetailsConsultation&refConsultation=%s&orgAcronyme=%s",
		strings.TrimRight(base, "/"),
		url.QueryEscape(reference),
		url.QueryEscape(authority),
	)
}

// ParseBidderCount extracts an integer bidder count from free text.
func ParseBidderCount(raw string) (int, bool) {
	fields := strings.Fields(raw)
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil && n >= 0 {
			return n, true
		}
	}
	return 0, false
}

func detailHref(row *goquery.Selection, selector, pageURL string) string {
	link := resolveHref(row.Find(selector).First(), pageURL)
	if link != "" {
		return link
	}
	// Any non-javascript anchor in the row is better than nothing.
	var found string
	row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if href := resolveHref(a, pageURL); href != "" {
			found = href
			return false
		}
		return true
	})
	return found
}

func resolveHref(sel *goquery.Selection, pageURL string) string {
	href, ok := sel.Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func datePtr(s string) *time.Time {
	if t, ok := ParseDate(s); ok {
		return &t
	}
	return nil
}

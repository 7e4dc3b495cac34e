package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmmp-data/harvester/internal/records"
)

const consultationsPage = `
<html><body>
<table class="data-table">
<thead><tr><th>Réf</th><th>Objet</th><th>Organisme</th><th>Type</th><th>Publication</th><th>Limite</th><th>Statut</th></tr></thead>
<tbody>
<tr>
  <td>AO-12/2025</td>
  <td>Construction   d'une école</td>
  <td>MEN</td>
  <td>Travaux</td>
  <td>23/10/2025</td>
  <td>15/11/2025</td>
  <td>En cours</td>
  <td><a href="index.php?page=entreprise.EntrepriseDetailsConsultation&amp;id=42">détail</a></td>
</tr>
<tr>
  <td>AO-13/2025</td>
  <td>Fourniture de mobilier</td>
  <td>ONEE</td>
  <td>Fournitures</td>
  <td>pas une date</td>
  <td></td>
  <td>Clôturée</td>
  <td><a href="javascript:void(0)">détail</a></td>
</tr>
<tr><td></td><td></td><td></td><td></td><td></td><td></td><td></td></tr>
</tbody>
</table>
</body></html>`

func TestRowsConsultations(t *testing.T) {
	t.Parallel()

	recs, err := Rows([]byte(consultationsPage), "https://portal.example/index.php?page=search", records.KindConsultation)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0].Consultation
	require.Equal(t, "AO-12/2025", first.Reference)
	require.Equal(t, "Construction d'une école", first.Title)
	require.Equal(t, "MEN", first.Authority)
	require.Equal(t, records.MarketWorks, first.MarketType)
	require.Equal(t, records.StatusOpen, first.Status)
	require.NotNil(t, first.PublishedAt)
	require.Equal(t, "2025-10-23", first.PublishedAt.Format("2006-01-02"))
	require.NotNil(t, first.DetailURL)
	require.Contains(t, *first.DetailURL, "EntrepriseDetailsConsultation")
	require.NotEmpty(t, recs[0].RawHTML)
	require.Equal(t, "https://portal.example/index.php?page=search", recs[0].SourceURL)

	second := recs[1].Consultation
	require.Equal(t, records.MarketSupplies, second.MarketType)
	require.Equal(t, records.StatusClosed, second.Status)
	require.Nil(t, second.PublishedAt, "unparseable date must be absent, not an error")
	require.Nil(t, second.DetailURL, "javascript links are not detail links")
}

func TestRowsNoTableYieldsNothing(t *testing.T) {
	t.Parallel()

	recs, err := Rows([]byte("<html><body><p>Aucun résultat</p></body></html>"), "https://portal.example/", records.KindConsultation)
	require.NoError(t, err)
	require.Empty(t, recs)
}

const attributionsPage = `
<html><body>
<table class="attribution-table"><tbody>
<tr>
  <td>AO-7/2025</td>
  <td>ONCF</td>
  <td>SOTRAVO SARL</td>
  <td>1 234 567,89 DH</td>
  <td>02/09/2025</td>
  <td>3</td>
</tr>
</tbody></table>
</body></html>`

func TestRowsAttributions(t *testing.T) {
	t.Parallel()

	recs, err := Rows([]byte(attributionsPage), "https://portal.example/", records.KindAttribution)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	a := recs[0].Attribution
	require.Equal(t, "AO-7/2025", a.Reference)
	require.Equal(t, "SOTRAVO SARL", a.FirmName)
	require.Equal(t, "1 234 567,89 DH", a.AmountExclTax.Raw)
	require.False(t, a.AmountExclTax.Valid, "amounts stay raw until the cleaning stage")
	require.NotNil(t, a.AwardDate)
	require.NotNil(t, a.LotNumber)
	require.Equal(t, "3", *a.LotNumber)
}

const pvPage = `
<html><body>
<table class="pv-table"><tbody>
<tr>
  <td>AO-9/2025</td>
  <td>ONEE</td>
  <td>Extrait PV</td>
  <td>12/09/2025</td>
  <td>15/09/2025</td>
  <td>Nombre de soumissionnaires : 7</td>
</tr>
</tbody></table>
</body></html>`

func TestRowsPVExtractsBidderCount(t *testing.T) {
	t.Parallel()

	recs, err := Rows([]byte(pvPage), "https://portal.example/", records.KindPV)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	p := recs[0].PV
	require.Equal(t, "AO-9/2025", p.Reference)
	require.Equal(t, "ONEE", p.Authority)
	require.NotNil(t, p.SessionDate)
	require.NotNil(t, p.BidderCount)
	require.Equal(t, 7, *p.BidderCount)
}

const detailPage = `
<html><body>
<div class="reference">AO-12/2025</div>
<div class="objet">Construction d'une école primaire à six salles</div>
<span class="type-marche">Travaux</span>
<span class="date-publication">23/10/2025</span>
<span class="date-limite">15/11/2025</span>
<span class="date-seance">16/11/2025</span>
<div class="organisme-nom">Ministère de l'Éducation Nationale</div>
<span class="organisme-ville">Rabat</span>
<a href="mailto:marches@men.gov.ma">contact</a>
<span class="montant-estime">2 500 000,00 DH</span>
<span class="cautionnement">25 000,00 DH</span>
<span class="secteur">BTP</span>
<a href="/docs/avis_42.pdf">Avis</a>
<a href="/docs/dce_42.zip">DCE</a>
<table class="lots"><tbody>
<tr><td>1</td><td>Gros œuvre</td><td>1 500 000,00 DH</td><td>15 000,00</td><td>6 mois</td></tr>
<tr><td>2</td><td>Second œuvre</td><td>1 000 000,00 DH</td><td>10 000,00</td><td>4 mois</td></tr>
</tbody></table>
</body></html>`

func TestEnrichConsultation(t *testing.T) {
	t.Parallel()

	c := &records.Consultation{Reference: "AO-12/2025", Authority: "MEN", Title: "Construction d'une école"}
	lots, err := EnrichConsultation([]byte(detailPage), "https://portal.example/index.php?page=detail", c)
	require.NoError(t, err)

	require.NotNil(t, c.Object)
	require.Contains(t, *c.Object, "six salles")
	require.NotNil(t, c.SessionDate)
	require.NotNil(t, c.AuthorityEmail)
	require.Equal(t, "marches@men.gov.ma", *c.AuthorityEmail)
	require.Equal(t, "2 500 000,00 DH", c.EstimatedAmount.Raw)
	require.NotNil(t, c.NoticeURL)
	require.Equal(t, "https://portal.example/docs/avis_42.pdf", *c.NoticeURL)

	require.Len(t, lots, 2)
	require.Equal(t, "1", lots[0].Number)
	require.Equal(t, "Gros œuvre", lots[0].Designation)
	require.Equal(t, c.Reference, lots[0].Reference)
	require.NotNil(t, lots[0].ExecutionDelay)
}

func TestCanonicalDetailURL(t *testing.T) {
	t.Parallel()

	got := CanonicalDetailURL("https://portal.example/", "AO 12/2025", "MEN")
	require.Equal(t,
		"https://portal.example/index.php?page=entreprise.EntrepriseDetailsConsultation&refConsultation=AO+12%2F2025&orgAcronyme=MEN",
		got)
}

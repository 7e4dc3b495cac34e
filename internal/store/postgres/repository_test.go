package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store"
)

func strPtr(s string) *string { return &s }

func sampleConsultation(now time.Time) *records.Consultation {
	published := now.Add(-48 * time.Hour)
	return &records.Consultation{
		Reference:       "AO-2025-001",
		Authority:       "DRETL-RABAT",
		Title:           "Construction d'un pont",
		MarketType:      records.MarketWorks,
		Status:          records.StatusOpen,
		PublishedAt:     &published,
		EstimatedAmount: records.MoneyFromDecimal(decimal.RequireFromString("1234567.89")),
		AuthorityName:   strPtr("Direction Regionale de Rabat"),
		DetailURL:       strPtr("https://portal.example/detail?ref=AO-2025-001"),
		ExtractedAt:     now,
		LastUpdatedAt:   now,
	}
}

func consultationArgs(c *records.Consultation) []any {
	return []any{
		c.Reference, c.Authority, c.Title, c.Object, string(c.MarketType), string(c.Status),
		c.PublishedAt, c.Deadline, c.SessionDate,
		c.EstimatedAmount.NullDecimal(), c.ProvisionalBond.NullDecimal(),
		c.AuthorityName, c.AuthorityCity, c.AuthorityPhone, c.AuthorityEmail,
		c.Sector, c.CPVCode,
		c.DetailURL, c.NoticeURL, c.DossierURL,
		c.ExtractedAt, c.LastUpdatedAt, c.ArchivePath,
	}
}

func TestSaveConsultationReportsInsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	c := sampleConsultation(now)

	mock.ExpectQuery("INSERT INTO consultations").
		WithArgs(consultationArgs(c)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	inserted, err := repo.Save(context.Background(), records.NewConsultation(c))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConsultationReportsUpdateOnConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	c := sampleConsultation(now)

	mock.ExpectQuery("INSERT INTO consultations").
		WithArgs(consultationArgs(c)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	inserted, err := repo.Save(context.Background(), records.NewConsultation(c))
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsMissingNaturalKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	_, err = repo.Save(context.Background(), records.NewConsultation(&records.Consultation{Title: "no key"}))
	assert.Error(t, err)
}

func TestSaveLotUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	l := &records.Lot{
		Reference:   "AO-2025-001",
		Authority:   "DRETL-RABAT",
		Number:      "2",
		Designation: "Lot 2: terrassement",
		ExtractedAt: now,
	}

	mock.ExpectQuery("INSERT INTO lots").
		WithArgs(
			l.Reference, l.Authority, l.Number, l.Designation, l.Description,
			l.EstimatedAmount.NullDecimal(), l.ProvisionalBond.NullDecimal(), l.FinalBond.NullDecimal(),
			l.ExecutionDelay, l.ExtractedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	inserted, err := repo.Save(context.Background(), records.NewLot(l))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAttributionDefaultsLotNumber(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1760000000, 0).UTC()
	a := &records.Attribution{
		Reference:     "AO-2025-001",
		Authority:     "DRETL-RABAT",
		FirmName:      "SOTRAVO SARL",
		AmountInclTax: records.MoneyFromDecimal(decimal.RequireFromString("980000.00")),
		ExtractedAt:   now,
	}

	mock.ExpectQuery("INSERT INTO attributions").
		WithArgs(
			a.Reference, a.Authority, a.FirmName, "",
			a.AwardDate, a.PublishedAt, a.FirmICE, a.FirmCity,
			a.AmountExclTax.NullDecimal(), a.AmountInclTax.NullDecimal(), a.DiscountRate.NullDecimal(),
			a.LotDesignation, a.ExecutionDelay, a.ResultURL,
			a.ExtractedAt, a.ArchivePath,
		).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	inserted, err := repo.Save(context.Background(), records.NewAttribution(a))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnownConsultationKeys(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT reference, authority FROM consultations").
		WillReturnRows(pgxmock.NewRows([]string{"reference", "authority"}).
			AddRow("AO-2025-001", "DRETL-RABAT").
			AddRow("AO-2025-002", "ONEE"))

	keys, err := repo.KnownConsultationKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, records.JoinKey("AO-2025-001", "DRETL-RABAT"))
	assert.Contains(t, keys, records.JoinKey("AO-2025-002", "ONEE"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteConsultationNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM consultations").
		WithArgs("AO-NOPE", "NOBODY").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = repo.DeleteConsultation(context.Background(), "AO-NOPE", "NOBODY")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConsultationNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT(.|\n)+FROM consultations").
		WithArgs("AO-NOPE", "NOBODY").
		WillReturnRows(pgxmock.NewRows([]string{"reference"}))

	_, err = repo.GetConsultation(context.Background(), "AO-NOPE", "NOBODY")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	started := time.Unix(1760000000, 0).UTC()
	finished := started.Add(90 * time.Second)
	duration := 90

	run := &records.RunLog{
		ID:        "0190c7a2-0000-7000-8000-000000000001",
		JobName:   "consultations",
		StartedAt: started,
		Status:    records.RunRunning,
	}

	mock.ExpectExec("INSERT INTO run_logs").
		WithArgs(run.ID, run.JobName, run.StartedAt, string(records.RunRunning)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.StartRun(context.Background(), run))

	run.FinishedAt = &finished
	run.Status = records.RunSuccess
	run.PagesCrawled = 2
	run.ItemsExtracted = 25
	run.ItemsSaved = 24
	run.ItemsDropped = 1
	run.DurationSeconds = &duration

	mock.ExpectExec("UPDATE run_logs SET").
		WithArgs(
			run.ID, run.FinishedAt, string(records.RunSuccess),
			run.PagesCrawled, run.ItemsExtracted, run.ItemsSaved, run.ItemsDropped, run.Errors,
			run.DurationSeconds, run.Message,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.CompleteRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

// PV and completion natural keys include a date that can be absent when the
// portal text did not parse. Their uniques must still collide on NULL, or
// every re-ingestion of such a record would insert a fresh duplicate row.
func TestSchemaTreatsNullKeyDatesAsEqual(t *testing.T) {
	t.Parallel()

	checked := 0
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS pv_extracts") ||
			strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS completions") {
			assert.Contains(t, stmt, "UNIQUE NULLS NOT DISTINCT")
			checked++
		}
	}
	require.Equal(t, 2, checked)
}

func TestMigrateAppliesEveryStatement(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock)
	require.NoError(t, err)

	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

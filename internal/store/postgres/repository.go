// Package postgres implements the store.Repository interface on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pmmp-data/harvester/internal/records"
	"github.com/pmmp-data/harvester/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Repository is the pgx-backed store.Repository.
type Repository struct {
	pool querier
}

var _ store.Repository = (*Repository)(nil)

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Save upserts the wrapped entity by its natural key.
func (r *Repository) Save(ctx context.Context, rec *records.Record) (bool, error) {
	if rec == nil {
		return false, fmt.Errorf("record is required")
	}
	switch rec.Kind {
	case records.KindConsultation:
		return r.upsertConsultation(ctx, rec.Consultation)
	case records.KindLot:
		return r.upsertLot(ctx, rec.Lot)
	case records.KindPV:
		return r.upsertPV(ctx, rec.PV)
	case records.KindAttribution:
		return r.upsertAttribution(ctx, rec.Attribution)
	case records.KindCompletion:
		return r.upsertCompletion(ctx, rec.Completion)
	}
	return false, fmt.Errorf("unknown record kind %q", rec.Kind)
}

// Merge rules: incoming NULLs never clobber stored values, last_updated_at
// only moves forward, extracted_at keeps the first observation.
const upsertConsultationSQL = `
INSERT INTO consultations (
	reference, authority, title, object, market_type, status,
	published_at, deadline, session_date,
	estimated_amount, provisional_bond,
	authority_name, authority_city, authority_phone, authority_email,
	sector, cpv_code,
	detail_url, notice_url, dossier_url,
	extracted_at, last_updated_at, archive_path
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
)
ON CONFLICT (reference, authority) DO UPDATE SET
	title            = COALESCE(NULLIF(EXCLUDED.title, ''), consultations.title),
	object           = COALESCE(EXCLUDED.object, consultations.object),
	market_type      = COALESCE(NULLIF(EXCLUDED.market_type, ''), consultations.market_type),
	status           = COALESCE(NULLIF(EXCLUDED.status, ''), consultations.status),
	published_at     = COALESCE(EXCLUDED.published_at, consultations.published_at),
	deadline         = COALESCE(EXCLUDED.deadline, consultations.deadline),
	session_date     = COALESCE(EXCLUDED.session_date, consultations.session_date),
	estimated_amount = COALESCE(EXCLUDED.estimated_amount, consultations.estimated_amount),
	provisional_bond = COALESCE(EXCLUDED.provisional_bond, consultations.provisional_bond),
	authority_name   = COALESCE(EXCLUDED.authority_name, consultations.authority_name),
	authority_city   = COALESCE(EXCLUDED.authority_city, consultations.authority_city),
	authority_phone  = COALESCE(EXCLUDED.authority_phone, consultations.authority_phone),
	authority_email  = COALESCE(EXCLUDED.authority_email, consultations.authority_email),
	sector           = COALESCE(EXCLUDED.sector, consultations.sector),
	cpv_code         = COALESCE(EXCLUDED.cpv_code, consultations.cpv_code),
	detail_url       = COALESCE(EXCLUDED.detail_url, consultations.detail_url),
	notice_url       = COALESCE(EXCLUDED.notice_url, consultations.notice_url),
	dossier_url      = COALESCE(EXCLUDED.dossier_url, consultations.dossier_url),
	last_updated_at  = GREATEST(EXCLUDED.last_updated_at, consultations.last_updated_at),
	archive_path     = COALESCE(EXCLUDED.archive_path, consultations.archive_path)
RETURNING (xmax = 0)`

func (r *Repository) upsertConsultation(ctx context.Context, c *records.Consultation) (bool, error) {
	if c == nil || c.Reference == "" || c.Authority == "" {
		return false, fmt.Errorf("consultation natural key is required")
	}
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertConsultationSQL,
		c.Reference, c.Authority, c.Title, c.Object, string(c.MarketType), string(c.Status),
		c.PublishedAt, c.Deadline, c.SessionDate,
		c.EstimatedAmount.NullDecimal(), c.ProvisionalBond.NullDecimal(),
		c.AuthorityName, c.AuthorityCity, c.AuthorityPhone, c.AuthorityEmail,
		c.Sector, c.CPVCode,
		c.DetailURL, c.NoticeURL, c.DossierURL,
		c.ExtractedAt, c.LastUpdatedAt, c.ArchivePath,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert consultation: %w", err)
	}
	return inserted, nil
}

const upsertLotSQL = `
INSERT INTO lots (
	reference, authority, number, designation, description,
	estimated_amount, provisional_bond, final_bond,
	execution_delay, extracted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (reference, authority, number) DO UPDATE SET
	designation      = COALESCE(NULLIF(EXCLUDED.designation, ''), lots.designation),
	description      = COALESCE(EXCLUDED.description, lots.description),
	estimated_amount = COALESCE(EXCLUDED.estimated_amount, lots.estimated_amount),
	provisional_bond = COALESCE(EXCLUDED.provisional_bond, lots.provisional_bond),
	final_bond       = COALESCE(EXCLUDED.final_bond, lots.final_bond),
	execution_delay  = COALESCE(EXCLUDED.execution_delay, lots.execution_delay)
RETURNING (xmax = 0)`

func (r *Repository) upsertLot(ctx context.Context, l *records.Lot) (bool, error) {
	if l == nil || l.Reference == "" || l.Authority == "" || l.Number == "" {
		return false, fmt.Errorf("lot natural key is required")
	}
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertLotSQL,
		l.Reference, l.Authority, l.Number, l.Designation, l.Description,
		l.EstimatedAmount.NullDecimal(), l.ProvisionalBond.NullDecimal(), l.FinalBond.NullDecimal(),
		l.ExecutionDelay, l.ExtractedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert lot: %w", err)
	}
	return inserted, nil
}

const upsertPVSQL = `
INSERT INTO pv_extracts (
	reference, authority, pv_type, session_date, published_at,
	content, bidder_count, pv_url, extracted_at, archive_path
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (reference, authority, session_date, pv_type) DO UPDATE SET
	published_at = COALESCE(EXCLUDED.published_at, pv_extracts.published_at),
	content      = COALESCE(EXCLUDED.content, pv_extracts.content),
	bidder_count = COALESCE(EXCLUDED.bidder_count, pv_extracts.bidder_count),
	pv_url       = COALESCE(EXCLUDED.pv_url, pv_extracts.pv_url),
	archive_path = COALESCE(EXCLUDED.archive_path, pv_extracts.archive_path)
RETURNING (xmax = 0)`

func (r *Repository) upsertPV(ctx context.Context, p *records.PV) (bool, error) {
	if p == nil || p.Reference == "" || p.Authority == "" {
		return false, fmt.Errorf("pv natural key is required")
	}
	pvType := ""
	if p.Type != nil {
		pvType = *p.Type
	}
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertPVSQL,
		p.Reference, p.Authority, pvType, p.SessionDate, p.PublishedAt,
		p.Content, p.BidderCount, p.PVURL, p.ExtractedAt, p.ArchivePath,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert pv: %w", err)
	}
	return inserted, nil
}

const upsertAttributionSQL = `
INSERT INTO attributions (
	reference, authority, firm_name, lot_number,
	award_date, published_at, firm_ice, firm_city,
	amount_excl_tax, amount_incl_tax, discount_rate,
	lot_designation, execution_delay, result_url,
	extracted_at, archive_path
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (reference, authority, firm_name, lot_number) DO UPDATE SET
	award_date      = COALESCE(EXCLUDED.award_date, attributions.award_date),
	published_at    = COALESCE(EXCLUDED.published_at, attributions.published_at),
	firm_ice        = COALESCE(EXCLUDED.firm_ice, attributions.firm_ice),
	firm_city       = COALESCE(EXCLUDED.firm_city, attributions.firm_city),
	amount_excl_tax = COALESCE(EXCLUDED.amount_excl_tax, attributions.amount_excl_tax),
	amount_incl_tax = COALESCE(EXCLUDED.amount_incl_tax, attributions.amount_incl_tax),
	discount_rate   = COALESCE(EXCLUDED.discount_rate, attributions.discount_rate),
	lot_designation = COALESCE(EXCLUDED.lot_designation, attributions.lot_designation),
	execution_delay = COALESCE(EXCLUDED.execution_delay, attributions.execution_delay),
	result_url      = COALESCE(EXCLUDED.result_url, attributions.result_url),
	archive_path    = COALESCE(EXCLUDED.archive_path, attributions.archive_path)
RETURNING (xmax = 0)`

func (r *Repository) upsertAttribution(ctx context.Context, a *records.Attribution) (bool, error) {
	if a == nil || a.Reference == "" || a.Authority == "" || a.FirmName == "" {
		return false, fmt.Errorf("attribution natural key is required")
	}
	lotNumber := ""
	if a.LotNumber != nil {
		lotNumber = *a.LotNumber
	}
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertAttributionSQL,
		a.Reference, a.Authority, a.FirmName, lotNumber,
		a.AwardDate, a.PublishedAt, a.FirmICE, a.FirmCity,
		a.AmountExclTax.NullDecimal(), a.AmountInclTax.NullDecimal(), a.DiscountRate.NullDecimal(),
		a.LotDesignation, a.ExecutionDelay, a.ResultURL,
		a.ExtractedAt, a.ArchivePath,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert attribution: %w", err)
	}
	return inserted, nil
}

const upsertCompletionSQL = `
INSERT INTO completions (
	reference, authority, completion_date, published_at,
	firm_name, final_amount, observations, report_url,
	extracted_at, archive_path
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (reference, authority, completion_date) DO UPDATE SET
	published_at = COALESCE(EXCLUDED.published_at, completions.published_at),
	firm_name    = COALESCE(EXCLUDED.firm_name, completions.firm_name),
	final_amount = COALESCE(EXCLUDED.final_amount, completions.final_amount),
	observations = COALESCE(EXCLUDED.observations, completions.observations),
	report_url   = COALESCE(EXCLUDED.report_url, completions.report_url),
	archive_path = COALESCE(EXCLUDED.archive_path, completions.archive_path)
RETURNING (xmax = 0)`

func (r *Repository) upsertCompletion(ctx context.Context, c *records.Completion) (bool, error) {
	if c == nil || c.Reference == "" || c.Authority == "" {
		return false, fmt.Errorf("completion natural key is required")
	}
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertCompletionSQL,
		c.Reference, c.Authority, c.CompletionDate, c.PublishedAt,
		c.FirmName, c.FinalAmount.NullDecimal(), c.Observations, c.ReportURL,
		c.ExtractedAt, c.ArchivePath,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert completion: %w", err)
	}
	return inserted, nil
}

// KnownConsultationKeys loads every stored consultation natural key.
func (r *Repository) KnownConsultationKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT reference, authority FROM consultations`)
	if err != nil {
		return nil, fmt.Errorf("list consultation keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var reference, authority string
		if err := rows.Scan(&reference, &authority); err != nil {
			return nil, fmt.Errorf("scan consultation key: %w", err)
		}
		keys[records.JoinKey(reference, authority)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consultation keys: %w", err)
	}
	return keys, nil
}

// DeleteConsultation removes the row; the schema cascades to children.
func (r *Repository) DeleteConsultation(ctx context.Context, reference, authority string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM consultations WHERE reference = $1 AND authority = $2`,
		reference, authority,
	)
	if err != nil {
		return fmt.Errorf("delete consultation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const consultationColumns = `
	reference, authority, title, object, market_type, status,
	published_at, deadline, session_date,
	estimated_amount, provisional_bond,
	authority_name, authority_city, authority_phone, authority_email,
	sector, cpv_code,
	detail_url, notice_url, dossier_url,
	extracted_at, last_updated_at, archive_path`

// GetConsultation loads a single consultation or returns store.ErrNotFound.
func (r *Repository) GetConsultation(ctx context.Context, reference, authority string) (*records.Consultation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+consultationColumns+` FROM consultations WHERE reference = $1 AND authority = $2`,
		reference, authority,
	)
	c, err := scanConsultation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

// ListConsultations returns consultations matching the filter, newest first.
func (r *Repository) ListConsultations(ctx context.Context, filter store.ConsultationFilter) ([]*records.Consultation, error) {
	query := `SELECT` + consultationColumns + ` FROM consultations WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.MarketType != "" {
		args = append(args, string(filter.MarketType))
		query += fmt.Sprintf(" AND market_type = $%d", len(args))
	}
	if filter.Authority != "" {
		args = append(args, filter.Authority)
		query += fmt.Sprintf(" AND authority = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY last_updated_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var out []*records.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consultations: %w", err)
	}
	return out, nil
}

func scanConsultation(row pgx.Row) (*records.Consultation, error) {
	var (
		c         records.Consultation
		market    *string
		status    *string
		estimated decimal.NullDecimal
		bond      decimal.NullDecimal
	)
	err := row.Scan(
		&c.Reference, &c.Authority, &c.Title, &c.Object, &market, &status,
		&c.PublishedAt, &c.Deadline, &c.SessionDate,
		&estimated, &bond,
		&c.AuthorityName, &c.AuthorityCity, &c.AuthorityPhone, &c.AuthorityEmail,
		&c.Sector, &c.CPVCode,
		&c.DetailURL, &c.NoticeURL, &c.DossierURL,
		&c.ExtractedAt, &c.LastUpdatedAt, &c.ArchivePath,
	)
	if err != nil {
		return nil, err
	}
	if market != nil {
		c.MarketType = records.MarketType(*market)
	}
	if status != nil {
		c.Status = records.ConsultationStatus(*status)
	}
	c.EstimatedAmount = moneyFromNull(estimated)
	c.ProvisionalBond = moneyFromNull(bond)
	return &c, nil
}

// ListLots returns a consultation's lots ordered by number.
func (r *Repository) ListLots(ctx context.Context, reference, authority string) ([]*records.Lot, error) {
	rows, err := r.pool.Query(ctx, `
SELECT reference, authority, number, designation, description,
	estimated_amount, provisional_bond, final_bond,
	execution_delay, extracted_at
FROM lots WHERE reference = $1 AND authority = $2 ORDER BY number`,
		reference, authority,
	)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	var out []*records.Lot
	for rows.Next() {
		var (
			l         records.Lot
			estimated decimal.NullDecimal
			bond      decimal.NullDecimal
			final     decimal.NullDecimal
		)
		err := rows.Scan(
			&l.Reference, &l.Authority, &l.Number, &l.Designation, &l.Description,
			&estimated, &bond, &final,
			&l.ExecutionDelay, &l.ExtractedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		l.EstimatedAmount = moneyFromNull(estimated)
		l.ProvisionalBond = moneyFromNull(bond)
		l.FinalBond = moneyFromNull(final)
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lots: %w", err)
	}
	return out, nil
}

func moneyFromNull(d decimal.NullDecimal) records.Money {
	if !d.Valid {
		return records.Money{}
	}
	return records.MoneyFromDecimal(d.Decimal)
}

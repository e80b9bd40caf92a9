// Package store persists merged bill records in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/assessor-platform/legistrack/internal/bills"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Upsert writes a merged record keyed by bill_key, replacing any previous
// version wholesale. The merge engine already resolved field precedence, so
// the store is a plain last-writer-wins per key.
func (s *Store) Upsert(ctx context.Context, rec bills.Record) error {
	sourceIDs, err := json.Marshal(rec.SourceIDs)
	if err != nil {
		return fmt.Errorf("marshal source ids: %w", err)
	}
	rawPayloads, err := json.Marshal(rec.RawPayloads)
	if err != nil {
		return fmt.Errorf("marshal raw payloads: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO bills (
			bill_key, jurisdiction, bill_number, title, summary, full_text,
			status, status_class, last_action, sources, source_ids, raw_payloads,
			status_source, title_source, text_source, first_seen, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (bill_key) DO UPDATE SET
			jurisdiction = EXCLUDED.jurisdiction,
			bill_number = EXCLUDED.bill_number,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			full_text = EXCLUDED.full_text,
			status = EXCLUDED.status,
			status_class = EXCLUDED.status_class,
			last_action = EXCLUDED.last_action,
			sources = EXCLUDED.sources,
			source_ids = EXCLUDED.source_ids,
			raw_payloads = EXCLUDED.raw_payloads,
			status_source = EXCLUDED.status_source,
			title_source = EXCLUDED.title_source,
			text_source = EXCLUDED.text_source,
			updated_at = EXCLUDED.updated_at`,
		rec.BillKey, rec.Jurisdiction, rec.BillNumber, rec.Title, rec.Summary, rec.FullText,
		rec.Status, string(rec.StatusClass), rec.LastAction, pq.StringArray(rec.Sources),
		sourceIDs, rawPayloads, rec.StatusSource, rec.TitleSource, rec.TextSource,
		rec.FirstSeen, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert bill %s: %w", rec.BillKey, err)
	}
	return nil
}

const billColumns = `bill_key, jurisdiction, bill_number, title, summary, full_text,
	status, status_class, last_action, sources, source_ids, raw_payloads,
	status_source, title_source, text_source, first_seen, updated_at`

// GetByKey loads one record; bills.ErrNotFound when the key is unknown.
func (s *Store) GetByKey(ctx context.Context, key string) (*bills.Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE bill_key=$1`, key)
	rec, err := scanBill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bills.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListOptions filters List results.
type ListOptions struct {
	Jurisdiction string
	StatusClass  bills.StatusClass
	Source       string
	UpdatedSince time.Time
	Limit        int
	Offset       int
}

// List returns records ordered by most recent action first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]bills.Record, error) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if opts.Jurisdiction != "" {
		add("LOWER(jurisdiction) = LOWER($%d)", opts.Jurisdiction)
	}
	if opts.StatusClass != "" {
		add("status_class = $%d", string(opts.StatusClass))
	}
	if opts.Source != "" {
		add("$%d = ANY(sources)", opts.Source)
	}
	if !opts.UpdatedSince.IsZero() {
		add("updated_at >= $%d", opts.UpdatedSince)
	}

	query := `SELECT ` + billColumns + ` FROM bills`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_action DESC, bill_key"
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBills(rows)
}

// Search matches the query against bill number, title, and summary.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]bills.Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pattern := "%" + query + "%"
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+billColumns+` FROM bills
		WHERE bill_number ILIKE $1 OR title ILIKE $1 OR summary ILIKE $1
		ORDER BY last_action DESC LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBills(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*bills.Record, error) {
	var rec bills.Record
	var srcs pq.StringArray
	var sourceIDs, rawPayloads []byte
	err := row.Scan(
		&rec.BillKey, &rec.Jurisdiction, &rec.BillNumber, &rec.Title, &rec.Summary, &rec.FullText,
		&rec.Status, &rec.StatusClass, &rec.LastAction, &srcs, &sourceIDs, &rawPayloads,
		&rec.StatusSource, &rec.TitleSource, &rec.TextSource, &rec.FirstSeen, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Sources = srcs
	if len(sourceIDs) > 0 {
		if err := json.Unmarshal(sourceIDs, &rec.SourceIDs); err != nil {
			return nil, fmt.Errorf("decode source ids for %s: %w", rec.BillKey, err)
		}
	}
	if len(rawPayloads) > 0 {
		if err := json.Unmarshal(rawPayloads, &rec.RawPayloads); err != nil {
			return nil, fmt.Errorf("decode raw payloads for %s: %w", rec.BillKey, err)
		}
	}
	return &rec, nil
}

func scanBills(rows *sql.Rows) ([]bills.Record, error) {
	var out []bills.Record
	for rows.Next() {
		rec, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

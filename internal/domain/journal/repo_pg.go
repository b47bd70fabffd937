package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipd/ipd/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recCols = `id, admission_id, category, cross_ref_id, entries, contributors,
	version, created_at, updated_at`

func (r *repoPG) Fetch(ctx context.Context, admissionID uuid.UUID, category Category) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recCols+` FROM journal_record WHERE admission_id = $1 AND category = $2`,
		admissionID, category.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch journal record: %w", err)
	}
	return rec, nil
}

// Upsert inserts a fresh record or replaces entries and contributors on the
// stored one, guarded by a compare-and-swap on the version column. The
// losing side of a race gets ErrConflict and must re-read before retrying.
func (r *repoPG) Upsert(ctx context.Context, rec *Record) error {
	if rec.Entries == nil {
		rec.Entries = []Entry{}
	}
	if rec.Contributors == nil {
		rec.Contributors = []string{}
	}
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	contributors, err := json.Marshal(rec.Contributors)
	if err != nil {
		return fmt.Errorf("marshal contributors: %w", err)
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO journal_record (
			id, admission_id, category, cross_ref_id, entries, contributors, version
		) VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,1)
		ON CONFLICT (admission_id, category) DO UPDATE SET
			entries = EXCLUDED.entries,
			contributors = EXCLUDED.contributors,
			version = journal_record.version + 1,
			updated_at = NOW()
		WHERE journal_record.version = $7
		RETURNING id, version, created_at, updated_at`,
		rec.ID, rec.AdmissionID, rec.Category.String(), rec.CrossRefID,
		entries, contributors, rec.Version,
	)
	err = row.Scan(&rec.ID, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("upsert journal record: %w", err)
	}
	return nil
}

func (r *repoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recCols+` FROM journal_record WHERE admission_id = $1 ORDER BY category`,
		admissionID)
	if err != nil {
		return nil, fmt.Errorf("list journal records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list journal records: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec             Record
		category        string
		entriesRaw      []byte
		contributorsRaw []byte
	)
	err := row.Scan(
		&rec.ID, &rec.AdmissionID, &category, &rec.CrossRefID,
		&entriesRaw, &contributorsRaw,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Category = Category(category)
	if err := json.Unmarshal(entriesRaw, &rec.Entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	if err := json.Unmarshal(contributorsRaw, &rec.Contributors); err != nil {
		return nil, fmt.Errorf("decode contributors: %w", err)
	}
	return &rec, nil
}

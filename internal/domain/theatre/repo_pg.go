package theatre

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

const bookingCols = `id, admission_id, theatre, surgeon, procedure_name, anaesthetist,
	starts_at, ends_at, status, cancel_reason, notes, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.AdmissionID, &b.Theatre, &b.Surgeon, &b.Procedure, &b.Anaesthetist,
		&b.StartsAt, &b.EndsAt, &b.Status, &b.CancelReason, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO theatre_booking (id, admission_id, theatre, surgeon, procedure_name,
			anaesthetist, starts_at, ends_at, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		b.ID, b.AdmissionID, b.Theatre, b.Surgeon, b.Procedure,
		b.Anaesthetist, b.StartsAt, b.EndsAt, b.Status, b.Notes).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create theatre booking: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bookingCols+` FROM theatre_booking WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get theatre booking: %w", err)
	}
	return b, nil
}

func (r *repoPG) Update(ctx context.Context, b *Booking) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE theatre_booking
		SET status = $2, cancel_reason = $3, notes = $4, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.Status, b.CancelReason, b.Notes)
	if err != nil {
		return fmt.Errorf("update theatre booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Booking, int, error) {
	var conds []string
	var args []interface{}

	if f.Theatre != "" {
		args = append(args, f.Theatre)
		conds = append(conds, fmt.Sprintf("theatre = $%d", len(args)))
	}
	if f.Surgeon != "" {
		args = append(args, f.Surgeon)
		conds = append(conds, fmt.Sprintf("surgeon = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Day != nil {
		dayStart := time.Date(f.Day.Year(), f.Day.Month(), f.Day.Day(), 0, 0, 0, 0, time.UTC)
		args = append(args, dayStart)
		conds = append(conds, fmt.Sprintf("starts_at >= $%d", len(args)))
		args = append(args, dayStart.Add(24*time.Hour))
		conds = append(conds, fmt.Sprintf("starts_at < $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM theatre_booking`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count theatre bookings: %w", err)
	}

	args = append(args, limit)
	limitIdx := len(args)
	args = append(args, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bookingCols+` FROM theatre_booking`+where+
			fmt.Sprintf(` ORDER BY starts_at ASC LIMIT $%d OFFSET $%d`, limitIdx, limitIdx+1),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list theatre bookings: %w", err)
	}
	defer rows.Close()

	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan theatre booking: %w", err)
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bookingCols+` FROM theatre_booking WHERE admission_id = $1 ORDER BY starts_at ASC`,
		admissionID)
	if err != nil {
		return nil, fmt.Errorf("list admission bookings: %w", err)
	}
	defer rows.Close()

	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theatre booking: %w", err)
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *repoPG) FindOverlapping(ctx context.Context, theatre string, start, end time.Time) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingCols+` FROM theatre_booking
		WHERE theatre = $1 AND status = $2 AND starts_at < $4 AND ends_at > $3
		ORDER BY starts_at ASC`,
		theatre, StatusScheduled, start, end)
	if err != nil {
		return nil, fmt.Errorf("find overlapping bookings: %w", err)
	}
	defer rows.Close()

	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theatre booking: %w", err)
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

package events

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipd/ipd/internal/platform/db"
)

// Outbox stores record events awaiting publication.
type Outbox interface {
	Enqueue(ctx context.Context, ev *RecordEvent) error
	Pending(ctx context.Context, limit, maxRetries int) ([]*RecordEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
	PendingCount(ctx context.Context) (int, error)
	PurgePublished(ctx context.Context, retention time.Duration) (int64, error)
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type outboxPG struct{ pool *pgxpool.Pool }

// NewOutboxPG creates a Postgres-backed Outbox.
func NewOutboxPG(pool *pgxpool.Pool) Outbox {
	return &outboxPG{pool: pool}
}

func (o *outboxPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return o.pool
}

const eventCols = `id, record_id, admission_id, category, action, payload, created_at, published_at, error_message, retry_count`

func scanEvent(row pgx.Row) (*RecordEvent, error) {
	var ev RecordEvent
	err := row.Scan(&ev.ID, &ev.RecordID, &ev.AdmissionID, &ev.Category, &ev.Action,
		&ev.Payload, &ev.CreatedAt, &ev.PublishedAt, &ev.ErrorMessage, &ev.RetryCount)
	return &ev, err
}

// Enqueue inserts the event. When the context carries an open transaction the
// row joins it, committing atomically with the journal write.
func (o *outboxPG) Enqueue(ctx context.Context, ev *RecordEvent) error {
	return o.conn(ctx).QueryRow(ctx, `
		INSERT INTO record_event (record_id, admission_id, category, action, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id, created_at`,
		ev.RecordID, ev.AdmissionID, ev.Category, ev.Action, ev.Payload,
	).Scan(&ev.ID, &ev.CreatedAt)
}

func (o *outboxPG) Pending(ctx context.Context, limit, maxRetries int) ([]*RecordEvent, error) {
	rows, err := o.conn(ctx).Query(ctx, `
		SELECT `+eventCols+`
		FROM record_event
		WHERE published_at IS NULL AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2`,
		maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*RecordEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (o *outboxPG) MarkPublished(ctx context.Context, id int64) error {
	_, err := o.conn(ctx).Exec(ctx, `
		UPDATE record_event
		SET published_at = NOW(), error_message = NULL
		WHERE id = $1`, id)
	return err
}

func (o *outboxPG) MarkFailed(ctx context.Context, id int64, message string) error {
	_, err := o.conn(ctx).Exec(ctx, `
		UPDATE record_event
		SET retry_count = retry_count + 1, error_message = $2
		WHERE id = $1`, id, message)
	return err
}

func (o *outboxPG) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := o.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM record_event WHERE published_at IS NULL`).Scan(&count)
	return count, err
}

// PurgePublished deletes published events older than the retention window.
func (o *outboxPG) PurgePublished(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := o.conn(ctx).Exec(ctx, `
		DELETE FROM record_event
		WHERE published_at IS NOT NULL AND published_at < NOW() - $1::interval`,
		retention.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

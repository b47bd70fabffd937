package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
	defaultMaxRetries   = 5
)

// MetricsRecorder counts relay activity.
type MetricsRecorder interface {
	RecordOutboxPublished(n int)
	RecordOutboxFailure()
}

// Relay drains the outbox and publishes pending events to the broker.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	logger    zerolog.Logger

	pollInterval time.Duration
	batchSize    int
	maxRetries   int
	metrics      MetricsRecorder
}

// NewRelay creates a relay polling every 2 seconds with a batch of 100 and
// up to 5 delivery attempts per event.
func NewRelay(outbox Outbox, publisher Publisher, logger zerolog.Logger) *Relay {
	return &Relay{
		outbox:       outbox,
		publisher:    publisher,
		logger:       logger,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxRetries:   defaultMaxRetries,
	}
}

// SetMetrics attaches an optional metrics recorder.
func (r *Relay) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// SetPollInterval overrides the polling cadence.
func (r *Relay) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

// Start runs the relay loop until the context is canceled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.pollInterval).
		Int("batch_size", r.batchSize).
		Msg("outbox relay started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processPending(ctx); err != nil {
				r.logger.Error().Err(err).Msg("outbox relay pass failed")
			}
		}
	}
}

func (r *Relay) processPending(ctx context.Context) error {
	pending, err := r.outbox.Pending(ctx, r.batchSize, r.maxRetries)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	published := 0
	for _, ev := range pending {
		if err := r.publishOne(ctx, ev); err != nil {
			r.logger.Error().
				Err(err).
				Int64("event_id", ev.ID).
				Str("record_id", ev.RecordID.String()).
				Str("action", ev.Action).
				Msg("failed to publish outbox event")

			if r.metrics != nil {
				r.metrics.RecordOutboxFailure()
			}
			if markErr := r.outbox.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
				r.logger.Error().Err(markErr).Int64("event_id", ev.ID).Msg("failed to mark outbox event failed")
			}
			continue
		}
		published++
	}

	if published > 0 && r.metrics != nil {
		r.metrics.RecordOutboxPublished(published)
	}
	return nil
}

func (r *Relay) publishOne(ctx context.Context, ev *RecordEvent) error {
	// Key by record so a consumer sees one record's events in order.
	if err := r.publisher.Publish(ctx, ev.RecordID.String(), ev.Payload); err != nil {
		return err
	}
	return r.outbox.MarkPublished(ctx, ev.ID)
}

package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipd/ipd/internal/platform/websocket"
)

// Watcher lifecycle states.
const (
	StateUnsubscribed = "unsubscribed"
	StatePolling      = "polling"
	StateSubscribed   = "subscribed"
)

const (
	defaultWatchInterval  = 2 * time.Second
	defaultSnapshotBuffer = 8
)

// Fetcher is the repeated read a watcher performs; Service satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, admissionID uuid.UUID, category Category) (*Record, error)
}

// Subscriber hands out live event channels by topic; the hub satisfies it.
type Subscriber interface {
	SubscribeLocal(topic string, buffer int) (<-chan websocket.Event, func())
}

// WatcherMetrics tracks state transitions.
type WatcherMetrics interface {
	WatcherStateChange(from, to string)
}

// Watcher keeps an in-process consumer supplied with whole-record
// snapshots of one (admission, category) journal. If the record exists it
// subscribes to its change topic immediately; until it exists the watcher
// polls, then upgrades to the subscription. Every change notification
// triggers exactly one re-fetch.
type Watcher struct {
	fetcher     Fetcher
	hub         Subscriber
	admissionID uuid.UUID
	category    Category
	logger      zerolog.Logger

	interval time.Duration
	buffer   int
	metrics  WatcherMetrics

	snapshots chan *Record
	done      chan struct{}

	mu      sync.Mutex
	state   string
	started bool
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher polling every 2 seconds while the record
// does not yet exist. Watchers are single use: Start once, Stop once.
func NewWatcher(fetcher Fetcher, hub Subscriber, admissionID uuid.UUID, category Category, logger zerolog.Logger) *Watcher {
	return &Watcher{
		fetcher:     fetcher,
		hub:         hub,
		admissionID: admissionID,
		category:    category,
		logger:      logger,
		interval:    defaultWatchInterval,
		buffer:      defaultSnapshotBuffer,
		snapshots:   make(chan *Record, defaultSnapshotBuffer),
		done:        make(chan struct{}),
		state:       StateUnsubscribed,
	}
}

// SetInterval overrides the polling cadence. Call before Start.
func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// SetMetrics attaches an optional metrics recorder. Call before Start.
func (w *Watcher) SetMetrics(m WatcherMetrics) {
	w.metrics = m
}

// Snapshots is the stream of whole-record snapshots. The channel closes
// on teardown. A snapshot is dropped when the consumer lags behind the
// buffer; the next change delivers a fresh one.
func (w *Watcher) Snapshots() <-chan *Record {
	return w.snapshots
}

// State reports the current lifecycle state.
func (w *Watcher) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins watching. It returns immediately; snapshots arrive on the
// Snapshots channel until Stop is called or ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("watcher already started")
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return nil
}

// Stop tears the watcher down and waits for the snapshot channel to
// close. Safe to call from any state, any number of times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	started := w.started
	w.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer func() {
		w.setState(StateUnsubscribed)
		close(w.snapshots)
		close(w.done)
	}()

	rec, err := w.fetcher.Fetch(ctx, w.admissionID, w.category)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			w.logger.Warn().Err(err).Msg("watch fetch failed, falling back to polling")
		}
		rec = w.poll(ctx)
		if rec == nil {
			return
		}
	}
	w.deliver(rec)
	w.listen(ctx, rec.ID.String())
}

// poll re-fetches on a ticker until the record exists or ctx ends.
func (w *Watcher) poll(ctx context.Context) *Record {
	w.setState(StatePolling)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rec, err := w.fetcher.Fetch(ctx, w.admissionID, w.category)
			if err == nil {
				return rec
			}
			if !errors.Is(err, ErrNotFound) {
				w.logger.Warn().Err(err).Msg("watch poll fetch failed")
			}
		}
	}
}

// listen upgrades to the record's change topic and re-fetches once per
// received notification, whatever its action.
func (w *Watcher) listen(ctx context.Context, recordID string) {
	events, cancelSub := w.hub.SubscribeLocal(websocket.RecordTopic(recordID), w.buffer)
	defer cancelSub()
	w.setState(StateSubscribed)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			rec, err := w.fetcher.Fetch(ctx, w.admissionID, w.category)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn().Err(err).Msg("watch refetch failed")
				}
				continue
			}
			w.deliver(rec)
		}
	}
}

func (w *Watcher) deliver(rec *Record) {
	select {
	case w.snapshots <- rec:
	default:
		w.logger.Debug().
			Str("record_id", rec.ID.String()).
			Msg("snapshot dropped, consumer lagging")
	}
}

func (w *Watcher) setState(to string) {
	w.mu.Lock()
	from := w.state
	w.state = to
	w.mu.Unlock()
	if from != to && w.metrics != nil {
		w.metrics.WatcherStateChange(from, to)
	}
}

package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipd/ipd/internal/platform/websocket"
)

type stubFetcher struct {
	mu    sync.Mutex
	rec   *Record
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _ uuid.UUID, _ Category) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.rec == nil {
		return nil, ErrNotFound
	}
	return copyRecord(f.rec), nil
}

func (f *stubFetcher) set(rec *Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = rec
}

func (f *stubFetcher) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stateRecorder struct {
	mu    sync.Mutex
	moves []string
}

func (r *stateRecorder) WatcherStateChange(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, from+"->"+to)
}

func (r *stateRecorder) saw(move string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.moves {
		if m == move {
			return true
		}
	}
	return false
}

func (r *stateRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.moves...)
}

func watchedRecord(admissionID uuid.UUID) *Record {
	rec := NewRecord(admissionID, CategoryNurseNote, "IPD-2026-0042")
	rec.Version = 1
	return rec
}

func waitSnapshot(t *testing.T, ch <-chan *Record) *Record {
	t.Helper()
	select {
	case rec, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed unexpectedly")
		}
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

func waitState(t *testing.T, w *Watcher, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watcher never reached state %s, stuck at %s", want, w.State())
}

func drainUntilClosed(t *testing.T, ch <-chan *Record) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("snapshot channel never closed")
		}
	}
}

func TestWatcher_SubscribesWhenRecordExists(t *testing.T) {
	hub := websocket.NewHub()
	fetcher := &stubFetcher{}
	admissionID := uuid.New()
	rec := watchedRecord(admissionID)
	fetcher.set(rec)

	w := NewWatcher(fetcher, hub, admissionID, CategoryNurseNote, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	first := waitSnapshot(t, w.Snapshots())
	if first.ID != rec.ID {
		t.Fatalf("expected snapshot of %s, got %s", rec.ID, first.ID)
	}
	waitState(t, w, StateSubscribed)

	hub.Broadcast(websocket.RecordTopic(rec.ID.String()), websocket.Event{
		Type:     "journal",
		Topic:    websocket.RecordTopic(rec.ID.String()),
		Action:   "entry_appended",
		RecordID: rec.ID.String(),
	})
	second := waitSnapshot(t, w.Snapshots())
	if second.ID != rec.ID {
		t.Fatalf("expected refetched snapshot of %s, got %s", rec.ID, second.ID)
	}
}

func TestWatcher_PollsUntilRecordExists(t *testing.T) {
	hub := websocket.NewHub()
	fetcher := &stubFetcher{}
	admissionID := uuid.New()

	w := NewWatcher(fetcher, hub, admissionID, CategoryNurseNote, zerolog.Nop())
	w.SetInterval(10 * time.Millisecond)
	metrics := &stateRecorder{}
	w.SetMetrics(metrics)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitState(t, w, StatePolling)
	fetcher.set(watchedRecord(admissionID))

	snap := waitSnapshot(t, w.Snapshots())
	if snap.AdmissionID != admissionID {
		t.Fatalf("expected snapshot for %s, got %s", admissionID, snap.AdmissionID)
	}
	waitState(t, w, StateSubscribed)

	if !metrics.saw(StateUnsubscribed + "->" + StatePolling) {
		t.Fatalf("missing polling transition, saw %v", metrics.all())
	}
	if !metrics.saw(StatePolling + "->" + StateSubscribed) {
		t.Fatalf("missing upgrade transition, saw %v", metrics.all())
	}
}

func TestWatcher_OneRefetchPerNotification(t *testing.T) {
	hub := websocket.NewHub()
	fetcher := &stubFetcher{}
	admissionID := uuid.New()
	rec := watchedRecord(admissionID)
	fetcher.set(rec)

	w := NewWatcher(fetcher, hub, admissionID, CategoryNurseNote, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	waitSnapshot(t, w.Snapshots())
	waitState(t, w, StateSubscribed)
	base := fetcher.fetches()

	for i := 0; i < 3; i++ {
		hub.Broadcast(websocket.RecordTopic(rec.ID.String()), websocket.Event{
			Type:     "journal",
			Topic:    websocket.RecordTopic(rec.ID.String()),
			Action:   "entry_appended",
			RecordID: rec.ID.String(),
		})
		waitSnapshot(t, w.Snapshots())
	}

	if got := fetcher.fetches(); got != base+3 {
		t.Fatalf("expected %d fetches after 3 notifications, got %d", base+3, got)
	}
}

func TestWatcher_StopTearsDown(t *testing.T) {
	hub := websocket.NewHub()
	fetcher := &stubFetcher{}
	admissionID := uuid.New()
	fetcher.set(watchedRecord(admissionID))

	w := NewWatcher(fetcher, hub, admissionID, CategoryNurseNote, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitSnapshot(t, w.Snapshots())

	w.Stop()
	drainUntilClosed(t, w.Snapshots())
	if w.State() != StateUnsubscribed {
		t.Fatalf("expected unsubscribed after stop, got %s", w.State())
	}
	w.Stop() // second stop must not panic or block
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	w := NewWatcher(&stubFetcher{}, websocket.NewHub(), uuid.New(), CategoryNurseNote, zerolog.Nop())
	w.Stop()
	if w.State() != StateUnsubscribed {
		t.Fatalf("expected unsubscribed, got %s", w.State())
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	fetcher := &stubFetcher{}
	admissionID := uuid.New()
	fetcher.set(watchedRecord(admissionID))

	w := NewWatcher(fetcher, websocket.NewHub(), admissionID, CategoryNurseNote, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
}

func TestWatcher_ContextCancelTearsDown(t *testing.T) {
	hub := websocket.NewHub()
	fetcher := &stubFetcher{}
	admissionID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(fetcher, hub, admissionID, CategoryNurseNote, zerolog.Nop())
	w.SetInterval(10 * time.Millisecond)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitState(t, w, StatePolling)

	cancel()
	drainUntilClosed(t, w.Snapshots())
	if w.State() != StateUnsubscribed {
		t.Fatalf("expected unsubscribed after cancel, got %s", w.State())
	}
}

package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipd/ipd/internal/platform/auth"
	"github.com/ipd/ipd/internal/platform/docgen"
	"github.com/ipd/ipd/internal/platform/events"
	"github.com/ipd/ipd/internal/platform/notification"
	"github.com/ipd/ipd/internal/platform/websocket"
)

// How many times a mutation re-reads and re-applies after a version
// conflict before giving up with ErrConflict.
const maxUpsertRetries = 3

// AdmissionDirectory resolves an admission id to the patient's stable
// identifier. Implementations return ErrReferenceNotFound when the
// admission does not exist.
type AdmissionDirectory interface {
	ResolveCrossReference(ctx context.Context, admissionID uuid.UUID) (string, error)
}

// DirectoryFunc adapts a function to AdmissionDirectory.
type DirectoryFunc func(ctx context.Context, admissionID uuid.UUID) (string, error)

func (f DirectoryFunc) ResolveCrossReference(ctx context.Context, admissionID uuid.UUID) (string, error) {
	return f(ctx, admissionID)
}

// TxRunner opens the transaction boundary a mutation's writes run inside.
// The default runs the function directly; main wires db.RunInTx so the
// record upsert and its outbox row commit together.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// EventSink takes the outbox row recorded alongside each mutation.
type EventSink interface {
	Enqueue(ctx context.Context, ev *events.RecordEvent) error
}

// Notifier delivers fire-and-forget outcome notices to the acting user.
type Notifier interface {
	NotifyFromTemplate(ctx context.Context, actorID, templateID string, data map[string]string) (*notification.Notice, error)
}

// MetricsRecorder counts journal activity.
type MetricsRecorder interface {
	RecordJournalOp(category, operation string)
	RecordVersionConflict()
}

// Service is the journal mutator: every append, soft-delete, edit and
// signature flows through it, preserving the record invariants and hiding
// the read-modify-write mechanics behind the version-checked upsert.
type Service struct {
	repo      Repository
	directory AdmissionDirectory
	logger    zerolog.Logger

	runTx   TxRunner
	outbox  EventSink
	hub     websocket.EventPublisher
	notices Notifier
	metrics MetricsRecorder
}

func NewService(repo Repository, directory AdmissionDirectory) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		logger:    zerolog.Nop(),
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
}

// SetLogger attaches a logger for advisory-path failures.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// SetTxRunner replaces the transaction boundary mutations run inside.
func (s *Service) SetTxRunner(r TxRunner) {
	s.runTx = r
}

// SetEvents attaches the outbox and the live hub. Either may be nil.
func (s *Service) SetEvents(outbox EventSink, hub websocket.EventPublisher) {
	s.outbox = outbox
	s.hub = hub
}

// SetNotices attaches an optional notice sink.
func (s *Service) SetNotices(n Notifier) {
	s.notices = n
}

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Append validates the payload, stamps a fresh entry with the acting user
// and the current time, and lands it on the (admission, category) record,
// creating the record on first write.
func (s *Service) Append(ctx context.Context, admissionID uuid.UUID, category Category, payload json.RawMessage) (*Entry, error) {
	if err := validatePayload(category, payload); err != nil {
		return nil, s.fail(ctx, category, err)
	}
	crossRef, err := s.directory.ResolveCrossReference(ctx, admissionID)
	if err != nil {
		if !errors.Is(err, ErrReferenceNotFound) {
			err = storageFailure("resolve cross reference", err)
		}
		return nil, s.fail(ctx, category, err)
	}

	actor := auth.ActorFromContext(ctx)
	entry := Entry{
		ID:        uuid.NewString(),
		Payload:   payload,
		AuthorID:  actor,
		CreatedAt: time.Now().UTC(),
	}

	rec, created, err := s.mutate(ctx, admissionID, category, mutation{
		crossRef:      crossRef,
		createMissing: true,
		action:        events.ActionEntryAppended,
		apply: func(rec *Record) error {
			rec.Entries = append(rec.Entries, entry)
			rec.AddContributor(actor)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(ctx, category, err)
	}

	action := events.ActionEntryAppended
	if created {
		action = events.ActionRecordCreated
	}
	s.succeed(ctx, rec, action, "append", "entry-saved", map[string]string{
		"category":     category.String(),
		"patient_name": rec.CrossRefID,
	})
	return rec.FindEntry(entry.ID), nil
}

// SoftDelete sets the delete marker on an entry. Re-deleting an already
// deleted entry overwrites the marker and succeeds; the entry never
// leaves the sequence.
func (s *Service) SoftDelete(ctx context.Context, admissionID uuid.UUID, category Category, entryID string) (*Entry, error) {
	if !category.Valid() {
		return nil, s.fail(ctx, category, fmt.Errorf("%w: unknown category %q", ErrValidation, category))
	}

	actor := auth.ActorFromContext(ctx)
	rec, _, err := s.mutate(ctx, admissionID, category, mutation{
		action: events.ActionEntryDeleted,
		apply: func(rec *Record) error {
			e := rec.FindEntry(entryID)
			if e == nil {
				return ErrNotFound
			}
			now := time.Now().UTC()
			e.DeletedBy = &actor
			e.DeletedAt = &now
			rec.AddContributor(actor)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(ctx, category, err)
	}

	s.succeed(ctx, rec, events.ActionEntryDeleted, "soft_delete", "entry-deleted", map[string]string{
		"category":     category.String(),
		"patient_name": rec.CrossRefID,
	})
	return rec.FindEntry(entryID), nil
}

// Edit replaces a drug-chart entry's payload (and status when supplied),
// filing the pre-edit payload and status into the entry's edit history
// first so every change stays auditable.
func (s *Service) Edit(ctx context.Context, admissionID uuid.UUID, category Category, entryID string, newPayload json.RawMessage, newStatus string) (*Entry, error) {
	if !category.SupportsEditing() {
		return nil, s.fail(ctx, category, fmt.Errorf("%w: category %q does not support editing", ErrValidation, category))
	}
	if err := validatePayload(category, newPayload); err != nil {
		return nil, s.fail(ctx, category, err)
	}

	actor := auth.ActorFromContext(ctx)
	rec, _, err := s.mutate(ctx, admissionID, category, mutation{
		action: events.ActionEntryEdited,
		apply: func(rec *Record) error {
			e := rec.FindEntry(entryID)
			if e == nil {
				return ErrNotFound
			}
			e.EditHistory = append(e.EditHistory, EditRevision{
				Payload:  e.Payload,
				Status:   e.Status,
				EditedBy: actor,
				EditedAt: time.Now().UTC(),
			})
			e.Payload = newPayload
			if newStatus != "" {
				e.Status = newStatus
			}
			rec.AddContributor(actor)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(ctx, category, err)
	}

	s.succeed(ctx, rec, events.ActionEntryEdited, "edit", "entry-updated", map[string]string{
		"category":     category.String(),
		"patient_name": rec.CrossRefID,
	})
	return rec.FindEntry(entryID), nil
}

// Sign appends an (actor, time) attestation to a drug-chart entry.
func (s *Service) Sign(ctx context.Context, admissionID uuid.UUID, category Category, entryID string) (*Entry, error) {
	if !category.SupportsEditing() {
		return nil, s.fail(ctx, category, fmt.Errorf("%w: category %q does not support signatures", ErrValidation, category))
	}

	actor := auth.ActorFromContext(ctx)
	rec, _, err := s.mutate(ctx, admissionID, category, mutation{
		action: events.ActionEntrySigned,
		apply: func(rec *Record) error {
			e := rec.FindEntry(entryID)
			if e == nil {
				return ErrNotFound
			}
			e.Signatures = append(e.Signatures, Signature{
				SignedBy: actor,
				SignedAt: time.Now().UTC(),
			})
			rec.AddContributor(actor)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(ctx, category, err)
	}

	s.succeed(ctx, rec, events.ActionEntrySigned, "sign", "entry-signed", map[string]string{
		"signer": actor,
	})
	return rec.FindEntry(entryID), nil
}

// Fetch returns the record, ErrNotFound when no entry has ever been
// appended for the pair, or a wrapped storage failure.
func (s *Service) Fetch(ctx context.Context, admissionID uuid.UUID, category Category) (*Record, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	rec, err := s.repo.Fetch(ctx, admissionID, category)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageFailure("fetch journal record", err)
	}
	return rec, nil
}

// ListByAdmission returns every category record the admission has, for
// the journal overview.
func (s *Service) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Record, error) {
	recs, err := s.repo.ListByAdmission(ctx, admissionID)
	if err != nil {
		return nil, storageFailure("list journal records", err)
	}
	return recs, nil
}

// SummaryEntries flattens the admission's active entries in the given
// categories into discharge-summary lines, oldest first.
func (s *Service) SummaryEntries(ctx context.Context, admissionID uuid.UUID, categories []string) ([]docgen.SummaryEntry, error) {
	recs, err := s.repo.ListByAdmission(ctx, admissionID)
	if err != nil {
		return nil, storageFailure("list journal records", err)
	}

	want := make(map[Category]bool, len(categories))
	for _, c := range categories {
		want[Category(strings.TrimSpace(c))] = true
	}

	var out []docgen.SummaryEntry
	for _, rec := range recs {
		if !want[rec.Category] {
			continue
		}
		for _, e := range rec.ActiveEntries(SortAsc) {
			out = append(out, docgen.SummaryEntry{
				Category:  rec.Category.String(),
				Author:    e.AuthorID,
				CreatedAt: e.CreatedAt,
				Text:      summaryText(e.Payload),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type mutation struct {
	crossRef      string
	createMissing bool
	action        string
	apply         func(rec *Record) error
}

// mutate runs fetch -> apply -> upsert rounds until the compare-and-swap
// lands, re-reading a fresh snapshot after every conflict. The outbox row
// is enqueued inside the same transaction as the upsert.
func (s *Service) mutate(ctx context.Context, admissionID uuid.UUID, category Category, m mutation) (*Record, bool, error) {
	for attempt := 0; attempt < maxUpsertRetries; attempt++ {
		rec, err := s.repo.Fetch(ctx, admissionID, category)
		created := false
		switch {
		case errors.Is(err, ErrNotFound):
			if !m.createMissing {
				return nil, false, ErrNotFound
			}
			rec = NewRecord(admissionID, category, m.crossRef)
			created = true
		case err != nil:
			return nil, false, storageFailure("fetch journal record", err)
		}

		if err := m.apply(rec); err != nil {
			return nil, false, err
		}

		action := m.action
		if created {
			action = events.ActionRecordCreated
		}
		err = s.runTx(ctx, func(ctx context.Context) error {
			if err := s.repo.Upsert(ctx, rec); err != nil {
				return err
			}
			return s.enqueue(ctx, rec, action)
		})
		if err == nil {
			return rec, created, nil
		}
		if errors.Is(err, ErrConflict) {
			if s.metrics != nil {
				s.metrics.RecordVersionConflict()
			}
			s.logger.Debug().
				Str("admission_id", admissionID.String()).
				Str("category", category.String()).
				Int("attempt", attempt+1).
				Msg("journal upsert conflicted, retrying")
			continue
		}
		return nil, false, storageFailure("upsert journal record", err)
	}
	return nil, false, fmt.Errorf("%w: retries exhausted for %s/%s", ErrConflict, admissionID, category)
}

func (s *Service) enqueue(ctx context.Context, rec *Record, action string) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"recordId":    rec.ID.String(),
		"admissionId": rec.AdmissionID.String(),
		"category":    rec.Category.String(),
		"action":      action,
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return s.outbox.Enqueue(ctx, &events.RecordEvent{
		RecordID:    rec.ID,
		AdmissionID: rec.AdmissionID,
		Category:    rec.Category.String(),
		Action:      action,
		Payload:     payload,
	})
}

// succeed runs the advisory tail of a successful mutation: the operation
// counter, the live hub events, and the actor's success notice.
func (s *Service) succeed(ctx context.Context, rec *Record, action, op, templateID string, data map[string]string) {
	if s.metrics != nil {
		s.metrics.RecordJournalOp(rec.Category.String(), op)
	}
	s.publish(ctx, rec, action)
	s.notify(ctx, templateID, data)
}

// fail emits the operation's error notice and hands the error back.
func (s *Service) fail(ctx context.Context, category Category, err error) error {
	s.notify(ctx, "entry-save-failed", map[string]string{
		"category": category.String(),
		"reason":   err.Error(),
	})
	return err
}

// publish pushes the change to the record topic and the admission topic.
// Events carry identifiers only; subscribers re-fetch the record.
func (s *Service) publish(ctx context.Context, rec *Record, action string) {
	if s.hub == nil {
		return
	}
	ev := websocket.Event{
		Type:        "journal",
		Action:      action,
		RecordID:    rec.ID.String(),
		AdmissionID: rec.AdmissionID.String(),
		Category:    rec.Category.String(),
		Timestamp:   time.Now().UTC(),
	}
	ev.Topic = websocket.RecordTopic(ev.RecordID)
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("event publish failed")
	}
	ev.Topic = websocket.AdmissionTopic(ev.AdmissionID)
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("event publish failed")
	}
}

func (s *Service) notify(ctx context.Context, templateID string, data map[string]string) {
	if s.notices == nil {
		return
	}
	actor := auth.ActorFromContext(ctx)
	if actor == auth.ActorUnknown {
		return
	}
	if _, err := s.notices.NotifyFromTemplate(ctx, actor, templateID, data); err != nil {
		s.logger.Warn().Err(err).Str("template", templateID).Msg("notice delivery failed")
	}
}

// validatePayload enforces the only local payload constraints: a non-empty
// JSON object, and for the drug chart a non-empty drug_name field.
func validatePayload(category Category, payload json.RawMessage) error {
	if !category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%w: payload must be a JSON object", ErrValidation)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: payload must not be empty", ErrValidation)
	}
	if category == CategoryDrugChart {
		if name, _ := fields["drug_name"].(string); name == "" {
			return fmt.Errorf("%w: drug_name is required", ErrValidation)
		}
	}
	return nil
}

// summaryText pulls a printable line out of an opaque payload, preferring
// the free-text keys the journal tabs use.
func summaryText(payload json.RawMessage) string {
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		return ""
	}
	for _, key := range []string{"note", "text", "summary", "observation", "finding"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

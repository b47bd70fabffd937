package journal

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EditRevision is one element of a drug-chart entry's edit history: the
// payload and status exactly as they stood before the edit, plus who
// edited and when.
type EditRevision struct {
	Payload  json.RawMessage `json:"payload"`
	Status   string          `json:"status,omitempty"`
	EditedBy string          `json:"editedBy"`
	EditedAt time.Time       `json:"editedAt"`
}

// Signature is one (actor, time) attestation on a drug-chart entry.
type Signature struct {
	SignedBy string    `json:"signedBy"`
	SignedAt time.Time `json:"signedAt"`
}

// Entry is one fact in a record's sequence. The payload is immutable once
// appended except through Edit, which files the prior payload into
// EditHistory first. "Deleting" an entry only sets the marker pair; the
// entry never leaves the sequence.
type Entry struct {
	ID          string          `json:"entryId"`
	Payload     json.RawMessage `json:"payload"`
	AuthorID    string          `json:"authorId"`
	CreatedAt   time.Time       `json:"createdAt"`
	DeletedBy   *string         `json:"deletedBy,omitempty"`
	DeletedAt   *time.Time      `json:"deletedAt,omitempty"`
	Status      string          `json:"status,omitempty"`
	EditHistory []EditRevision  `json:"editHistory,omitempty"`
	Signatures  []Signature     `json:"signatures,omitempty"`
}

// Deleted reports whether the soft-delete marker is set.
func (e *Entry) Deleted() bool {
	return e.DeletedAt != nil
}

// Record is the single journal row for one (admission, category) pair.
// Entries and contributors live as JSON inside the row; Version backs the
// compare-and-swap upsert.
type Record struct {
	ID           uuid.UUID `json:"recordId"`
	AdmissionID  uuid.UUID `json:"admissionId"`
	Category     Category  `json:"category"`
	CrossRefID   string    `json:"crossRefId"`
	Entries      []Entry   `json:"entries"`
	Contributors []string  `json:"contributors"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewRecord starts an empty record for a first append. The id is assigned
// here; storage keeps it only if this writer wins the first insert.
func NewRecord(admissionID uuid.UUID, category Category, crossRefID string) *Record {
	return &Record{
		ID:          uuid.New(),
		AdmissionID: admissionID,
		Category:    category,
		CrossRefID:  crossRefID,
	}
}

// FindEntry returns the entry with the given id, or nil.
func (r *Record) FindEntry(entryID string) *Entry {
	for i := range r.Entries {
		if r.Entries[i].ID == entryID {
			return &r.Entries[i]
		}
	}
	return nil
}

// AddContributor records the actor in the contributor set if absent.
func (r *Record) AddContributor(actorID string) {
	for _, c := range r.Contributors {
		if c == actorID {
			return
		}
	}
	r.Contributors = append(r.Contributors, actorID)
}

// Sort orders for the entry projections.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// ActiveEntries returns the entries whose delete marker is unset, ordered
// by creation time. It never touches storage.
func (r *Record) ActiveEntries(order string) []Entry {
	return filterEntries(r.Entries, false, order)
}

// DeletedEntries returns the soft-deleted entries, ordered by creation
// time. It never touches storage.
func (r *Record) DeletedEntries(order string) []Entry {
	return filterEntries(r.Entries, true, order)
}

func filterEntries(entries []Entry, deleted bool, order string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Deleted() == deleted {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == SortDesc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

package journal

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewRecord(t *testing.T) {
	admissionID := uuid.New()
	rec := NewRecord(admissionID, CategoryNurseNote, "IPD-2026-0042")

	if rec.ID == uuid.Nil {
		t.Fatal("expected record id to be assigned")
	}
	if rec.AdmissionID != admissionID {
		t.Fatal("admission id not carried")
	}
	if rec.Version != 0 {
		t.Fatalf("fresh record must start at version 0, got %d", rec.Version)
	}
	if len(rec.Entries) != 0 {
		t.Fatal("fresh record must have no entries")
	}
}

func TestFindEntryReturnsLiveReference(t *testing.T) {
	rec := NewRecord(uuid.New(), CategoryNurseNote, "ref")
	rec.Entries = append(rec.Entries, Entry{ID: "e1"}, Entry{ID: "e2"})

	e := rec.FindEntry("e2")
	if e == nil {
		t.Fatal("expected to find e2")
	}
	e.Status = "changed"
	if rec.Entries[1].Status != "changed" {
		t.Fatal("FindEntry must return a pointer into the record")
	}
	if rec.FindEntry("missing") != nil {
		t.Fatal("expected nil for unknown entry")
	}
}

func TestAddContributorSetSemantics(t *testing.T) {
	rec := NewRecord(uuid.New(), CategoryNurseNote, "ref")
	rec.AddContributor("nurse-meena")
	rec.AddContributor("dr-rao")
	rec.AddContributor("nurse-meena")

	if len(rec.Contributors) != 2 {
		t.Fatalf("expected 2 contributors, got %v", rec.Contributors)
	}
}

func TestEntryProjections(t *testing.T) {
	now := time.Now().UTC()
	deletedBy := "dr-rao"
	deletedAt := now.Add(time.Hour)
	rec := NewRecord(uuid.New(), CategoryNurseNote, "ref")
	rec.Entries = []Entry{
		{ID: "old", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "gone", CreatedAt: now.Add(-time.Hour), DeletedBy: &deletedBy, DeletedAt: &deletedAt},
		{ID: "new", CreatedAt: now},
	}

	active := rec.ActiveEntries(SortAsc)
	if len(active) != 2 || active[0].ID != "old" || active[1].ID != "new" {
		t.Fatalf("unexpected active ascending view: %v", active)
	}
	desc := rec.ActiveEntries(SortDesc)
	if desc[0].ID != "new" {
		t.Fatalf("expected newest first, got %s", desc[0].ID)
	}
	removed := rec.DeletedEntries(SortAsc)
	if len(removed) != 1 || removed[0].ID != "gone" {
		t.Fatalf("unexpected deleted view: %v", removed)
	}
	if !removed[0].Deleted() {
		t.Fatal("entry with a marker must report deleted")
	}
}

package cache

import (
	"path/filepath"
	"testing"

	"github.com/kanzleidev/portaltracker/internal/tracker"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return c
}

func TestSaveLoadRoundtrip(t *testing.T) {
	c := openTestCache(t)

	rows := []tracker.Row{
		{
			ID: "a", Position: 0, CaseRef: "AZ-1", Name: "Max Mustermann",
			ContactURL: "https://dir/agent/users/1", Typ: "PKH", Batch: "1",
			Monat: "September", Rate: "150", Portal: "Ja",
			DatumPortal: "2026-09-01", Email: "Ja", DatumEmail: "2026-09-02",
			Docs: "Ja", Reminder: "Nein", Tel: "+49 30 1234",
			Status: tracker.StatusOffen, Bemerkung: "Rückruf",
		},
		{ID: "b", Position: 1, CaseRef: "AZ-2", Status: tracker.StatusAbgeschlossen},
	}
	if err := c.Save(rows); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := c.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d rows, want 2", len(loaded))
	}
	if loaded[0] != rows[0] {
		t.Errorf("row 0 roundtrip mismatch:\n got %+v\nwant %+v", loaded[0], rows[0])
	}
	if loaded[1] != rows[1] {
		t.Errorf("row 1 roundtrip mismatch:\n got %+v\nwant %+v", loaded[1], rows[1])
	}
}

func TestSaveReplacesPreviousContents(t *testing.T) {
	c := openTestCache(t)

	if err := c.Save([]tracker.Row{{ID: "old1"}, {ID: "old2"}, {ID: "old3"}}); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := c.Save([]tracker.Row{{ID: "new1"}}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := c.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "new1" {
		t.Errorf("loaded %+v, want only new1", loaded)
	}
}

func TestLoadOrdersByPosition(t *testing.T) {
	c := openTestCache(t)

	// Save writes positions from slice order, so load returns that order.
	if err := c.Save([]tracker.Row{{ID: "first"}, {ID: "second"}, {ID: "third"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := c.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if loaded[i].ID != id {
			t.Errorf("row %d = %s, want %s", i, loaded[i].ID, id)
		}
		if loaded[i].Position != i {
			t.Errorf("row %d position = %d, want %d", i, loaded[i].Position, i)
		}
	}
}

func TestLoadEmptyCache(t *testing.T) {
	c := openTestCache(t)

	loaded, err := c.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("fresh cache returned %d rows", len(loaded))
	}
}

func TestSaveEmptySequence(t *testing.T) {
	c := openTestCache(t)

	if err := c.Save([]tracker.Row{{ID: "a"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := c.Save(nil); err != nil {
		t.Fatalf("Save(nil) failed: %v", err)
	}

	loaded, err := c.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("cache not cleared: %d rows", len(loaded))
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "cache.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	if c.Path() != path {
		t.Errorf("Path() = %q, want %q", c.Path(), path)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := c1.Save([]tracker.Row{{ID: "persisted"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening must not wipe the schema or the data.
	c2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer c2.Close()

	loaded, err := c2.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "persisted" {
		t.Errorf("data lost across reopen: %+v", loaded)
	}
}

func TestCloseTwice(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

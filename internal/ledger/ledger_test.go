package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/callout/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err := s.Open(); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string) models.NotificationRecord {
	return models.NotificationRecord{
		EventID:    id,
		NotifiedAt: time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC),
		Severity:   "Critical",
		Hostname:   "db-core-01",
		Problem:    "High CPU usage",
	}
}

func TestLoadMissingStoreIsEmpty(t *testing.T) {
	s := testStore(t)
	got := s.Load(context.Background())
	if len(got) != 0 {
		t.Errorf("fresh store should load empty, got %d records", len(got))
	}
}

func TestSaveThenLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := map[string]models.NotificationRecord{
		"1001": record("1001"),
		"1002": record("1002"),
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := s.Load(ctx)
	if len(got) != 2 {
		t.Fatalf("loaded %d records, want 2", len(got))
	}
	rec, ok := got["1001"]
	if !ok {
		t.Fatal("record 1001 missing after load")
	}
	if rec.Severity != "Critical" || rec.Hostname != "db-core-01" {
		t.Errorf("record fields lost: %+v", rec)
	}
	if !rec.NotifiedAt.Equal(record("1001").NotifiedAt) {
		t.Errorf("notified_at = %s, want %s", rec.NotifiedAt, record("1001").NotifiedAt)
	}
}

// save(load()) must not alter persisted content.
func TestLoadSaveRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := map[string]models.NotificationRecord{
		"2001": record("2001"),
		"2002": record("2002"),
		"2003": record("2003"),
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := s.Load(ctx)
	if err := s.Save(ctx, loaded); err != nil {
		t.Fatalf("second save: %v", err)
	}

	again := s.Load(ctx)
	if len(again) != len(in) {
		t.Fatalf("round trip changed record count: %d -> %d", len(in), len(again))
	}
	for id, want := range in {
		got, ok := again[id]
		if !ok {
			t.Fatalf("record %s lost in round trip", id)
		}
		if got.Severity != want.Severity || got.Hostname != want.Hostname ||
			got.Problem != want.Problem || !got.NotifiedAt.Equal(want.NotifiedAt) {
			t.Errorf("record %s changed in round trip: got %+v, want %+v", id, got, want)
		}
	}
}

func TestSaveIsFullRewrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, map[string]models.NotificationRecord{"1": record("1"), "2": record("2")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, map[string]models.NotificationRecord{"3": record("3")}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := s.Load(ctx)
	if len(got) != 1 {
		t.Fatalf("rewrite should leave exactly the saved set, got %d records", len(got))
	}
	if _, ok := got["3"]; !ok {
		t.Error("record 3 missing after rewrite")
	}
}

func TestOpenCorruptStoreStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path)
	if err := s.Open(); err != nil {
		t.Fatalf("Open on a corrupt store must recover, got: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	got := s.Load(ctx)
	if len(got) != 0 {
		t.Errorf("corrupt store should load empty, got %d records", len(got))
	}

	// The bad file is set aside, not silently destroyed.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	quarantined := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ledger.db.corrupt-") {
			quarantined = true
		}
	}
	if !quarantined {
		t.Error("expected the corrupt file to be quarantined alongside the new store")
	}

	// The recovered store is fully usable.
	if err := s.Save(ctx, map[string]models.NotificationRecord{"1": record("1")}); err != nil {
		t.Fatalf("save after recovery: %v", err)
	}
	if got := s.Load(ctx); len(got) != 1 {
		t.Errorf("expected 1 record after recovery save, got %d", len(got))
	}
}

func TestLenMatchesPersisted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if n := s.Len(ctx); n != 0 {
		t.Errorf("empty store Len = %d", n)
	}
	if err := s.Save(ctx, map[string]models.NotificationRecord{"1": record("1"), "2": record("2")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if n := s.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

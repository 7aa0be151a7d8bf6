package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/catalog/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testCatalog(name string) *engine.Catalog {
	return &engine.Catalog{
		Name:        name,
		Version:     "1700000000",
		Environment: "production",
		Classes:     []string{"base", "web"},
		Resources: []engine.Resource{
			{Type: "file", Title: "/etc/motd", Parameters: map[string]interface{}{"content": "hello"}},
			{
				Type:     "exec",
				Title:    "reload",
				Requires: []engine.ResourceRef{{Type: "file", Title: "/etc/motd"}},
			},
		},
		CompiledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests that migrations are idempotent
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration run should be a no-op: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCatalogCRUD(t *testing.T) {
	store := setupTestStore(t)
	catalogs := store.Catalogs()
	ctx := context.Background()

	if _, err := catalogs.Get(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	want := testCatalog("web-1")
	if err := catalogs.Put(ctx, "web-1", want); err != nil {
		t.Fatalf("failed to put catalog: %v", err)
	}

	got, err := catalogs.Get(ctx, "web-1")
	if err != nil {
		t.Fatalf("failed to get catalog: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}

	want.Version = "1700000001"
	if err := catalogs.Put(ctx, "web-1", want); err != nil {
		t.Fatalf("failed to replace catalog: %v", err)
	}
	got, _ = catalogs.Get(ctx, "web-1")
	if got.Version != "1700000001" {
		t.Errorf("expected replaced version, got %s", got.Version)
	}

	_ = catalogs.Put(ctx, "db-1", testCatalog("db-1"))
	keys, err := catalogs.Keys(ctx)
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	if diff := cmp.Diff([]string{"db-1", "web-1"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	if err := catalogs.Delete(ctx, "web-1"); err != nil {
		t.Fatalf("failed to delete catalog: %v", err)
	}
	if _, err := catalogs.Get(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
	if err := catalogs.Delete(ctx, "web-1"); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
}

func TestFactsCRUD(t *testing.T) {
	store := setupTestStore(t)
	facts := store.Facts()
	ctx := context.Background()

	in := &engine.Facts{
		Name:      "web-1",
		Values:    map[string]interface{}{"os": "linux", "cpus": float64(4)},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := facts.Put(ctx, "web-1", in); err != nil {
		t.Fatalf("failed to put facts: %v", err)
	}

	out, err := facts.Get(ctx, "web-1")
	if err != nil {
		t.Fatalf("failed to get facts: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
}

func TestFactsExpire(t *testing.T) {
	store := setupTestStore(t)
	store.cfg.FactsTTL = time.Nanosecond
	ctx := context.Background()

	if err := store.UpsertFacts(ctx, "web-1", &engine.Facts{Name: "web-1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("failed to upsert facts: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if _, err := store.GetFacts(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired facts to be not found, got: %v", err)
	}

	n, err := store.DeleteExpiredFacts(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected 1 expired row deleted, got %d (%v)", n, err)
	}
}

func TestReportHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.LastReport(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	older := &engine.Report{
		ID:        "r1",
		Host:      "web-1",
		Status:    engine.ReportStatusChanged,
		StartedAt: time.Now().Add(-time.Hour),
		Events: []engine.Event{
			{Resource: "file[a]", Status: engine.EventStatusApplied},
		},
	}
	newer := &engine.Report{
		ID:        "r2",
		Host:      "web-1",
		Status:    engine.ReportStatusFailed,
		Noop:      true,
		StartedAt: time.Now(),
		Events: []engine.Event{
			{Resource: "file[a]", Status: engine.EventStatusFailed, Message: "boom"},
			{Resource: "file[b]", Status: engine.EventStatusSkipped},
		},
	}
	for _, r := range []*engine.Report{older, newer} {
		if err := store.SaveReport(ctx, r); err != nil {
			t.Fatalf("failed to save report: %v", err)
		}
	}

	last, err := store.LastReport(ctx, "web-1")
	if err != nil {
		t.Fatalf("failed to get last report: %v", err)
	}
	if last.ID != "r2" || len(last.Events) != 2 {
		t.Errorf("expected newest report r2 with 2 events, got %s with %d", last.ID, len(last.Events))
	}

	summaries, err := store.ListReports(ctx, "web-1", 10)
	if err != nil {
		t.Fatalf("failed to list reports: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ID != "r2" || !summaries[0].Noop {
		t.Errorf("unexpected summaries: %+v", summaries)
	}

	counts, err := store.CountEventsByStatus(ctx)
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	want := map[engine.EventStatus]int{
		engine.EventStatusApplied: 1,
		engine.EventStatusFailed:  1,
		engine.EventStatusSkipped: 1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	if err := store.SaveReport(ctx, older); err == nil {
		t.Error("expected duplicate report id to fail")
	}
}

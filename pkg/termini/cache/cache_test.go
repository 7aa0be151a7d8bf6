package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/rs/zerolog"
)

func testCatalog(name string) *engine.Catalog {
	return &engine.Catalog{
		Name:        name,
		Version:     "7",
		Environment: "production",
		Resources: []engine.Resource{
			{Type: "notify", Title: "hello", Parameters: map[string]interface{}{"message": "hi"}},
		},
		CompiledAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func yamlTerminus(t *testing.T) *Terminus[*engine.Catalog] {
	t.Helper()
	store, err := stores.NewYAMLStore[*engine.Catalog](filepath.Join(t.TempDir(), "catalog"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return New[*engine.Catalog]("", store, zerolog.Nop())
}

func sqliteTerminus(t *testing.T) *Terminus[*engine.Catalog] {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New("sqlite", store.Catalogs(), zerolog.Nop())
}

func TestTerminus_Lifecycle(t *testing.T) {
	backends := map[string]func(*testing.T) *Terminus[*engine.Catalog]{
		"yaml":   yamlTerminus,
		"sqlite": sqliteTerminus,
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			term := build(t)
			ctx := context.Background()

			if _, err := term.Find(ctx, "web-1", nil); !engine.IsNotFound(err) {
				t.Fatalf("expected not found before save, got: %v", err)
			}

			if err := term.Save(ctx, "web-1", testCatalog("web-1")); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			got, err := term.Find(ctx, "web-1", &indirector.Request{Environment: "ignored"})
			if err != nil {
				t.Fatalf("find failed: %v", err)
			}
			if diff := cmp.Diff(testCatalog("web-1"), got); diff != "" {
				t.Errorf("catalog mismatch (-want +got):\n%s", diff)
			}

			if err := term.Destroy(ctx, "web-1"); err != nil {
				t.Fatalf("destroy failed: %v", err)
			}
			if err := term.Destroy(ctx, "web-1"); err != nil {
				t.Errorf("second destroy should succeed, got: %v", err)
			}
			if _, err := term.Find(ctx, "web-1", nil); !engine.IsNotFound(err) {
				t.Errorf("expected not found after destroy, got: %v", err)
			}
		})
	}
}

func TestTerminus_Search(t *testing.T) {
	term := yamlTerminus(t)
	ctx := context.Background()

	for _, key := range []string{"web-1", "web-2", "db-1"} {
		if err := term.Save(ctx, key, testCatalog(key)); err != nil {
			t.Fatalf("save %s failed: %v", key, err)
		}
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"", []string{"db-1", "web-1", "web-2"}},
		{"web-*", []string{"web-1", "web-2"}},
		{"*-1", []string{"db-1", "web-1"}},
		{"mail*", []string{}},
	}
	for _, tt := range tests {
		got, err := term.Search(ctx, tt.pattern)
		if err != nil {
			t.Fatalf("search %q failed: %v", tt.pattern, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("search %q mismatch (-want +got):\n%s", tt.pattern, diff)
		}
	}

	if _, err := term.Search(ctx, "web-["); !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error for bad pattern, got: %v", err)
	}
}

func TestTerminus_InvalidKey(t *testing.T) {
	term := yamlTerminus(t)
	ctx := context.Background()

	for _, key := range []string{"", "..", "a/b"} {
		if err := term.Save(ctx, key, testCatalog("x")); !engine.IsConfiguration(err) {
			t.Errorf("expected configuration error for key %q, got: %v", key, err)
		}
	}
}

type brokenStore struct{}

var errDisk = errors.New("disk on fire")

func (brokenStore) Get(context.Context, string) (*engine.Catalog, error) { return nil, errDisk }
func (brokenStore) Put(context.Context, string, *engine.Catalog) error   { return errDisk }
func (brokenStore) Delete(context.Context, string) error                 { return errDisk }
func (brokenStore) Keys(context.Context) ([]string, error)               { return nil, errDisk }
func (brokenStore) Location(key string) string                           { return "nowhere/" + key }

func TestTerminus_StorageErrors(t *testing.T) {
	term := New[*engine.Catalog]("broken", brokenStore{}, zerolog.Nop())
	ctx := context.Background()

	_, findErr := term.Find(ctx, "web-1", nil)
	_, searchErr := term.Search(ctx, "")

	for op, err := range map[string]error{
		"find":    findErr,
		"save":    term.Save(ctx, "web-1", testCatalog("web-1")),
		"destroy": term.Destroy(ctx, "web-1"),
		"search":  searchErr,
	} {
		var ee *engine.EngineError
		if !errors.As(err, &ee) || ee.Class != engine.ErrorClassRetrieval || ee.Code != engine.ErrCodeStorage {
			t.Errorf("%s: expected storage retrieval error, got: %v", op, err)
			continue
		}
		if !errors.Is(err, errDisk) {
			t.Errorf("%s: expected underlying error to be kept", op)
		}
	}

	if term.Location("web-1") != "nowhere/web-1" || term.Name() != "broken" {
		t.Errorf("unexpected name or location")
	}
}

func TestTerminus_WriteThrough(t *testing.T) {
	cache := yamlTerminus(t)
	source := yamlTerminus(t)
	ctx := context.Background()

	if err := source.Save(ctx, "web-1", testCatalog("web-1")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Same name means the registry treats them as one terminus; rename the source.
	source.name = "upstream"

	registry := indirector.NewRegistry[*engine.Catalog](zerolog.Nop())
	registry.SetActive(indirector.SubjectCatalog, source)
	registry.SetCache(indirector.SubjectCatalog, cache)

	if _, err := registry.Find(ctx, indirector.SubjectCatalog, "web-1", nil); err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if _, err := cache.Find(ctx, "web-1", nil); err != nil {
		t.Errorf("expected catalog written through to cache, got: %v", err)
	}
}

package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/catalog/pkg/engine"
)

func TestYAMLStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "catalog")
	store, err := NewYAMLStore[*engine.Catalog](dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	want := testCatalog("web-1")
	want.RetrievalDuration = 1500 * time.Millisecond
	if err := store.Put(ctx, "web-1", want); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "web-1.yaml")); err != nil {
		t.Fatalf("expected web-1.yaml on disk: %v", err)
	}
	if store.Location("web-1") != filepath.Join(dir, "web-1.yaml") {
		t.Errorf("unexpected location %s", store.Location("web-1"))
	}

	got, err := store.Get(ctx, "web-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestYAMLStore_MissingKey(t *testing.T) {
	store, _ := NewYAMLStore[*engine.Catalog](t.TempDir())

	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestYAMLStore_KeysAndDelete(t *testing.T) {
	store, _ := NewYAMLStore[*engine.Facts](t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"web-2", "web-1"} {
		if err := store.Put(ctx, key, &engine.Facts{Name: key}); err != nil {
			t.Fatalf("failed to put %s: %v", key, err)
		}
	}
	// Unrelated files are ignored
	_ = os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0o600)

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	if diff := cmp.Diff([]string{"web-1", "web-2"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete(ctx, "web-1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := store.Delete(ctx, "web-1"); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
	if _, err := store.Get(ctx, "web-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestYAMLStore_KeysOnMissingDir(t *testing.T) {
	store, _ := NewYAMLStore[*engine.Catalog](filepath.Join(t.TempDir(), "absent"))

	keys, err := store.Keys(context.Background())
	if err != nil || len(keys) != 0 {
		t.Errorf("expected empty key list, got %v (%v)", keys, err)
	}
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "../etc"} {
		if err := ValidateKey(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
	if err := ValidateKey("web-1.example.com"); err != nil {
		t.Errorf("expected valid key, got: %v", err)
	}
}

package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/rs/zerolog"
)

// memCatalogs is an in-memory catalog terminus behind the test server.
type memCatalogs struct {
	mu       sync.Mutex
	catalogs map[string]*engine.Catalog
	lastReq  *indirector.Request
}

func (m *memCatalogs) Name() string                        { return "memory" }
func (m *memCatalogs) Kind() indirector.Kind               { return indirector.KindCache }
func (m *memCatalogs) Capabilities() indirector.Capability { return indirector.CapFind | indirector.CapSave }

func (m *memCatalogs) Find(_ context.Context, key string, req *indirector.Request) (*engine.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	c, ok := m.catalogs[key]
	if !ok {
		return nil, engine.NewNotFoundError("no catalog for " + key)
	}
	return c, nil
}

func (m *memCatalogs) Save(_ context.Context, key string, c *engine.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[key] = c
	return nil
}

func (m *memCatalogs) Destroy(context.Context, string) error {
	return engine.NewNotSupportedError("memory", "destroy")
}

func (m *memCatalogs) Search(context.Context, string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.catalogs))
	for k := range m.catalogs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func testCatalog(name string) *engine.Catalog {
	return &engine.Catalog{
		Name:        name,
		Version:     "42",
		Environment: "production",
		Classes:     []string{"base"},
		Resources: []engine.Resource{
			{Type: "file", Title: "/etc/motd", Parameters: map[string]interface{}{"content": "hi"}},
			{Type: "exec", Title: "reload", Requires: []engine.ResourceRef{{Type: "file", Title: "/etc/motd"}}},
		},
		CompiledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func setupServer(t *testing.T) (*memCatalogs, *Terminus) {
	t.Helper()

	store := &memCatalogs{catalogs: map[string]*engine.Catalog{"web-1": testCatalog("web-1")}}
	registry := indirector.NewRegistry[*engine.Catalog](zerolog.Nop())
	registry.SetActive(indirector.SubjectCatalog, store)

	server := httptest.NewServer(NewHandler(registry, zerolog.Nop()))
	t.Cleanup(server.Close)

	return store, newTestTerminus(t, server.URL, 0)
}

func newTestTerminus(t *testing.T, url string, retries int) *Terminus {
	t.Helper()
	term, err := New(Config{
		ServerURL: url,
		Timeout:   5 * time.Second,
		Retries:   retries,
		RetryMin:  time.Millisecond,
		RetryMax:  5 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create terminus: %v", err)
	}
	return term
}

func TestNew_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8140", "://bad"} {
		if _, err := New(Config{ServerURL: raw}, zerolog.Nop()); !engine.IsConfiguration(err) {
			t.Errorf("expected configuration error for %q, got: %v", raw, err)
		}
	}
}

func TestFind_RoundTrip(t *testing.T) {
	_, term := setupServer(t)

	got, err := term.Find(context.Background(), "web-1", nil)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if diff := cmp.Diff(testCatalog("web-1"), got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestFind_PassesFactsAndEnvironment(t *testing.T) {
	store, term := setupServer(t)
	ctx := context.Background()

	if _, err := term.Find(ctx, "web-1", &indirector.Request{
		Environment: "staging",
		Facts:       map[string]interface{}{"os": "linux"},
	}); err != nil {
		t.Fatalf("find failed: %v", err)
	}
	want := &indirector.Request{Environment: "staging", Facts: map[string]interface{}{"os": "linux"}}
	if diff := cmp.Diff(want, store.lastReq); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	if _, err := term.Find(ctx, "web-1", &indirector.Request{Environment: "qa"}); err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if store.lastReq.Environment != "qa" || store.lastReq.Facts != nil {
		t.Errorf("expected environment from query string, got %+v", store.lastReq)
	}
}

func TestFind_NotFound(t *testing.T) {
	_, term := setupServer(t)

	_, err := term.Find(context.Background(), "nobody", nil)
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not found, got: %v", err)
	}
}

func TestFind_ServerErrorIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "compiler exploded", Code: "X"})
	}))
	defer server.Close()

	term := newTestTerminus(t, server.URL, 2)
	_, err := term.Find(context.Background(), "web-1", nil)

	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Class != engine.ErrorClassRetrieval || ee.Code != engine.ErrCodeUnexpectedResponse {
		t.Fatalf("expected retrieval error, got: %v", err)
	}
	if ee.Details["response"] != "compiler exploded" || ee.Details["status"] != http.StatusInternalServerError {
		t.Errorf("unexpected details %v", ee.Details)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFind_DecodeFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{not json"},
		{"null", "null"},
		{"empty object", "{}"},
		{"unnamed catalog", `{"version":"1","resources":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			catalog, err := newTestTerminus(t, server.URL, 0).Find(context.Background(), "web-1", nil)

			var ee *engine.EngineError
			if !errors.As(err, &ee) || ee.Class != engine.ErrorClassRetrieval || ee.Code != engine.ErrCodeDecode {
				t.Fatalf("expected decode retrieval error, got: %v", err)
			}
			if catalog != nil {
				t.Errorf("expected no catalog, got %+v", catalog)
			}
		})
	}
}

func TestFind_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestTerminus(t, url, 1).Find(context.Background(), "web-1", nil)

	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Class != engine.ErrorClassRetrieval || ee.Code != engine.ErrCodeTransport {
		t.Fatalf("expected transport retrieval error, got: %v", err)
	}
}

func TestSaveAndSearch(t *testing.T) {
	store, term := setupServer(t)
	ctx := context.Background()

	if err := term.Save(ctx, "db-1", testCatalog("db-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if diff := cmp.Diff(testCatalog("db-1"), store.catalogs["db-1"]); diff != "" {
		t.Errorf("saved catalog mismatch (-want +got):\n%s", diff)
	}

	keys, err := term.Search(ctx, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"db-1", "web-1"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroyIsUnsupported(t *testing.T) {
	_, term := setupServer(t)
	if err := term.Destroy(context.Background(), "web-1"); !engine.IsNotSupported(err) {
		t.Errorf("expected not supported, got: %v", err)
	}
}

func TestHandler_StatusMapping(t *testing.T) {
	registry := indirector.NewRegistry[*engine.Catalog](zerolog.Nop())
	handler := NewHandler(registry, zerolog.Nop())

	// No terminus registered at all
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog/web-1", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 without terminus, got %d", rec.Code)
	}

	tests := []struct {
		err  error
		want int
	}{
		{engine.NewNotFoundError("x"), http.StatusNotFound},
		{engine.NewNotSupportedError("compiler", "save"), http.StatusMethodNotAllowed},
		{engine.NewConfigurationError("bad manifest", nil), http.StatusUnprocessableEntity},
		{engine.NewRetrievalError("store down", nil), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/catalog/web-1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for DELETE, got %d", rec.Code)
	}
}

func TestLocation(t *testing.T) {
	term := newTestTerminus(t, "https://catalog.example.com:8140/", 0)
	if got := term.Location("web 1"); got != "https://catalog.example.com:8140/v1/catalog/web%201" {
		t.Errorf("unexpected location %s", got)
	}
}

// compileOnly answers finds and nothing else, like the compiler terminus.
type compileOnly struct {
	indirector.Unsupported[*engine.Catalog]
}

func (compileOnly) Name() string                        { return "compiler" }
func (compileOnly) Kind() indirector.Kind               { return indirector.KindCompiler }
func (compileOnly) Capabilities() indirector.Capability { return indirector.CapFind }

func (compileOnly) Find(_ context.Context, key string, _ *indirector.Request) (*engine.Catalog, error) {
	return testCatalog(key), nil
}

func TestHandler_WithStorage(t *testing.T) {
	store := &memCatalogs{catalogs: map[string]*engine.Catalog{}}

	compiling := indirector.NewRegistry[*engine.Catalog](zerolog.Nop())
	compiling.Switch(indirector.SubjectCatalog, compileOnly{indirector.Unsupported[*engine.Catalog]{TerminusName: "compiler"}}, nil)
	stored := indirector.NewRegistry[*engine.Catalog](zerolog.Nop())
	stored.Switch(indirector.SubjectCatalog, store, nil)

	server := httptest.NewServer(NewHandler(compiling, zerolog.Nop()).WithStorage(stored))
	t.Cleanup(server.Close)
	term := newTestTerminus(t, server.URL, 0)
	ctx := context.Background()

	if err := term.Save(ctx, "db-1", testCatalog("db-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, ok := store.catalogs["db-1"]; !ok {
		t.Error("expected uploaded catalog in storage")
	}

	keys, err := term.Search(ctx, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"db-1"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	got, err := term.Find(ctx, "web-9", nil)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.Name != "web-9" {
		t.Errorf("expected compiled catalog for web-9, got %q", got.Name)
	}
}

func TestHandler_SaveWithoutStorageIsUnsupported(t *testing.T) {
	compiling := indirector.NewRegistry[*engine.Catalog](zerolog.Nop())
	compiling.Switch(indirector.SubjectCatalog, compileOnly{indirector.Unsupported[*engine.Catalog]{TerminusName: "compiler"}}, nil)

	server := httptest.NewServer(NewHandler(compiling, zerolog.Nop()))
	t.Cleanup(server.Close)

	err := newTestTerminus(t, server.URL, 0).Save(context.Background(), "db-1", testCatalog("db-1"))
	if err == nil {
		t.Fatal("expected save to fail without storage")
	}
}

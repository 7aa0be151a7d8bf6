package network

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const maxRequestBody = 32 << 20

// Handler serves the catalog API from a registry. It is what a Terminus talks to.
type Handler struct {
	registry *indirector.Registry[*engine.Catalog]
	storage  *indirector.Registry[*engine.Catalog]
	logger   zerolog.Logger
	mux      *http.ServeMux
}

// NewHandler creates a handler answering from the catalog subject of registry.
func NewHandler(registry *indirector.Registry[*engine.Catalog], logger zerolog.Logger) *Handler {
	h := &Handler{
		registry: registry,
		logger:   logger.With().Str("component", "catalog-api").Logger(),
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /v1/catalog/{node}", h.find)
	h.mux.HandleFunc("POST /v1/catalog/{node}", h.find)
	h.mux.HandleFunc("PUT /v1/catalog/{node}", h.save)
	h.mux.HandleFunc("GET /v1/catalogs", h.search)

	return h
}

// WithStorage answers saves and searches from storage instead of the find
// registry. Servers that compile on find store uploaded catalogs this way.
func (h *Handler) WithStorage(storage *indirector.Registry[*engine.Catalog]) *Handler {
	h.storage = storage
	return h
}

func (h *Handler) stored() *indirector.Registry[*engine.Catalog] {
	if h.storage != nil {
		return h.storage
	}
	return h.registry
}

// ServeHTTP implements http.Handler.
// Trace context sent by a network terminus is continued.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	node := r.PathValue("node")
	req := &indirector.Request{Environment: r.URL.Query().Get("environment")}

	if r.Method == http.MethodPost {
		var body findRequest
		if err := decodeBody(r, &body); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.Facts = body.Facts
		if body.Environment != "" {
			req.Environment = body.Environment
		}
	}

	op := telemetry.StartOperation(r.Context(), "serve_find", telemetry.AttrCertname.String(node))
	catalog, err := h.registry.Find(op.Ctx, indirector.SubjectCatalog, node, req)
	op.End(err)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.logger.Info().
		Str("node", node).
		Str("version", catalog.Version).
		Str("remote", r.RemoteAddr).
		Str("trace_id", telemetry.TraceID(op.Ctx)).
		Msg("Served catalog")
	writeJSON(w, http.StatusOK, catalog)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	node := r.PathValue("node")

	var catalog engine.Catalog
	if err := decodeBody(r, &catalog); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.stored().Save(r.Context(), indirector.SubjectCatalog, node, &catalog); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	keys, err := h.stored().Search(r.Context(), indirector.SubjectCatalog, r.URL.Query().Get("pattern"))
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	body := errorResponse{Error: err.Error()}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		body.Class = string(ee.Class)
		body.Code = ee.Code
	}

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Int("status", status).Msg("Catalog request failed")

	writeJSON(w, status, body)
}

// statusFor maps an error class onto an HTTP status.
func statusFor(err error) int {
	switch {
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsNotSupported(err):
		return http.StatusMethodNotAllowed
	case engine.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case engine.IsRetrieval(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

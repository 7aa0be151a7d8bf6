// Package network provides the catalog terminus that talks to a remote catalog
// authority over HTTP, and the handler that serves the same API.
//
// The API:
//
//	GET  /v1/catalog/{node}?environment=env   find without facts
//	POST /v1/catalog/{node}                   find, body {"environment": ..., "facts": {...}}
//	PUT  /v1/catalog/{node}                   save, body is the catalog
//	GET  /v1/catalogs?pattern=glob            search, response is a list of node names
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Name is the default terminus name.
const Name = "network"

const maxErrorBody = 4096

// Config configures the HTTP client.
type Config struct {
	// ServerURL is the base URL of the catalog authority.
	ServerURL string

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// Retries is the number of retries after the first attempt.
	Retries int

	// RetryMin and RetryMax bound the backoff between attempts.
	RetryMin time.Duration
	RetryMax time.Duration

	// Headers are added to every request.
	Headers map[string]string
}

// findRequest is the body of a find that carries facts.
type findRequest struct {
	Environment string                 `json:"environment,omitempty"`
	Facts       map[string]interface{} `json:"facts,omitempty"`
}

// errorResponse is the body of every non-2xx answer from Handler.
type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Terminus fetches and stores catalogs on a remote authority.
// Destroy is not supported.
type Terminus struct {
	indirector.Unsupported[*engine.Catalog]

	base    *url.URL
	client  *retryablehttp.Client
	headers map[string]string
	logger  zerolog.Logger
}

var _ indirector.Terminus[*engine.Catalog] = (*Terminus)(nil)

// New creates a network terminus.
func New(cfg Config, logger zerolog.Logger) (*Terminus, error) {
	if cfg.ServerURL == "" {
		return nil, engine.NewConfigurationError("network terminus requires a server URL", nil).
			WithCode(engine.ErrCodeValidation)
	}
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid server URL %q", cfg.ServerURL), err).
			WithCode(engine.ErrCodeValidation)
	}

	log := logger.With().Str("terminus", Name).Logger()

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout

	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = cfg.Retries
	if cfg.RetryMin > 0 {
		client.RetryWaitMin = cfg.RetryMin
	}
	if cfg.RetryMax > 0 {
		client.RetryWaitMax = cfg.RetryMax
	}
	client.Logger = leveledLogger{log}
	// Hand the last response back instead of a generic "giving up" error
	// so status codes can be classified.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Terminus{
		Unsupported: indirector.Unsupported[*engine.Catalog]{TerminusName: Name},
		base:        base,
		client:      client,
		headers:     cfg.Headers,
		logger:      log,
	}, nil
}

// Name returns the terminus name.
func (t *Terminus) Name() string { return Name }

// Kind returns KindNetwork.
func (t *Terminus) Kind() indirector.Kind { return indirector.KindNetwork }

// Capabilities returns find, save and search.
func (t *Terminus) Capabilities() indirector.Capability {
	return indirector.CapFind | indirector.CapSave | indirector.CapSearch
}

// Location returns the URL a node's catalog is served from.
func (t *Terminus) Location(key string) string {
	return t.catalogURL(key)
}

// Find fetches the catalog for key. Facts in req are posted with the request.
func (t *Terminus) Find(ctx context.Context, key string, req *indirector.Request) (*engine.Catalog, error) {
	method := http.MethodGet
	target := t.catalogURL(key)
	var body []byte

	if req != nil && len(req.Facts) > 0 {
		data, err := json.Marshal(findRequest{Environment: req.Environment, Facts: req.Facts})
		if err != nil {
			return nil, engine.NewRetrievalError("failed to encode find request", err).WithCode(engine.ErrCodeDecode)
		}
		method, body = http.MethodPost, data
	} else if req != nil && req.Environment != "" {
		target += "?" + url.Values{"environment": {req.Environment}}.Encode()
	}

	resp, err := t.do(ctx, method, target, body, "find catalog")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Handled after
	case http.StatusNotFound:
		return nil, engine.NewNotFoundError(fmt.Sprintf("no catalog for %s on %s", key, t.base.Host)).
			WithDetail("url", target)
	default:
		return nil, unexpectedResponse(resp, "find catalog")
	}

	var catalog *engine.Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, engine.NewRetrievalError(fmt.Sprintf("failed to decode catalog for %s", key), err).
			WithCode(engine.ErrCodeDecode)
	}
	if catalog == nil || catalog.Name == "" {
		return nil, engine.NewRetrievalError(fmt.Sprintf("server returned no catalog for %s", key), nil).
			WithCode(engine.ErrCodeDecode).
			WithDetail("url", target)
	}
	return catalog, nil
}

// Save uploads catalog for key.
func (t *Terminus) Save(ctx context.Context, key string, catalog *engine.Catalog) error {
	data, err := json.Marshal(catalog)
	if err != nil {
		return engine.NewRetrievalError(fmt.Sprintf("failed to encode catalog for %s", key), err).
			WithCode(engine.ErrCodeDecode)
	}

	resp, err := t.do(ctx, http.MethodPut, t.catalogURL(key), data, "save catalog")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return unexpectedResponse(resp, "save catalog")
	}
}

// Search lists the node names the authority has catalogs for.
func (t *Terminus) Search(ctx context.Context, pattern string) ([]string, error) {
	target := t.base.String() + "/v1/catalogs"
	if pattern != "" {
		target += "?" + url.Values{"pattern": {pattern}}.Encode()
	}

	resp, err := t.do(ctx, http.MethodGet, target, nil, "search catalogs")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedResponse(resp, "search catalogs")
	}

	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, engine.NewRetrievalError("failed to decode search result", err).
			WithCode(engine.ErrCodeDecode)
	}
	return keys, nil
}

func (t *Terminus) catalogURL(key string) string {
	return t.base.String() + "/v1/catalog/" + url.PathEscape(key)
}

func (t *Terminus) do(ctx context.Context, method, target string, data []byte, what string) (*http.Response, error) {
	var span trace.Span
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		ctx, span = tel.Tracer.StartTerminusSpan(ctx, string(indirector.SubjectCatalog), Name, what)
		defer span.End()
	}

	var body interface{}
	if len(data) > 0 {
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, engine.NewRetrievalError(fmt.Sprintf("failed to make %s request", what), err).
			WithCode(engine.ErrCodeTransport)
	}
	req.Header.Set("Accept", "application/json")
	if len(data) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	t.logger.Debug().Str("method", method).Str("url", target).Msgf("Executing %s request", what)

	resp, err := t.client.Do(req)
	if err != nil {
		rerr := engine.NewRetrievalError(fmt.Sprintf("failed to %s", what), err).
			WithCode(engine.ErrCodeTransport).
			WithDetail("url", target)
		if span != nil {
			telemetry.RecordError(span, rerr)
		}
		return nil, rerr
	}
	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}

	t.logger.Debug().Int("status", resp.StatusCode).Msgf("%s request returned", what)
	return resp, nil
}

// unexpectedResponse turns a non-success response into a retrieval error,
// keeping the server's own error message when it sent one.
func unexpectedResponse(resp *http.Response, what string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := strings.TrimSpace(string(raw))
	var body errorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		message = body.Error
	}

	err := engine.NewRetrievalError(
		fmt.Sprintf("%s: unexpected HTTP response code %d", what, resp.StatusCode), nil,
	).WithCode(engine.ErrCodeUnexpectedResponse).
		WithDetail("status", resp.StatusCode)
	if message != "" {
		err.WithDetail("response", message)
		err.Err = fmt.Errorf("%s", message)
	}
	if body.Code != "" {
		err.WithDetail("remote_code", body.Code)
	}
	return err
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn().Fields(kv).Msg(msg) }

package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/catalog/pkg/engine"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// KeyedStore persists values keyed by node identity.
type KeyedStore[T any] interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (T, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value T) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)

	// Location describes where key is stored, for notices.
	Location(key string) string
}

// ReportStore persists apply reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report *engine.Report) error
	LastReport(ctx context.Context, host string) (*engine.Report, error)
	ListReports(ctx context.Context, host string, limit int) ([]ReportSummary, error)
}

// ReportSummary is a row of report history.
type ReportSummary struct {
	ID             string              `json:"id" yaml:"id"`
	Host           string              `json:"host" yaml:"host"`
	CatalogVersion string              `json:"catalog_version" yaml:"catalog_version"`
	Environment    string              `json:"environment" yaml:"environment"`
	Status         engine.ReportStatus `json:"status" yaml:"status"`
	Noop           bool                `json:"noop" yaml:"noop"`
}

// ValidateKey rejects keys that cannot safely name a file or row.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}

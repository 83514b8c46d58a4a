// Package docstore provides paginated read access to external document collections.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/docjobs/internal/config"
)

// Sentinel errors for document store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnavailable indicates the store could not be reached or answered with
	// a server-side failure. A reconnect and retry may succeed.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrCollectionNotFound indicates the requested collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidQuery indicates the query was rejected before execution.
	ErrInvalidQuery = errors.New("invalid query")
)

// Document is a single record as returned by the store.
type Document map[string]any

// ID returns the document identifier stored under field, or "" when absent.
func (d Document) ID(field string) string {
	v, ok := d[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Text returns the text stored under field. Multi-valued string fields are
// joined with newlines. The second result is false when the field is missing
// or holds no non-blank text.
func (d Document) Text(field string) (string, bool) {
	var text string
	switch v := d[field].(type) {
	case string:
		text = v
	case []string:
		text = strings.Join(v, "\n")
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		text = strings.Join(parts, "\n")
	default:
		return "", false
	}
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// Query selects one page of a collection.
type Query struct {
	Collection string
	Filter     string
	Offset     int
	Limit      int
}

// Result is one page of documents plus the collection's total match count.
type Result struct {
	Documents []Document
	Total     int
}

// Store is a paginated document source.
type Store interface {
	// CollectionNames lists the collections the store exposes.
	CollectionNames(ctx context.Context) ([]string, error)

	// Query returns the documents in [Offset, Offset+Limit) under a stable order.
	Query(ctx context.Context, q Query) (Result, error)

	// TextFields lists fields that hold text. Entries may be patterns with a
	// leading or trailing "*". An empty list means the store cannot tell
	// without looking at documents.
	TextFields(ctx context.Context, collection string) ([]string, error)

	// Reconnect drops and re-establishes the underlying connection.
	Reconnect(ctx context.Context) error

	Close() error
}

// Open creates a store for the given driver and connection URL.
func Open(ctx context.Context, driver, url string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return nil, fmt.Errorf("%s: connection url required", driver)
	}

	switch driver {
	case config.DriverSolr:
		return NewSolr(url, nil, logger), nil
	case config.DriverSQLite, config.DriverPostgres:
		return OpenSQL(ctx, driver, url, logger)
	default:
		return nil, fmt.Errorf("unsupported document store driver: %q", driver)
	}
}

// MatchField reports whether name is one of fields, either exactly or through
// a pattern with a leading or trailing "*".
func MatchField(fields []string, name string) bool {
	for _, f := range fields {
		switch {
		case f == name:
			return true
		case len(f) > 1 && strings.HasPrefix(f, "*"):
			if strings.HasSuffix(name, f[1:]) && len(name) > len(f)-1 {
				return true
			}
		case len(f) > 1 && strings.HasSuffix(f, "*"):
			if strings.HasPrefix(name, f[:len(f)-1]) && len(name) > len(f)-1 {
				return true
			}
		}
	}
	return false
}

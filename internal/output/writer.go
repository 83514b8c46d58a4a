// Package output persists the per-batch results of jobs.
package output

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Key identifies the output location of one job's results.
type Key struct {
	Operation  string `json:"operation"`
	Model      string `json:"model"`
	Collection string `json:"collection"`
	Field      string `json:"field"`
}

// Dir returns the relative directory for the key, one path segment per part.
func (k Key) Dir() string {
	return strings.Join([]string{
		segment(k.Operation),
		segment(k.Model),
		segment(k.Collection),
		segment(k.Field),
	}, "/")
}

// UnitName returns the file name of the batch unit starting at offset.
// The zero padding keeps lexical and numeric order equal.
func UnitName(offset int) string {
	return fmt.Sprintf("batch-%010d.json", offset)
}

// Item is the result for one document.
type Item struct {
	DocID string `json:"doc_id"`
	Value any    `json:"value"`
	Units int    `json:"units"`
}

// Unit is everything produced for one page of documents.
type Unit struct {
	Key        Key       `json:"key"`
	Offset     int       `json:"offset"`
	BatchIndex int       `json:"batch_index"`
	Items      []Item    `json:"items"`
	Skipped    []string  `json:"skipped,omitempty"`
	WrittenAt  time.Time `json:"written_at"`
}

// Descriptor describes the results stored under a key.
type Descriptor struct {
	Key       Key       `json:"key"`
	Kind      string    `json:"kind"`
	Provider  string    `json:"provider"`
	TextField string    `json:"text_field"`
	IDField   string    `json:"id_field"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer stores batch units. WriteUnit for an offset that was already written
// replaces the earlier unit, so re-running a page never duplicates output.
type Writer interface {
	// WriteSchema stores the descriptor once per key. Later calls succeed
	// without changing the stored descriptor.
	WriteSchema(ctx context.Context, d Descriptor) error
	WriteUnit(ctx context.Context, u Unit) error
	Close(ctx context.Context) error
}

// segment makes a key part safe to use as a single path segment.
func segment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return strings.Repeat("_", len(s))
	}
	return s
}

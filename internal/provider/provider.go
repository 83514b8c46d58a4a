// Package provider implements the capability providers that jobs run over
// document text: entity extraction, tokenization, and embedding computation.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind identifies the operation a job performs.
type Kind string

const (
	KindExtract  Kind = "extract"
	KindTokenize Kind = "tokenize"
	KindEmbed    Kind = "embed"
)

// ErrUnknownKind indicates a job kind no provider implements.
var ErrUnknownKind = errors.New("unknown job kind")

// ParseKind validates a job kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindExtract, KindTokenize, KindEmbed:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Metric returns the name of the unit metric reported by jobs of this kind.
func (k Kind) Metric() string {
	switch k {
	case KindExtract:
		return "entities_found"
	case KindTokenize:
		return "tokens_counted"
	case KindEmbed:
		return "embeddings_computed"
	default:
		return "units"
	}
}

// Result is the output for one input text. Units is what the job counts
// (entities found, tokens, embeddings).
type Result struct {
	Value any `json:"value"`
	Units int `json:"units"`
}

// Provider transforms batches of text. Load must succeed before Transform is
// called, Unload releases whatever Load acquired.
type Provider interface {
	// Name identifies the backend and model, e.g. "ollama/nomic-embed-text".
	Name() string

	// Kind returns the operation this provider performs.
	Kind() Kind

	Load(ctx context.Context) error
	Unload(ctx context.Context) error

	// Transform returns one result per input text, in order.
	Transform(ctx context.Context, texts []string) ([]Result, error)
}

// Capacity is implemented by providers that accept a limited number of inputs
// per Transform call.
type Capacity interface {
	MaxBatchCapacity() int
}

// Accelerated is implemented by providers holding accelerator memory that can
// be returned explicitly after Unload.
type Accelerated interface {
	FreeAccelerator() error
}

// Logging is implemented by providers that report free-text diagnostics.
type Logging interface {
	SetLogf(logf func(format string, args ...any))
}

// Spec selects and configures a provider for a job.
type Spec struct {
	Name    string         `json:"name" yaml:"name"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Int reads an integer option, accepting the numeric forms produced by JSON
// and YAML decoding. Missing or malformed options yield def.
func (s Spec) Int(key string, def int) int {
	switch v := s.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool reads a boolean option.
func (s Spec) Bool(key string) bool {
	b, _ := s.Options[key].(bool)
	return b
}

// CapacityOf returns the provider's batch capacity, or 0 when unlimited.
func CapacityOf(p Provider) int {
	if c, ok := p.(Capacity); ok {
		return max(c.MaxBatchCapacity(), 0)
	}
	return 0
}

type logfHolder struct {
	logf func(format string, args ...any)
}

func (h *logfHolder) SetLogf(logf func(format string, args ...any)) {
	h.logf = logf
}

func (h *logfHolder) log(format string, args ...any) {
	if h.logf != nil {
		h.logf(format, args...)
	}
}

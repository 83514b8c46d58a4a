package provider

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/raphaelgruber/docjobs/internal/config"
)

// TokenCount is the per-document output of tokenization.
type TokenCount struct {
	Count int   `json:"count"`
	IDs   []int `json:"ids,omitempty"`
}

// Tokenizer counts BPE tokens with tiktoken.
type Tokenizer struct {
	logfHolder

	encoding   string
	includeIDs bool

	enc *tiktoken.Tiktoken
}

// Compile-time checks.
var (
	_ Provider = (*Tokenizer)(nil)
	_ Logging  = (*Tokenizer)(nil)
)

// NewTokenizer creates an unloaded tokenizer. spec.Model names a tiktoken
// encoding (cl100k_base, o200k_base, ...) or an OpenAI model name.
func NewTokenizer(cfg config.Config, spec Spec) *Tokenizer {
	encoding := spec.Model
	if encoding == "" {
		encoding = cfg.TiktokenEncoding
	}
	return &Tokenizer{
		encoding:   encoding,
		includeIDs: spec.Bool("include_ids"),
	}
}

func (t *Tokenizer) Name() string { return config.ProviderTiktoken + "/" + t.encoding }

func (t *Tokenizer) Kind() Kind { return KindTokenize }

// Load resolves the encoding, first as an encoding name, then as a model name.
func (t *Tokenizer) Load(context.Context) error {
	enc, err := tiktoken.GetEncoding(t.encoding)
	if err != nil {
		var modelErr error
		enc, modelErr = tiktoken.EncodingForModel(t.encoding)
		if modelErr != nil {
			return fmt.Errorf("load encoding %q: %w", t.encoding, err)
		}
	}
	t.enc = enc
	t.log("tokenizer %s loaded", t.encoding)
	return nil
}

func (t *Tokenizer) Unload(context.Context) error {
	t.enc = nil
	return nil
}

// Transform counts tokens per text; every token is a unit.
func (t *Tokenizer) Transform(ctx context.Context, texts []string) ([]Result, error) {
	if t.enc == nil {
		return nil, ErrNotLoaded
	}

	results := make([]Result, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids := t.enc.Encode(text, nil, nil)
		tc := TokenCount{Count: len(ids)}
		if t.includeIDs {
			tc.IDs = ids
		}
		results[i] = Result{Value: tc, Units: len(ids)}
	}
	return results, nil
}

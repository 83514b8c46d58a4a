package jobspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestParseYAML(t *testing.T) {
	doc := `
kind: embed
params:
  collection: articles
  text_field: body
  filter: "lang:en"
  batch_size: 500
  max_batches: 3
  provider:
    name: ollama
    model: nomic-embed-text
    options:
      max_batch_capacity: 64
`
	req, err := newValidator(t).Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "embed", req.Kind)
	assert.Equal(t, models.JobParams{
		Collection: "articles",
		TextField:  "body",
		Filter:     "lang:en",
		BatchSize:  500,
		MaxBatches: 3,
		Provider: models.ProviderSpec{
			Name:    "ollama",
			Model:   "nomic-embed-text",
			Options: map[string]any{"max_batch_capacity": float64(64)},
		},
	}, req.Params)
}

func TestParseJSON(t *testing.T) {
	doc := `{"kind":"tokenize","params":{"collection":"c","text_field":"t","provider":{"name":"tiktoken"}}}`
	req, err := newValidator(t).Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "tokenize", req.Kind)
	assert.Equal(t, "tiktoken", req.Params.Provider.Name)
	assert.Zero(t, req.Params.BatchSize)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"not yaml", "kind: [unclosed"},
		{"unknown kind", `{"kind":"summarize","params":{"collection":"c","text_field":"t","provider":{"name":"ollama"}}}`},
		{"missing collection", `{"kind":"embed","params":{"text_field":"t","provider":{"name":"ollama"}}}`},
		{"empty text field", `{"kind":"embed","params":{"collection":"c","text_field":"","provider":{"name":"ollama"}}}`},
		{"zero batch size", `{"kind":"embed","params":{"collection":"c","text_field":"t","batch_size":0,"provider":{"name":"ollama"}}}`},
		{"fractional batch size", `{"kind":"embed","params":{"collection":"c","text_field":"t","batch_size":1.5,"provider":{"name":"ollama"}}}`},
		{"unknown provider", `{"kind":"embed","params":{"collection":"c","text_field":"t","provider":{"name":"cohere"}}}`},
		{"unknown field", `{"kind":"embed","params":{"collection":"c","text_field":"t","provider":{"name":"ollama"},"shards":2}}`},
	}

	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: extract\nparams:\n  collection: c\n  text_field: t\n  provider:\n    name: anthropic\n    model: claude-3-5-haiku-latest\n"), 0o644))

	req, err := newValidator(t).ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "extract", req.Kind)

	_, err = newValidator(t).ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

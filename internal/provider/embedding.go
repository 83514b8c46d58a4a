package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docjobs/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIBatchCapacity is the most inputs sent per OpenAI embeddings call.
const DefaultOpenAIBatchCapacity = 2048

// Embedder computes embeddings through langchaingo (Ollama or OpenAI).
type Embedder struct {
	logfHolder

	backend  string
	model    string
	host     string
	apiKey   string
	capacity int

	embedder  embeddings.Embedder
	dimension int
}

// Compile-time checks.
var (
	_ Provider = (*Embedder)(nil)
	_ Capacity = (*Embedder)(nil)
	_ Logging  = (*Embedder)(nil)
)

// NewEmbedder creates an unloaded langchaingo-backed embedder.
func NewEmbedder(cfg config.Config, spec Spec) (*Embedder, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("%s embeddings: model required", spec.Name)
	}

	e := &Embedder{
		backend:  spec.Name,
		model:    spec.Model,
		capacity: spec.Int("max_batch_capacity", cfg.EmbedBatchCeiling),
	}

	switch spec.Name {
	case config.ProviderOllama:
		e.host = cfg.OllamaHost
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		e.apiKey = cfg.OpenAIAPIKey
		if e.capacity <= 0 {
			e.capacity = DefaultOpenAIBatchCapacity
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", spec.Name)
	}
	return e, nil
}

func (e *Embedder) Name() string { return e.backend + "/" + e.model }

func (e *Embedder) Kind() Kind { return KindEmbed }

// MaxBatchCapacity returns the configured per-call input limit (0 = none).
func (e *Embedder) MaxBatchCapacity() int { return e.capacity }

// Load creates the client and embeds a warm-up text to confirm the model is
// reachable and to learn its dimension.
func (e *Embedder) Load(ctx context.Context) error {
	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch e.backend {
	case config.ProviderOllama:
		client, err = ollama.New(
			ollama.WithModel(e.model),
			ollama.WithServerURL(e.host),
		)
	case config.ProviderOpenAI:
		client, err = openai.New(
			openai.WithToken(e.apiKey),
			openai.WithEmbeddingModel(e.model),
		)
	}
	if err != nil {
		return fmt.Errorf("create %s client: %w", e.backend, err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return fmt.Errorf("create %s embedder: %w", e.backend, err)
	}

	start := time.Now()
	warmup, err := embedder.EmbedQuery(ctx, "ping")
	if err != nil {
		return fmt.Errorf("warm up %s: %w", e.Name(), wrapFatalError(err))
	}

	e.embedder = embedder
	e.dimension = len(warmup)
	e.log("embedding model %s answered warm-up in %s, dimension %d", e.Name(), time.Since(start).Round(time.Millisecond), e.dimension)
	return nil
}

// Unload drops the client.
func (e *Embedder) Unload(context.Context) error {
	e.embedder = nil
	return nil
}

// Transform embeds each text. Every vector counts as one unit.
func (e *Embedder) Transform(ctx context.Context, texts []string) ([]Result, error) {
	if e.embedder == nil {
		return nil, ErrNotLoaded
	}
	if len(texts) == 0 {
		return []Result{}, nil
	}

	start := time.Now()
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.Warn("embedding failed", "model", e.Name(), "texts", len(texts), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed batch: %w", wrapFatalError(err))
	}
	return vectorResults(vectors, len(texts), e.dimension)
}

// vectorResults validates count and dimension and wraps vectors as results.
// A zero dimension accepts any vector length.
func vectorResults(vectors [][]float32, want, dimension int) ([]Result, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), want)
	}
	results := make([]Result, len(vectors))
	for i, v := range vectors {
		if dimension > 0 && len(v) != dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), dimension)
		}
		results[i] = Result{Value: v, Units: 1}
	}
	return results, nil
}

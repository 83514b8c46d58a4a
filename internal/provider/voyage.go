package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/raphaelgruber/docjobs/internal/config"
)

const (
	// DefaultVoyageModel is used when the job names no model.
	DefaultVoyageModel = "voyage-3"

	// VoyageAPIEndpoint is the Voyage AI embeddings endpoint.
	VoyageAPIEndpoint = "https://api.voyageai.com/v1/embeddings"

	// voyageBatchCapacity is the most inputs Voyage accepts per request.
	voyageBatchCapacity = 128
)

// Voyage computes embeddings with the Voyage AI HTTP API.
type Voyage struct {
	logfHolder

	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	loaded   bool
}

// Compile-time checks.
var (
	_ Provider = (*Voyage)(nil)
	_ Capacity = (*Voyage)(nil)
)

// NewVoyage creates an unloaded Voyage embedder.
func NewVoyage(cfg config.Config, spec Spec) (*Voyage, error) {
	if cfg.VoyageAPIKey == "" {
		return nil, fmt.Errorf("Voyage API key required")
	}
	model := spec.Model
	if model == "" {
		model = DefaultVoyageModel
	}
	endpoint := VoyageAPIEndpoint
	if ep, ok := spec.Options["endpoint"].(string); ok && ep != "" {
		endpoint = ep
	}
	return &Voyage{
		apiKey:   cfg.VoyageAPIKey,
		model:    model,
		endpoint: endpoint,
	}, nil
}

func (v *Voyage) Name() string { return config.ProviderVoyage + "/" + v.model }

func (v *Voyage) Kind() Kind { return KindEmbed }

func (v *Voyage) MaxBatchCapacity() int { return voyageBatchCapacity }

func (v *Voyage) Load(context.Context) error {
	v.client = &http.Client{}
	v.loaded = true
	return nil
}

func (v *Voyage) Unload(context.Context) error {
	if v.client != nil {
		v.client.CloseIdleConnections()
	}
	v.client = nil
	v.loaded = false
	return nil
}

type voyageRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Transform embeds all texts in one request.
func (v *Voyage) Transform(ctx context.Context, texts []string) ([]Result, error) {
	if !v.loaded {
		return nil, ErrNotLoaded
	}
	if len(texts) == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(voyageRequest{Input: texts, Model: v.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, wrapFatalError(fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(msg)))
	}

	var vr voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(vr.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vr.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range vr.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	v.log("voyage request used %d tokens", vr.Usage.TotalTokens)
	return vectorResults(vectors, len(texts), 0)
}

package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docjobs/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const extractionSystemPrompt = `You are a named entity extraction engine. Extract entities and relations from the given text.

Entity types: person, organization, location, product, event, concept

Output format (one per line):
ENTITY|name|type|description
RELATION|source|target|relation_type|description

Guidelines:
- Extract every meaningful entity with a brief description
- Identify relationships between extracted entities
- Use the entity name as it appears in the text
- Output nothing except ENTITY and RELATION lines`

// Entity is a named entity found in a document.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Relation links two extracted entities.
type Relation struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Extraction is the per-document output of entity extraction.
type Extraction struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations,omitempty"`
}

// EntityExtractor extracts entities with a chat model through langchaingo.
type EntityExtractor struct {
	logfHolder

	backend  string
	model    string
	host     string
	apiKey   string
	capacity int

	llm llms.Model
}

// Compile-time checks.
var (
	_ Provider = (*EntityExtractor)(nil)
	_ Capacity = (*EntityExtractor)(nil)
	_ Logging  = (*EntityExtractor)(nil)
)

// NewEntityExtractor creates an unloaded extractor.
func NewEntityExtractor(cfg config.Config, spec Spec) (*EntityExtractor, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("%s extraction: model required", spec.Name)
	}
	x := &EntityExtractor{
		backend:  spec.Name,
		model:    spec.Model,
		capacity: spec.Int("max_batch_capacity", 0),
	}

	switch spec.Name {
	case config.ProviderOllama:
		x.host = cfg.OllamaHost
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		x.apiKey = cfg.OpenAIAPIKey
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		x.apiKey = cfg.AnthropicAPIKey
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", spec.Name)
	}
	return x, nil
}

func (x *EntityExtractor) Name() string { return x.backend + "/" + x.model }

func (x *EntityExtractor) Kind() Kind { return KindExtract }

func (x *EntityExtractor) MaxBatchCapacity() int { return x.capacity }

// Load creates the chat model client.
func (x *EntityExtractor) Load(context.Context) error {
	var (
		model llms.Model
		err   error
	)
	switch x.backend {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(x.model),
			ollama.WithServerURL(x.host),
		)
	case config.ProviderOpenAI:
		model, err = openai.New(
			openai.WithToken(x.apiKey),
			openai.WithModel(x.model),
		)
	case config.ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(x.apiKey),
			anthropic.WithModel(x.model),
		)
	}
	if err != nil {
		return fmt.Errorf("create %s model: %w", x.backend, err)
	}
	x.llm = model
	return nil
}

func (x *EntityExtractor) Unload(context.Context) error {
	x.llm = nil
	return nil
}

// Transform prompts the model once per text. The entity count is the unit.
func (x *EntityExtractor) Transform(ctx context.Context, texts []string) ([]Result, error) {
	if x.llm == nil {
		return nil, ErrNotLoaded
	}

	results := make([]Result, 0, len(texts))
	for i, text := range texts {
		messages := []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, extractionSystemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("Text:\n%s\n\nExtracted entities and relations:", text)),
		}

		resp, err := x.llm.GenerateContent(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("extract text %d: %w", i, wrapFatalError(err))
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("extract text %d: no response choices", i)
		}

		extraction, skipped := ParseExtraction(resp.Choices[0].Content)
		if skipped > 0 {
			x.log("text %d: ignored %d malformed extraction lines", i, skipped)
		}
		results = append(results, Result{Value: extraction, Units: len(extraction.Entities)})
	}
	return results, nil
}

// ParseExtraction reads ENTITY|... and RELATION|... lines. It returns the
// parsed extraction and the number of non-blank lines it could not use.
func ParseExtraction(output string) (Extraction, int) {
	ex := Extraction{Entities: []Entity{}}
	skipped := 0

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case strings.EqualFold(parts[0], "ENTITY") && len(parts) >= 3 && parts[1] != "":
			e := Entity{Name: parts[1], Type: strings.ToLower(parts[2])}
			if len(parts) > 3 {
				e.Description = strings.Join(parts[3:], "|")
			}
			ex.Entities = append(ex.Entities, e)
		case strings.EqualFold(parts[0], "RELATION") && len(parts) >= 4 && parts[1] != "" && parts[2] != "":
			r := Relation{Source: parts[1], Target: parts[2], Type: strings.ToLower(parts[3])}
			if len(parts) > 4 {
				r.Description = strings.Join(parts[4:], "|")
			}
			ex.Relations = append(ex.Relations, r)
		default:
			skipped++
		}
	}
	return ex, skipped
}

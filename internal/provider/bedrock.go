package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/docjobs/internal/config"
)

// DefaultBedrockModel is the Titan text embedding model.
const DefaultBedrockModel = "amazon.titan-embed-text-v2:0"

type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock computes Titan embeddings through AWS Bedrock, one text per call.
type Bedrock struct {
	logfHolder

	region   string
	model    string
	capacity int

	client bedrockInvoker
}

// Compile-time checks.
var (
	_ Provider = (*Bedrock)(nil)
	_ Capacity = (*Bedrock)(nil)
)

// NewBedrock creates an unloaded Bedrock embedder.
func NewBedrock(cfg config.Config, spec Spec) *Bedrock {
	model := spec.Model
	if model == "" {
		model = DefaultBedrockModel
	}
	region := cfg.AWSRegion
	if r, ok := spec.Options["region"].(string); ok && r != "" {
		region = r
	}
	return &Bedrock{
		region:   region,
		model:    model,
		capacity: spec.Int("max_batch_capacity", cfg.EmbedBatchCeiling),
	}
}

func (b *Bedrock) Name() string { return config.ProviderBedrock + "/" + b.model }

func (b *Bedrock) Kind() Kind { return KindEmbed }

func (b *Bedrock) MaxBatchCapacity() int { return b.capacity }

// Load resolves AWS credentials for the configured region.
func (b *Bedrock) Load(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(b.region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	b.client = bedrockruntime.NewFromConfig(awsCfg)
	b.log("bedrock client ready in %s", b.region)
	return nil
}

func (b *Bedrock) Unload(context.Context) error {
	b.client = nil
	return nil
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Transform embeds each text with a separate InvokeModel call.
func (b *Bedrock) Transform(ctx context.Context, texts []string) ([]Result, error) {
	if b.client == nil {
		return nil, ErrNotLoaded
	}

	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanRequest{InputText: text})
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return nil, fmt.Errorf("invoke %s for text %d: %w", b.model, i, wrapFatalError(err))
		}

		var resp titanResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		vectors = append(vectors, resp.Embedding)
	}
	return vectorResults(vectors, len(texts), 0)
}

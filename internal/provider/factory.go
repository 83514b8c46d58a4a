package provider

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/docjobs/internal/config"
)

// ErrUnsupported indicates no provider of that name serves the job kind.
var ErrUnsupported = errors.New("unsupported provider")

// Factory builds providers from job parameters and process configuration.
type Factory struct {
	cfg config.Config
}

// NewFactory creates a factory bound to cfg.
func NewFactory(cfg config.Config) *Factory {
	return &Factory{cfg: cfg}
}

// New returns an unloaded provider for kind. Construction checks credentials
// and required fields but performs no I/O.
func (f *Factory) New(kind Kind, spec Spec) (Provider, error) {
	switch kind {
	case KindEmbed:
		switch spec.Name {
		case config.ProviderOllama, config.ProviderOpenAI:
			return NewEmbedder(f.cfg, spec)
		case config.ProviderBedrock:
			return NewBedrock(f.cfg, spec), nil
		case config.ProviderVoyage:
			return NewVoyage(f.cfg, spec)
		}
	case KindExtract:
		switch spec.Name {
		case config.ProviderOllama, config.ProviderOpenAI, config.ProviderAnthropic:
			return NewEntityExtractor(f.cfg, spec)
		}
	case KindTokenize:
		switch spec.Name {
		case config.ProviderTiktoken, "":
			return NewTokenizer(f.cfg, spec), nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil, fmt.Errorf("%w: %q for %s jobs", ErrUnsupported, spec.Name, kind)
}

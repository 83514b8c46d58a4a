package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docjobs/internal/models"
)

// DefaultBatchSize is the page size used when neither the job nor the
// registry sets one.
const DefaultBatchSize = 1000

// DefaultIDField names the document attribute used as the result key.
const DefaultIDField = "id"

func normalizeParams(p models.JobParams, defaultBatchSize int) models.JobParams {
	p.Collection = strings.TrimSpace(p.Collection)
	p.TextField = strings.TrimSpace(p.TextField)
	p.IDField = strings.TrimSpace(p.IDField)
	p.Provider.Name = strings.TrimSpace(p.Provider.Name)
	if p.BatchSize == 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.IDField == "" {
		p.IDField = DefaultIDField
	}
	return p
}

func validateParams(p models.JobParams) error {
	var errs []error
	if p.Collection == "" {
		errs = append(errs, errors.New("collection is required"))
	}
	if p.TextField == "" {
		errs = append(errs, errors.New("text_field is required"))
	}
	if p.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", p.BatchSize))
	}
	if p.MaxBatches < 0 {
		errs = append(errs, fmt.Errorf("max_batches must not be negative, got %d", p.MaxBatches))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParams, errors.Join(errs...))
	}
	return nil
}

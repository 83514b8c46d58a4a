package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/raphaelgruber/docjobs/internal/cursor"
	"github.com/raphaelgruber/docjobs/internal/docstore"
	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/raphaelgruber/docjobs/internal/output"
	"github.com/raphaelgruber/docjobs/internal/provider"
	"github.com/raphaelgruber/docjobs/internal/resource"
	"github.com/raphaelgruber/docjobs/internal/telemetry"
)

// StoreFactory opens a document store connection for one job.
type StoreFactory interface {
	OpenStore(ctx context.Context) (docstore.Store, error)
}

// ProviderFactory builds an unloaded capability provider.
type ProviderFactory interface {
	New(kind provider.Kind, spec provider.Spec) (provider.Provider, error)
}

// DocstoreFactory opens stores through docstore.Open.
type DocstoreFactory struct {
	Driver string
	URL    string
	Logger *slog.Logger
}

func (f DocstoreFactory) OpenStore(ctx context.Context) (docstore.Store, error) {
	return docstore.Open(ctx, f.Driver, f.URL, f.Logger)
}

// CollectionNames opens a short-lived store to list its collections.
func (f DocstoreFactory) CollectionNames(ctx context.Context) ([]string, error) {
	store, err := f.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.CollectionNames(ctx)
}

// Executor runs one job at a time through the fetch, transform and persist loop.
type Executor struct {
	Stores       StoreFactory
	Providers    ProviderFactory
	Output       output.Writer
	FetchTimeout time.Duration
	Metrics      *metrics.Collector
	Logger       *slog.Logger
}

// Run drives job to a terminal state. It never panics and never returns an
// error; the outcome is recorded on the job.
func (e *Executor) Run(ctx context.Context, job *Job) {
	logger := e.logger().With("job_id", job.ID, "kind", job.Kind)
	start := time.Now()
	var totals telemetry.TotalsEvent

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r)
			job.fail(&models.JobError{
				Class:   models.ErrorClassInternal,
				Message: fmt.Sprintf("panic: %v", r),
				Detail:  string(debug.Stack()),
			})
		}
	}()

	err := e.execute(ctx, job, logger, &totals)

	totals.Elapsed = time.Since(start)
	job.emit(totals)

	if err != nil {
		jerr := classify(err)
		job.Logf("job failed (%s): %s", jerr.Class, jerr.Message)
		job.fail(jerr)
		return
	}
	job.complete()
}

func (e *Executor) execute(ctx context.Context, job *Job, logger *slog.Logger, totals *telemetry.TotalsEvent) error {
	params := job.Params
	job.emit(telemetry.PhaseEvent{Phase: "configuring", Progress: telemetry.NoProgress})

	p, err := e.Providers.New(job.Kind, provider.Spec(params.Provider))
	if err != nil {
		return models.NewJobError(models.ErrorClassConfig, fmt.Errorf("provider: %w", err))
	}
	if lp, ok := p.(provider.Logging); ok {
		lp.SetLogf(func(format string, args ...any) {
			line := fmt.Sprintf(format, args...)
			job.apply(telemetry.Extract(line))
			job.Logf("%s", line)
		})
	}

	handle := resource.NewHandle(p, logger)
	defer handle.Release(context.WithoutCancel(ctx))

	store, err := e.Stores.OpenStore(ctx)
	if err != nil {
		return models.NewJobError(models.ErrorClassConfig, fmt.Errorf("open document store: %w", err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing document store failed", "error", err)
		}
	}()

	job.emit(telemetry.PhaseEvent{Phase: "loading model", Progress: telemetry.NoProgress})
	loadStart := time.Now()
	if err := handle.Load(ctx); err != nil {
		if errors.Is(err, provider.ErrFatalAPI) {
			return models.NewJobError(models.ErrorClassProvider, err)
		}
		return models.NewJobError(models.ErrorClassConfig, err)
	}
	e.Metrics.RecordTiming(metrics.OpLoad, time.Since(loadStart))

	capacity := provider.CapacityOf(p)
	job.emit(telemetry.ModelReadyEvent{Model: p.Name(), Capacity: capacity})

	if err := e.checkSchema(ctx, store, params); err != nil {
		return err
	}

	key := output.Key{
		Operation:  string(job.Kind),
		Model:      p.Name(),
		Collection: params.Collection,
		Field:      params.TextField,
	}
	if e.Output != nil {
		err := e.Output.WriteSchema(ctx, output.Descriptor{
			Key:       key,
			Kind:      string(job.Kind),
			Provider:  p.Name(),
			TextField: params.TextField,
			IDField:   params.IDField,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return models.NewJobError(models.ErrorClassIO, err)
		}
	}

	job.setRunning()
	job.emit(telemetry.PhaseEvent{Phase: "processing", Progress: 0})

	cur := cursor.New(params.BatchSize, capacity, params.MaxBatches)
	fetcher := &cursor.Fetcher{
		Store:      store,
		Collection: params.Collection,
		Filter:     params.Filter,
		Timeout:    e.FetchTimeout,
		Logger:     logger,
		OnRetry: func(offset int, err error) {
			job.Logf("fetch at offset %d failed (%v), reconnecting and retrying once", offset, err)
		},
	}
	if capacity > 0 && cur.EffectiveBatchSize < cur.BatchSize {
		job.Logf("pages of %d are split into sub-batches of %d", cur.BatchSize, cur.EffectiveBatchSize)
	}

	defer func() {
		totals.Seen = cur.DocumentsSeen
		totals.Skipped = cur.DocumentsSkipped
	}()

	for !cur.LimitReached() {
		if err := ctx.Err(); err != nil {
			return models.NewJobError(models.ErrorClassCanceled, fmt.Errorf("canceled at offset %d: %w", cur.Offset, err))
		}

		fetchStart := time.Now()
		page, err := fetcher.Fetch(ctx, cur)
		if err != nil {
			if ctx.Err() != nil {
				return models.NewJobError(models.ErrorClassCanceled, err)
			}
			return models.NewJobError(models.ErrorClassIO, err)
		}
		e.Metrics.RecordItems(metrics.OpFetch, time.Since(fetchStart), int64(len(page.Documents)))
		job.emit(telemetry.PageEvent{Offset: cur.Offset, Retrieved: len(page.Documents), Total: page.Total})

		if len(page.Documents) == 0 {
			break
		}

		batchStart := time.Now()
		res, err := e.transform(ctx, job, cur, p, page.Documents)
		if err != nil {
			return err
		}

		if e.Output != nil {
			persistStart := time.Now()
			err := e.Output.WriteUnit(ctx, output.Unit{
				Key:        key,
				Offset:     cur.Offset,
				BatchIndex: cur.BatchIndex,
				Items:      res.items,
				Skipped:    res.skipped,
				WrittenAt:  time.Now(),
			})
			if err != nil {
				return models.NewJobError(models.ErrorClassIO, fmt.Errorf("persist offset %d: %w", cur.Offset, err))
			}
			e.Metrics.RecordTiming(metrics.OpPersist, time.Since(persistStart))
		}

		cur.Advance(len(res.skipped))
		totals.Processed += len(page.Documents) - len(res.skipped)

		job.emit(telemetry.BatchEvent{
			Index:            cur.BatchIndex,
			Documents:        len(page.Documents),
			Skipped:          len(res.skipped),
			FailedSubBatches: res.failed,
			Units:            res.units,
			Metric:           job.Kind.Metric(),
			Elapsed:          time.Since(batchStart),
			NextOffset:       cur.Offset,
		})
		job.apply(telemetry.Update{Progress: estimateProgress(cur.Offset, page.Total)})

		if cur.ShortPage(len(page.Documents)) {
			break
		}
	}

	if cur.LimitReached() {
		job.Logf("batch ceiling of %d reached", cur.MaxBatches)
	}
	return nil
}

type batchResult struct {
	items   []output.Item
	skipped []string
	failed  int
	units   int
}

// transform runs the provider over one page. Documents without text and
// sub-batches the provider rejects are counted as skipped. Only fatal
// provider errors are returned.
func (e *Executor) transform(ctx context.Context, job *Job, cur *cursor.Cursor, p provider.Provider, docs []docstore.Document) (batchResult, error) {
	var res batchResult
	field, idField := job.Params.TextField, job.Params.IDField

	position := cur.Offset
	for i, chunk := range cur.Chunks(docs) {
		texts := make([]string, 0, len(chunk))
		ids := make([]string, 0, len(chunk))
		for _, doc := range chunk {
			id := doc.ID(idField)
			if id == "" {
				id = strconv.Itoa(position)
			}
			position++

			text, ok := doc.Text(field)
			if !ok {
				res.skipped = append(res.skipped, id)
				continue
			}
			texts = append(texts, text)
			ids = append(ids, id)
		}
		if len(texts) == 0 {
			continue
		}

		start := time.Now()
		results, err := safeTransform(ctx, p, texts)
		if err == nil && len(results) != len(texts) {
			err = fmt.Errorf("provider returned %d results for %d texts", len(results), len(texts))
		}
		if err != nil {
			if errors.Is(err, provider.ErrFatalAPI) {
				return res, models.NewJobError(models.ErrorClassProvider, err)
			}
			res.failed++
			res.skipped = append(res.skipped, ids...)
			job.Logf("sub-batch %d at offset %d failed, %d documents skipped: %v", i, cur.Offset, len(ids), err)
			continue
		}
		e.Metrics.RecordItems(metrics.OpTransform, time.Since(start), int64(len(texts)))

		for k, r := range results {
			res.items = append(res.items, output.Item{DocID: ids[k], Value: r.Value, Units: r.Units})
			res.units += r.Units
		}
	}
	return res, nil
}

// safeTransform turns a panic in provider code into an error so the
// sub-batch is skipped like any other failure.
func safeTransform(ctx context.Context, p provider.Provider, texts []string) (results []provider.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.Transform(ctx, texts)
}

// checkSchema fails with a data error when the text field cannot exist in
// the collection. Stores that cannot list fields are sampled with one document;
// an empty collection passes.
func (e *Executor) checkSchema(ctx context.Context, store docstore.Store, params models.JobParams) error {
	fields, err := store.TextFields(ctx, params.Collection)
	if errors.Is(err, docstore.ErrCollectionNotFound) {
		return models.NewJobError(models.ErrorClassData, err)
	}
	if err == nil && len(fields) > 0 {
		if !docstore.MatchField(fields, params.TextField) {
			return models.NewJobError(models.ErrorClassData,
				fmt.Errorf("text field %q is not a text field of collection %q", params.TextField, params.Collection))
		}
		return nil
	}

	timeout := e.FetchTimeout
	if timeout <= 0 {
		timeout = cursor.DefaultTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sample, err := store.Query(sctx, docstore.Query{Collection: params.Collection, Filter: params.Filter, Limit: 1})
	if err != nil {
		if errors.Is(err, docstore.ErrCollectionNotFound) {
			return models.NewJobError(models.ErrorClassData, err)
		}
		return models.NewJobError(models.ErrorClassIO, fmt.Errorf("sample collection: %w", err))
	}
	if len(sample.Documents) == 0 {
		return nil
	}
	if _, ok := sample.Documents[0][params.TextField]; !ok {
		return models.NewJobError(models.ErrorClassData,
			fmt.Errorf("text field %q is absent from documents of collection %q", params.TextField, params.Collection))
	}
	return nil
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// estimateProgress maps the cursor position onto the collection size. The
// last percent is reserved for completion.
func estimateProgress(offset, total int) int {
	if total <= 0 {
		return telemetry.NoProgress
	}
	return min(offset*100/total, 99)
}

// classify returns the job error carried by err, treating anything
// unclassified as internal.
func classify(err error) *models.JobError {
	var jerr *models.JobError
	if errors.As(err, &jerr) {
		return jerr
	}
	return models.NewJobError(models.ErrorClassInternal, err)
}

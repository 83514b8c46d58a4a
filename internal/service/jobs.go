// Package service runs batch jobs and tracks their state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/docjobs/internal/logsink"
	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/raphaelgruber/docjobs/internal/provider"
	"github.com/raphaelgruber/docjobs/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

// Sentinel errors returned by the registry.
var (
	ErrNotFound      = errors.New("job not found")
	ErrJobActive     = errors.New("job is still active")
	ErrJobFinished   = errors.New("job already finished")
	ErrInvalidParams = errors.New("invalid job parameters")
	ErrShuttingDown  = errors.New("registry is shutting down")
)

// Defaults applied when the registry is built without options.
const (
	DefaultMaxConcurrent = 4
	DefaultStatusLogTail = 20
)

// Job is one tracked run. Its mutable fields are written only by the executor
// running it; everyone else reads through Snapshot.
type Job struct {
	ID        string
	Kind      provider.Kind
	Params    models.JobParams
	StartedAt time.Time

	mu          sync.RWMutex
	status      models.JobStatus
	progress    int
	message     string
	metrics     map[string]float64
	err         *models.JobError
	completedAt *time.Time

	logs   *logsink.Sink
	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(id string, kind provider.Kind, params models.JobParams, logCapacity int) *Job {
	return &Job{
		ID:        id,
		Kind:      kind,
		Params:    params,
		StartedAt: time.Now(),
		status:    models.JobStatusStarting,
		message:   "queued",
		metrics:   make(map[string]float64),
		logs:      logsink.New(logCapacity),
		done:      make(chan struct{}),
	}
}

// Snapshot returns a thread-safe copy of job state including the last tail
// log lines. A negative tail includes every retained line.
func (j *Job) Snapshot(tail int) models.JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := models.JobSnapshot{
		ID:          j.ID,
		Kind:        string(j.Kind),
		Status:      j.status,
		Progress:    j.progress,
		Message:     j.message,
		Metrics:     maps.Clone(j.metrics),
		StartedAt:   j.StartedAt,
		CompletedAt: j.completedAt,
		Params:      j.Params,
	}
	if j.err != nil {
		e := *j.err
		snap.Error = &e
	}
	if tail != 0 {
		snap.Logs = j.logs.Recent(tail)
	}
	return snap
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Logf appends a timestamped diagnostic line.
func (j *Job) Logf(format string, args ...any) {
	j.logs.Append(time.Now().Format("15:04:05") + " " + fmt.Sprintf(format, args...))
}

// emit records a typed event: its update goes to the metrics, its line to the log.
func (j *Job) emit(ev telemetry.Event) {
	j.apply(ev.Update())
	j.Logf("%s", ev.Line())
}

// apply merges a metric update. Progress only moves forward.
func (j *Job) apply(u telemetry.Update) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return
	}
	for k, v := range u.Set {
		j.metrics[k] = v
	}
	for k, v := range u.Add {
		j.metrics[k] += v
	}
	if u.Progress != telemetry.NoProgress {
		j.setProgressLocked(u.Progress)
	}
	if u.Phase != "" {
		j.message = u.Phase
	}
}

func (j *Job) setProgressLocked(p int) {
	p = min(max(p, 0), 100)
	if p > j.progress {
		j.progress = p
	}
}

func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == models.JobStatusStarting {
		j.status = models.JobStatusRunning
	}
}

// complete marks the job completed. It reports false when the job was
// already terminal.
func (j *Job) complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = models.JobStatusCompleted
	j.progress = 100
	j.message = "completed"
	now := time.Now()
	j.completedAt = &now
	close(j.done)
	return true
}

func (j *Job) fail(jerr *models.JobError) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = models.JobStatusFailed
	j.err = jerr
	j.message = "failed: " + jerr.Message
	now := time.Now()
	j.completedAt = &now
	close(j.done)
	return true
}

func (j *Job) terminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.Terminal()
}

// Runner executes a job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *Job)
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxConcurrent bounds how many jobs run at once.
func WithMaxConcurrent(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithLogCapacity sets how many log lines each job retains.
func WithLogCapacity(n int) Option {
	return func(r *Registry) { r.logCapacity = n }
}

// WithStatusLogTail sets how many log lines a status snapshot includes.
func WithStatusLogTail(n int) Option {
	return func(r *Registry) { r.statusTail = n }
}

// WithDefaultBatchSize sets the page size used when a job does not give one.
func WithDefaultBatchSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.defaultBatchSize = n
		}
	}
}

// WithMetrics records job counts into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry tracks jobs and schedules them on a bounded worker pool.
type Registry struct {
	jobs map[string]*Job
	mu   sync.RWMutex

	runner           Runner
	sem              *semaphore.Weighted
	maxConcurrent    int
	logCapacity      int
	statusTail       int
	defaultBatchSize int
	metrics          *metrics.Collector
	logger           *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewRegistry creates a registry that runs jobs with runner.
func NewRegistry(runner Runner, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		jobs:             make(map[string]*Job),
		runner:           runner,
		maxConcurrent:    DefaultMaxConcurrent,
		logCapacity:      logsink.DefaultCapacity,
		statusTail:       DefaultStatusLogTail,
		defaultBatchSize: DefaultBatchSize,
		logger:           slog.Default(),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sem = semaphore.NewWeighted(int64(r.maxConcurrent))
	return r
}

// MaxConcurrent returns the worker pool size.
func (r *Registry) MaxConcurrent() int {
	return r.maxConcurrent
}

// Submit validates the request, creates the job in starting state and
// schedules it. It never waits for the job to run.
func (r *Registry) Submit(kind string, params models.JobParams) (string, error) {
	k, err := provider.ParseKind(kind)
	if err != nil {
		return "", err
	}
	params = normalizeParams(params, r.defaultBatchSize)
	if err := validateParams(params); err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrShuttingDown
	}
	id := r.newIDLocked()
	job := newJob(id, k, params, r.logCapacity)
	ctx, cancel := context.WithCancel(r.ctx)
	job.cancel = cancel
	r.jobs[id] = job
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.JobSubmitted()
	r.logger.Info("job submitted", "job_id", id, "kind", k, "collection", params.Collection)

	go r.run(ctx, job)
	return id, nil
}

func (r *Registry) run(ctx context.Context, job *Job) {
	defer r.wg.Done()
	defer job.cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		job.fail(models.NewJobError(models.ErrorClassCanceled, errors.New("canceled before start")))
		r.finished(job)
		return
	}
	defer r.sem.Release(1)

	r.runner.Run(ctx, job)
	r.finished(job)
}

func (r *Registry) finished(job *Job) {
	snap := job.Snapshot(0)
	r.metrics.JobFinished(snap.Status == models.JobStatusFailed)
	if snap.Error != nil {
		r.logger.Error("job failed", "job_id", job.ID, "class", snap.Error.Class, "error", snap.Error.Message)
		return
	}
	r.logger.Info("job completed", "job_id", job.ID, "processed", snap.Metrics[telemetry.MetricDocumentsProcessed])
}

// newIDLocked returns a short random id not used by any tracked job.
func (r *Registry) newIDLocked() string {
	for {
		id := uuid.New().String()[:8]
		if _, taken := r.jobs[id]; !taken {
			return id
		}
	}
}

func (r *Registry) get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// Status returns a snapshot of the job with the tail of its log.
func (r *Registry) Status(id string) (models.JobSnapshot, error) {
	job, err := r.get(id)
	if err != nil {
		return models.JobSnapshot{}, err
	}
	return job.Snapshot(r.statusTail), nil
}

// Logs returns at most lastN of the job's most recent lines, oldest first.
// A negative lastN returns everything retained.
func (r *Registry) Logs(id string, lastN int) ([]string, error) {
	job, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return job.logs.Recent(lastN), nil
}

// List returns snapshots of all jobs, most recent first.
func (r *Registry) List() []models.JobSnapshot {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	snaps := make([]models.JobSnapshot, len(jobs))
	for i, job := range jobs {
		snaps[i] = job.Snapshot(0)
	}
	return snaps
}

// Wait blocks until the job is terminal or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (models.JobSnapshot, error) {
	job, err := r.get(id)
	if err != nil {
		return models.JobSnapshot{}, err
	}
	select {
	case <-job.Done():
		return job.Snapshot(r.statusTail), nil
	case <-ctx.Done():
		return job.Snapshot(r.statusTail), ctx.Err()
	}
}

// Cancel asks a job to stop. The job checks for cancellation between pages
// and then fails with class canceled.
func (r *Registry) Cancel(id string) error {
	job, err := r.get(id)
	if err != nil {
		return err
	}
	if job.terminal() {
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}
	job.Logf("cancellation requested")
	job.cancel()
	r.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// Remove forgets a terminal job.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !job.terminal() {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	delete(r.jobs, id)
	return nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for every
// worker to return or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

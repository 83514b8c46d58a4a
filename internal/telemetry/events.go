// Package telemetry turns job progress into metrics and diagnostic lines.
//
// Executors emit typed events. Every event knows its metric update and its
// human-readable line, and Extract recovers the same update from the line, so
// metrics stay observable whether a component reports structured events or
// only writes text.
package telemetry

import (
	"fmt"
	"math"
	"time"
)

// Metric names exposed on job snapshots.
const (
	MetricDocumentsSeen      = "documents_seen"
	MetricDocumentsProcessed = "documents_processed"
	MetricDocumentsSkipped   = "documents_skipped"
	MetricBatchIndex         = "batch_index"
	MetricOffset             = "offset"
	MetricFailedSubBatches   = "failed_sub_batches"
	MetricTotalCount         = "total_count"
	MetricLastPageSize       = "last_page_size"
	MetricBatchSeconds       = "batch_seconds"
	MetricDurationSeconds    = "duration_seconds"
	MetricDocsPerSecond      = "docs_per_second"
	MetricMaxBatchCapacity   = "max_batch_capacity"
)

// NoProgress marks an update that carries no progress estimate.
const NoProgress = -1

// Update is the metric delta carried by a single line or event.
// Set values overwrite, Add values accumulate.
type Update struct {
	Set      map[string]float64
	Add      map[string]float64
	Progress int
	Phase    string
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.Add) == 0 && u.Progress == NoProgress && u.Phase == ""
}

// Event is a structured progress report.
type Event interface {
	Update() Update
	Line() string
}

// PhaseEvent announces a lifecycle phase, optionally with a progress estimate.
type PhaseEvent struct {
	Phase    string
	Progress int
}

func (e PhaseEvent) Update() Update {
	return Update{Phase: e.Phase, Progress: e.Progress}
}

func (e PhaseEvent) Line() string {
	if e.Progress == NoProgress {
		return "phase: " + e.Phase
	}
	return fmt.Sprintf("phase: %s (%d%%)", e.Phase, e.Progress)
}

// PageEvent reports a fetched page.
type PageEvent struct {
	Offset    int
	Retrieved int
	Total     int
}

func (e PageEvent) Update() Update {
	return Update{
		Set: map[string]float64{
			MetricTotalCount:   float64(e.Total),
			MetricLastPageSize: float64(e.Retrieved),
		},
		Add: map[string]float64{
			MetricDocumentsSeen: float64(e.Retrieved),
		},
		Progress: NoProgress,
	}
}

func (e PageEvent) Line() string {
	return fmt.Sprintf("retrieved %d documents at offset %d (total %d)", e.Retrieved, e.Offset, e.Total)
}

// BatchEvent reports a page that has been transformed and persisted.
type BatchEvent struct {
	Index            int
	Documents        int
	Skipped          int
	FailedSubBatches int
	Units            int
	Metric           string
	Elapsed          time.Duration
	NextOffset       int
}

func (e BatchEvent) Update() Update {
	u := Update{
		Set: map[string]float64{
			MetricBatchIndex:   float64(e.Index),
			MetricOffset:       float64(e.NextOffset),
			MetricBatchSeconds: round2(e.Elapsed.Seconds()),
		},
		Add: map[string]float64{
			MetricDocumentsProcessed: float64(e.Documents - e.Skipped),
			MetricDocumentsSkipped:   float64(e.Skipped),
			MetricFailedSubBatches:   float64(e.FailedSubBatches),
		},
		Progress: NoProgress,
	}
	u.Add[e.metric()] += float64(e.Units)
	return u
}

func (e BatchEvent) Line() string {
	return fmt.Sprintf("batch %d: %d documents, %d skipped, %d failed sub-batches, %d %s in %.2fs, next offset %d",
		e.Index, e.Documents, e.Skipped, e.FailedSubBatches, e.Units, e.metric(), round2(e.Elapsed.Seconds()), e.NextOffset)
}

func (e BatchEvent) metric() string {
	if e.Metric == "" {
		return "units"
	}
	return e.Metric
}

// TotalsEvent summarizes a finished run.
type TotalsEvent struct {
	Processed int
	Skipped   int
	Seen      int
	Elapsed   time.Duration
}

func (e TotalsEvent) Update() Update {
	secs := round2(e.Elapsed.Seconds())
	return Update{
		Set: map[string]float64{
			MetricDocumentsProcessed: float64(e.Processed),
			MetricDocumentsSkipped:   float64(e.Skipped),
			MetricDocumentsSeen:      float64(e.Seen),
			MetricDurationSeconds:    secs,
			MetricDocsPerSecond:      e.rate(),
		},
		Progress: NoProgress,
	}
}

func (e TotalsEvent) Line() string {
	return fmt.Sprintf("totals: %d processed, %d skipped, %d seen in %.2fs (%.2f docs/s)",
		e.Processed, e.Skipped, e.Seen, round2(e.Elapsed.Seconds()), e.rate())
}

func (e TotalsEvent) rate() float64 {
	secs := e.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return round2(float64(e.Processed) / secs)
}

// ModelReadyEvent reports that a capability provider finished loading.
type ModelReadyEvent struct {
	Model    string
	Capacity int // 0 when the provider imposes no limit
}

func (e ModelReadyEvent) Update() Update {
	u := Update{Phase: "model ready", Progress: NoProgress}
	if e.Capacity > 0 {
		u.Set = map[string]float64{MetricMaxBatchCapacity: float64(e.Capacity)}
	}
	return u
}

func (e ModelReadyEvent) Line() string {
	if e.Capacity > 0 {
		return fmt.Sprintf("model %s ready, max batch capacity %d", e.Model, e.Capacity)
	}
	return fmt.Sprintf("model %s ready", e.Model)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Package models defines the data structures shared by the job engine, the
// HTTP API and its clients.
package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusStarting  JobStatus = "starting"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorClass categorizes why a job failed.
type ErrorClass string

const (
	ErrorClassConfig   ErrorClass = "config"
	ErrorClassIO       ErrorClass = "io"
	ErrorClassData     ErrorClass = "data"
	ErrorClassProvider ErrorClass = "provider"
	ErrorClassCanceled ErrorClass = "canceled"
	ErrorClassInternal ErrorClass = "internal"
)

// JobError is the failure recorded on a job.
type JobError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Detail  string     `json:"detail,omitempty"`
	Err     error      `json:"-"`
}

// NewJobError classifies err.
func NewJobError(class ErrorClass, err error) *JobError {
	return &JobError{Class: class, Message: err.Error(), Err: err}
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Class, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of a *JobError in err's chain, or "" if none.
func ClassOf(err error) ErrorClass {
	var je *JobError
	if errors.As(err, &je) {
		return je.Class
	}
	return ""
}

// ProviderSpec selects the capability provider a job uses.
type ProviderSpec struct {
	Name    string         `json:"name" yaml:"name"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// JobParams are the validated parameters of a job.
type JobParams struct {
	Collection string       `json:"collection" yaml:"collection"`
	TextField  string       `json:"text_field" yaml:"text_field"`
	Filter     string       `json:"filter,omitempty" yaml:"filter,omitempty"`
	BatchSize  int          `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	MaxBatches int          `json:"max_batches,omitempty" yaml:"max_batches,omitempty"`
	IDField    string       `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	Provider   ProviderSpec `json:"provider" yaml:"provider"`
}

// JobSnapshot is a point-in-time copy of a job.
type JobSnapshot struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Status      JobStatus          `json:"status"`
	Progress    int                `json:"progress"`
	Message     string             `json:"message,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
	Logs        []string           `json:"logs,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Error       *JobError          `json:"error,omitempty"`
	Params      JobParams          `json:"params"`
}

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	Kind   string    `json:"kind" yaml:"kind"`
	Params JobParams `json:"params" yaml:"params"`
}

// SubmitResponse returns the id of an accepted job.
type SubmitResponse struct {
	ID string `json:"id"`
}

// LogsResponse carries the retained diagnostic lines of a job.
type LogsResponse struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

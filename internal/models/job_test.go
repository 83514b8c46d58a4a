package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusStarting, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestJobErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("fetch: %w", NewJobError(ErrorClassIO, cause))

	assert.Equal(t, ErrorClassIO, ClassOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "io error: connection refused", errors.Unwrap(err).Error())
	assert.Equal(t, ErrorClass(""), ClassOf(cause))
}

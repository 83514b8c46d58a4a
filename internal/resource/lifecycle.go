// Package resource manages the load and release of capability providers.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/docjobs/internal/provider"
)

// Handle owns a provider for the duration of one job.
type Handle struct {
	provider provider.Provider
	logger   *slog.Logger

	loaded   bool
	once     sync.Once
	releases atomic.Int32
}

// NewHandle wraps p without loading it. Release still unloads p, so a handle
// taken before setup that fails later frees whatever p holds.
func NewHandle(p provider.Provider, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{provider: p, logger: logger}
}

// Acquire loads p. The returned handle is non-nil even when loading fails, so
// callers can defer Release unconditionally right after the call.
func Acquire(ctx context.Context, p provider.Provider, logger *slog.Logger) (*Handle, error) {
	h := NewHandle(p, logger)
	return h, h.Load(ctx)
}

// Load loads the provider.
func (h *Handle) Load(ctx context.Context) error {
	start := time.Now()
	if err := h.provider.Load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", h.provider.Name(), err)
	}
	h.loaded = true

	h.logger.Info("provider loaded", "provider", h.provider.Name(), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Provider returns the managed provider.
func (h *Handle) Provider() provider.Provider {
	return h.provider
}

// Loaded reports whether Acquire completed.
func (h *Handle) Loaded() bool {
	return h.loaded
}

// Release unloads the provider and returns memory to the runtime. Only the
// first call has any effect. Failures are logged and never returned.
func (h *Handle) Release(ctx context.Context) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.releases.Add(1)

		// Unload also runs after a failed Load to drop partial state.
		if err := h.provider.Unload(ctx); err != nil {
			h.logger.Warn("provider unload failed", "provider", h.provider.Name(), "error", err)
		}

		runtime.GC()
		debug.FreeOSMemory()

		if acc, ok := h.provider.(provider.Accelerated); ok {
			if err := acc.FreeAccelerator(); err != nil {
				h.logger.Warn("freeing accelerator memory failed", "provider", h.provider.Name(), "error", err)
			}
		}

		h.logger.Debug("provider released", "provider", h.provider.Name(), "was_loaded", h.loaded)
	})
}

// Releases reports how many times the release body has run (0 or 1).
func (h *Handle) Releases() int {
	return int(h.releases.Load())
}

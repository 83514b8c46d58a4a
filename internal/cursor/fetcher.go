package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/raphaelgruber/docjobs/internal/docstore"
)

// ErrFetchTimeout indicates a page could not be fetched even after reconnecting.
var ErrFetchTimeout = errors.New("fetch timed out after reconnect")

// DefaultTimeout bounds a single page query when none is configured.
const DefaultTimeout = 30 * time.Second

// Fetcher reads pages of one collection.
type Fetcher struct {
	Store      docstore.Store
	Collection string
	Filter     string
	Timeout    time.Duration
	Logger     *slog.Logger

	// OnRetry, if set, is called before the reconnect that follows a failed fetch.
	OnRetry func(offset int, err error)
}

// Fetch reads the page at the cursor's offset. A retryable failure triggers
// exactly one Reconnect and one retry; the cursor is never moved here except
// for its DocumentsSeen count on success.
func (f *Fetcher) Fetch(ctx context.Context, c *Cursor) (docstore.Result, error) {
	res, err := f.query(ctx, c)
	if err == nil {
		c.observe(len(res.Documents))
		return res, nil
	}
	if ctx.Err() != nil {
		return docstore.Result{}, ctx.Err()
	}
	if !Retryable(err) {
		return docstore.Result{}, fmt.Errorf("fetch offset %d: %w", c.Offset, err)
	}

	f.logger().Warn("fetch failed, reconnecting", "collection", f.Collection, "offset", c.Offset, "error", err)
	if f.OnRetry != nil {
		f.OnRetry(c.Offset, err)
	}
	if rerr := f.Store.Reconnect(ctx); rerr != nil {
		return docstore.Result{}, fmt.Errorf("%w: offset %d: reconnect: %w", ErrFetchTimeout, c.Offset, rerr)
	}

	res, err = f.query(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return docstore.Result{}, ctx.Err()
		}
		if Retryable(err) {
			return docstore.Result{}, fmt.Errorf("%w: offset %d: %w", ErrFetchTimeout, c.Offset, err)
		}
		return docstore.Result{}, fmt.Errorf("fetch offset %d after reconnect: %w", c.Offset, err)
	}

	c.observe(len(res.Documents))
	return res, nil
}

type outcome struct {
	res docstore.Result
	err error
}

// query runs the store call on its own goroutine so a store that ignores
// cancellation still cannot hold the job past the timeout.
func (f *Fetcher) query(ctx context.Context, c *Cursor) (docstore.Result, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := docstore.Query{
		Collection: f.Collection,
		Filter:     f.Filter,
		Offset:     c.Offset,
		Limit:      c.BatchSize,
	}

	done := make(chan outcome, 1)
	go func() {
		res, err := f.Store.Query(qctx, q)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-qctx.Done():
		return docstore.Result{}, qctx.Err()
	}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Retryable reports whether err is worth one reconnect and retry.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, docstore.ErrUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/docjobs/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStore answers queries from a fixed corpus; hang makes the next N
// queries block until their context ends.
type scriptedStore struct {
	mu         sync.Mutex
	docs       int
	hang       int
	failWith   error
	queries    []docstore.Query
	reconnects int
}

func (s *scriptedStore) CollectionNames(context.Context) ([]string, error) { return []string{"c"}, nil }

func (s *scriptedStore) TextFields(context.Context, string) ([]string, error) { return nil, nil }

func (s *scriptedStore) Close() error { return nil }

func (s *scriptedStore) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *scriptedStore) counts() (queries, reconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries), s.reconnects
}

func (s *scriptedStore) Query(ctx context.Context, q docstore.Query) (docstore.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	hang := s.hang > 0
	if hang {
		s.hang--
	}
	failWith := s.failWith
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return docstore.Result{}, ctx.Err()
	}
	if failWith != nil {
		return docstore.Result{}, failWith
	}

	var docs []docstore.Document
	for i := q.Offset; i < min(q.Offset+q.Limit, s.docs); i++ {
		docs = append(docs, docstore.Document{"id": fmt.Sprint(i)})
	}
	return docstore.Result{Documents: docs, Total: s.docs}, nil
}

func TestNewEffectiveBatchSize(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		capacity  int
		effective int
	}{
		{"no capacity", 1000, 0, 1000},
		{"capacity below batch", 1000, 64, 64},
		{"capacity above batch", 100, 512, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.batch, tt.capacity, 0)
			assert.Equal(t, tt.batch, c.BatchSize)
			assert.Equal(t, tt.effective, c.EffectiveBatchSize)
		})
	}
}

func TestChunks(t *testing.T) {
	docs := make([]docstore.Document, 10)

	c := New(10, 4, 0)
	chunks := c.Chunks(docs)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4)
	assert.Len(t, chunks[2], 2)

	assert.Len(t, New(10, 0, 0).Chunks(docs), 1)
	assert.Nil(t, New(10, 4, 0).Chunks(nil))
}

func TestAdvanceMovesByRequestedSize(t *testing.T) {
	c := New(1000, 64, 2)

	c.Advance(3)
	assert.Equal(t, 1000, c.Offset)
	assert.Equal(t, 1, c.BatchIndex)
	assert.Equal(t, 3, c.DocumentsSkipped)
	assert.False(t, c.LimitReached())

	c.Advance(0)
	assert.Equal(t, 2000, c.Offset)
	assert.True(t, c.LimitReached())

	assert.True(t, c.ShortPage(999))
	assert.False(t, c.ShortPage(1000))
}

func TestFetchPages(t *testing.T) {
	store := &scriptedStore{docs: 2500}
	f := &Fetcher{Store: store, Collection: "c", Timeout: time.Second}
	c := New(1000, 0, 0)

	var sizes []int
	for {
		res, err := f.Fetch(context.Background(), c)
		require.NoError(t, err)
		if len(res.Documents) == 0 {
			break
		}
		sizes = append(sizes, len(res.Documents))
		c.Advance(0)
		if c.ShortPage(len(res.Documents)) {
			break
		}
	}

	assert.Equal(t, []int{1000, 1000, 500}, sizes)
	queries, reconnects := store.counts()
	assert.Equal(t, 3, queries)
	assert.Equal(t, 2500, c.DocumentsSeen)
	assert.Zero(t, reconnects)
}

func TestFetchRetriesOnceAfterTimeout(t *testing.T) {
	store := &scriptedStore{docs: 50, hang: 1}
	var retried []int
	f := &Fetcher{
		Store:      store,
		Collection: "c",
		Timeout:    20 * time.Millisecond,
		OnRetry:    func(offset int, _ error) { retried = append(retried, offset) },
	}
	c := New(10, 0, 0)

	res, err := f.Fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Len(t, res.Documents, 10)
	queries, reconnects := store.counts()
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, []int{0}, retried)
	assert.Equal(t, 2, queries)
}

func TestFetchFailsAfterSecondTimeout(t *testing.T) {
	store := &scriptedStore{docs: 50, hang: 2}
	f := &Fetcher{Store: store, Collection: "c", Timeout: 20 * time.Millisecond}
	c := New(10, 0, 0)
	c.Offset = 30

	_, err := f.Fetch(context.Background(), c)
	require.ErrorIs(t, err, ErrFetchTimeout)
	queries, reconnects := store.counts()
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, 2, queries)
	assert.Equal(t, 30, c.Offset)
	assert.Zero(t, c.DocumentsSeen)
}

func TestFetchNonRetryableFailsImmediately(t *testing.T) {
	store := &scriptedStore{failWith: docstore.ErrCollectionNotFound}
	f := &Fetcher{Store: store, Collection: "c", Timeout: time.Second}

	_, err := f.Fetch(context.Background(), New(10, 0, 0))
	require.ErrorIs(t, err, docstore.ErrCollectionNotFound)
	assert.NotErrorIs(t, err, ErrFetchTimeout)
	_, reconnects := store.counts()
	assert.Zero(t, reconnects)
}

func TestFetchCanceledContext(t *testing.T) {
	store := &scriptedStore{hang: 1}
	f := &Fetcher{Store: store, Collection: "c", Timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := f.Fetch(ctx, New(10, 0, 0))
	require.ErrorIs(t, err, context.Canceled)
	_, reconnects := store.counts()
	assert.Zero(t, reconnects)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(fmt.Errorf("wrap: %w", docstore.ErrUnavailable)))
	assert.False(t, Retryable(errors.New("syntax error")))
	assert.False(t, Retryable(context.Canceled))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/raphaelgruber/docjobs/internal/docstore"
	"github.com/raphaelgruber/docjobs/internal/output"
	"github.com/raphaelgruber/docjobs/internal/provider"
)

type fakeStore struct {
	mu         sync.Mutex
	docs       []docstore.Document
	fields     []string
	hangAt     int // queries at or past this offset block until canceled; <0 disables
	queries    int
	offsets    []int
	reconnects int
	closed     bool
}

func newFakeStore(n int, field string) *fakeStore {
	docs := make([]docstore.Document, n)
	for i := range docs {
		docs[i] = docstore.Document{"id": fmt.Sprintf("doc-%d", i), field: fmt.Sprintf("text %d", i)}
	}
	return &fakeStore{docs: docs, fields: []string{field, "title"}, hangAt: -1}
}

func (s *fakeStore) CollectionNames(context.Context) ([]string, error) {
	return []string{"articles"}, nil
}

func (s *fakeStore) Query(ctx context.Context, q docstore.Query) (docstore.Result, error) {
	s.mu.Lock()
	s.queries++
	s.offsets = append(s.offsets, q.Offset)
	hang := s.hangAt >= 0 && q.Offset >= s.hangAt
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return docstore.Result{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start := min(q.Offset, len(s.docs))
	end := min(start+q.Limit, len(s.docs))
	return docstore.Result{Documents: s.docs[start:end], Total: len(s.docs)}, nil
}

func (s *fakeStore) TextFields(context.Context, string) ([]string, error) {
	return s.fields, nil
}

func (s *fakeStore) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type storeCounts struct {
	queries    int
	offsets    []int
	reconnects int
	closed     bool
}

func (s *fakeStore) counts() storeCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storeCounts{queries: s.queries, offsets: append([]int(nil), s.offsets...), reconnects: s.reconnects, closed: s.closed}
}

// storeFactory hands out one store, optionally waiting on gate first.
type storeFactory struct {
	store docstore.Store
	err   error
	gate  chan struct{}
}

func (f *storeFactory) OpenStore(ctx context.Context) (docstore.Store, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.store, nil
}

type fakeProvider struct {
	capacity    int
	loadErr     error
	failWhen    func(texts []string) error
	panicWhen   string
	panicOnLoad bool
	onCall      func()
	logOnLoad   string

	logf     func(format string, args ...any)
	unloads  atomic.Int32
	calls    atomic.Int32
	received atomic.Int64
}

func (p *fakeProvider) Name() string { return "fake/model" }
func (p *fakeProvider) Kind() provider.Kind { return provider.KindTokenize }

func (p *fakeProvider) Load(context.Context) error {
	if p.panicOnLoad {
		panic("weights corrupted")
	}
	if p.logOnLoad != "" && p.logf != nil {
		p.logf("%s", p.logOnLoad)
	}
	return p.loadErr
}

func (p *fakeProvider) Unload(context.Context) error {
	p.unloads.Add(1)
	return nil
}

func (p *fakeProvider) MaxBatchCapacity() int { return p.capacity }

func (p *fakeProvider) SetLogf(logf func(format string, args ...any)) { p.logf = logf }

func (p *fakeProvider) Transform(_ context.Context, texts []string) ([]provider.Result, error) {
	p.calls.Add(1)
	if p.onCall != nil {
		p.onCall()
	}
	for _, t := range texts {
		if p.panicWhen != "" && t == p.panicWhen {
			panic("tokenizer exploded")
		}
	}
	if p.failWhen != nil {
		if err := p.failWhen(texts); err != nil {
			return nil, err
		}
	}
	p.received.Add(int64(len(texts)))
	results := make([]provider.Result, len(texts))
	for i, t := range texts {
		n := len(strings.Fields(t))
		results[i] = provider.Result{Value: n, Units: n}
	}
	return results, nil
}

type providerFactory struct {
	p   provider.Provider
	err error
}

func (f *providerFactory) New(provider.Kind, provider.Spec) (provider.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.p, nil
}

func (f *providerFactory) unloads() int32 {
	if fp, ok := f.p.(*fakeProvider); ok {
		return fp.unloads.Load()
	}
	return 0
}

type memWriter struct {
	mu      sync.Mutex
	schemas int
	units   map[int]output.Unit
	failAt  int // WriteUnit fails for this offset; <0 disables
}

func newMemWriter() *memWriter {
	return &memWriter{units: make(map[int]output.Unit), failAt: -1}
}

func (w *memWriter) WriteSchema(context.Context, output.Descriptor) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.schemas++
	return nil
}

func (w *memWriter) WriteUnit(_ context.Context, u output.Unit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u.Offset == w.failAt {
		return errors.New("disk full")
	}
	w.units[u.Offset] = u
	return nil
}

func (w *memWriter) Close(context.Context) error { return nil }

func (w *memWriter) offsets() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int, 0, len(w.units))
	for off := range w.units {
		out = append(out, off)
	}
	return out
}

package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
)

// fakeProvider 根据输入生成确定性向量
type fakeProvider struct {
	name  string
	dims  int
	delay time.Duration
	// failWhen 返回非 nil 时该输入调用失败
	failWhen func(input string) error

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func newFakeProvider(name string, dims int) *fakeProvider {
	return &fakeProvider{name: name, dims: dims}
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Model() string   { return p.name + "-model" }
func (p *fakeProvider) Dimensions() int { return p.dims }

func (p *fakeProvider) Embed(ctx context.Context, input string) ([]float32, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.failWhen != nil {
		if err := p.failWhen(input); err != nil {
			return nil, err
		}
	}
	return vectorFor(input, p.dims), nil
}

func vectorFor(input string, dims int) []float32 {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(len(input)+i) / 100
	}
	return vec
}

func unavailable(name string) error {
	return apperrors.New(apperrors.CodeProviderUnavailable, "provider down").WithField("provider", name)
}

var errBoom = errors.New("boom")

// memStore 内存版持久层
type memStore struct {
	mu      sync.Mutex
	records map[string]*entity.EmbeddingRecord
	saves   int
	gets    int
	cutoff  time.Time
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*entity.EmbeddingRecord)}
}

func (s *memStore) Get(_ context.Context, fp string) (*entity.EmbeddingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	return s.records[fp], nil
}

func (s *memStore) GetMany(_ context.Context, fps []string) (map[string]*entity.EmbeddingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*entity.EmbeddingRecord)
	for _, fp := range fps {
		if rec, ok := s.records[fp]; ok {
			out[fp] = rec
		}
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, rec *entity.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.records[rec.Fingerprint] = rec
	return nil
}

func (s *memStore) Sweep(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoff = cutoff
	var n int64
	for fp, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, fp)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

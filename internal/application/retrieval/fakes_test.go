package retrieval

import (
	"context"
	"fmt"
	"sync"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/domain/repository"
)

// fakeStore 按固定页数据模拟游标分页
type fakeStore struct {
	mu       sync.Mutex
	pages    [][]Point
	down     bool
	describe int
	scrolls  []*ScrollRequest
	searches []*SearchRequest
	hits     []Point
	failErr  error
}

func newPagedStore(sizes ...int) *fakeStore {
	s := &fakeStore{}
	n := 0
	for _, size := range sizes {
		page := make([]Point, size)
		for i := range page {
			page[i] = Point{
				ID:      fmt.Sprintf("p-%d", n),
				Payload: map[string]any{"content": fmt.Sprintf("chunk %d", n), "fileName": fmt.Sprintf("doc-%d.md", n/10)},
			}
			n++
		}
		s.pages = append(s.pages, page)
	}
	return s
}

func (s *fakeStore) Backend() string    { return "fake" }
func (s *fakeStore) Collection() string { return "knowledge" }

func (s *fakeStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *fakeStore) Describe(context.Context) (*entity.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describe++
	if s.down {
		return nil, StoreUnavailable("fake", errConnRefused)
	}
	return &entity.CollectionInfo{Name: "knowledge", Status: "green"}, nil
}

func (s *fakeStore) Scroll(_ context.Context, req *ScrollRequest) (*ScrollPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls = append(s.scrolls, req)
	if s.down {
		return nil, StoreUnavailable("fake", errConnRefused)
	}
	if s.failErr != nil {
		return nil, s.failErr
	}
	idx := 0
	if req.Offset != nil {
		idx = req.Offset.(int)
	}
	if idx >= len(s.pages) {
		return &ScrollPage{}, nil
	}
	points := s.pages[idx]
	if len(points) > req.Limit {
		points = points[:req.Limit]
	}
	page := &ScrollPage{Points: points}
	if idx+1 < len(s.pages) {
		page.NextOffset = idx + 1
	}
	return page, nil
}

func (s *fakeStore) Search(_ context.Context, req *SearchRequest) ([]Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, req)
	if s.down {
		return nil, StoreUnavailable("fake", errConnRefused)
	}
	return s.hits, nil
}

func (s *fakeStore) scrollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scrolls)
}

var errConnRefused = fmt.Errorf("dial tcp 127.0.0.1:6333: connect: connection refused")

// memCache 内存版降级缓存
type memCache struct {
	mu      sync.Mutex
	entries map[string]*repository.CachedResult
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*repository.CachedResult)}
}

func (c *memCache) Get(_ context.Context, key string) (*repository.CachedResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memCache) Put(_ context.Context, r *repository.CachedResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[r.Key] = r
	return nil
}

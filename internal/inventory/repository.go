// Package inventory implements the Inventory Reconciler of spec §4.7 and the
// persisted repository contracts §6 calls "Persisted interfaces (contracts
// consumed)" for SourceAggregate and ToolAggregate.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"goa.design/tools-provider/internal/tools"
)

// SourceRepository stores SourceAggregate rows, keyed by id.
type SourceRepository interface {
	Get(ctx context.Context, id string) (*tools.SourceAggregate, bool, error)
	Add(ctx context.Context, src tools.SourceAggregate) error
	Update(ctx context.Context, src tools.SourceAggregate) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]tools.SourceAggregate, error)
}

// ToolRepository stores ToolAggregate rows, keyed by "source_id:name".
type ToolRepository interface {
	Get(ctx context.Context, key string) (*tools.ToolAggregate, bool, error)
	Add(ctx context.Context, tool tools.ToolAggregate) error
	Update(ctx context.Context, tool tools.ToolAggregate) error
	Remove(ctx context.Context, key string) error
	ListBySource(ctx context.Context, sourceID string) ([]tools.ToolAggregate, error)
	Search(ctx context.Context, query string) ([]tools.ToolAggregate, error)
}

// InMemorySourceRepository is a reference SourceRepository backed by a
// mutex-guarded map, mirroring secrets.InMemoryStore's shape.
type InMemorySourceRepository struct {
	mu   sync.RWMutex
	data map[string]tools.SourceAggregate
}

// NewInMemorySourceRepository constructs an empty InMemorySourceRepository.
func NewInMemorySourceRepository() *InMemorySourceRepository {
	return &InMemorySourceRepository{data: make(map[string]tools.SourceAggregate)}
}

func (r *InMemorySourceRepository) Get(_ context.Context, id string) (*tools.SourceAggregate, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.data[id]
	if !ok {
		return nil, false, nil
	}
	return &src, true, nil
}

func (r *InMemorySourceRepository) Add(_ context.Context, src tools.SourceAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[src.ID]; exists {
		return fmt.Errorf("source %q already exists", src.ID)
	}
	r.data[src.ID] = src
	return nil
}

func (r *InMemorySourceRepository) Update(_ context.Context, src tools.SourceAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[src.ID] = src
	return nil
}

func (r *InMemorySourceRepository) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

func (r *InMemorySourceRepository) List(_ context.Context) ([]tools.SourceAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tools.SourceAggregate, 0, len(r.data))
	for _, src := range r.data {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InMemoryToolRepository is a reference ToolRepository backed by a
// mutex-guarded map.
type InMemoryToolRepository struct {
	mu   sync.RWMutex
	data map[string]tools.ToolAggregate
}

// NewInMemoryToolRepository constructs an empty InMemoryToolRepository.
func NewInMemoryToolRepository() *InMemoryToolRepository {
	return &InMemoryToolRepository{data: make(map[string]tools.ToolAggregate)}
}

func (r *InMemoryToolRepository) Get(_ context.Context, key string) (*tools.ToolAggregate, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.data[key]
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

func (r *InMemoryToolRepository) Add(_ context.Context, tool tools.ToolAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[tool.Key()] = tool
	return nil
}

func (r *InMemoryToolRepository) Update(_ context.Context, tool tools.ToolAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[tool.Key()] = tool
	return nil
}

func (r *InMemoryToolRepository) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *InMemoryToolRepository) ListBySource(_ context.Context, sourceID string) ([]tools.ToolAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tools.ToolAggregate, 0)
	for _, t := range r.data {
		if t.SourceID == sourceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.Name < out[j].Definition.Name })
	return out, nil
}

func (r *InMemoryToolRepository) Search(_ context.Context, query string) ([]tools.ToolAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tools.ToolAggregate, 0)
	for _, t := range r.data {
		if query == "" || containsFold(t.Definition.Name, query) || containsFold(t.Definition.Description, query) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	hl, nl := []rune(haystack), []rune(needle)
	toLower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	hl, nl = toLower(hl), toLower(nl)
	if len(nl) > len(hl) {
		return false
	}
	for i := 0; i+len(nl) <= len(hl); i++ {
		match := true
		for j := range nl {
			if hl[i+j] != nl[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe in-memory registry store.
type MemoryStore struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewMemoryStore creates a new in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tools: make(map[string]*Tool),
	}
}

func (m *MemoryStore) Create(ctx context.Context, tool *Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tools[tool.ToolID]; exists {
		return ErrToolExists
	}

	cp := *tool
	m.tools[tool.ToolID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, toolID string) (*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tool, ok := m.tools[toolID]
	if !ok {
		return nil, ErrToolNotFound
	}
	cp := *tool
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, tool *Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tools[tool.ToolID]; !ok {
		return ErrToolNotFound
	}
	cp := *tool
	m.tools[tool.ToolID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.tools))
	for id := range m.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tools := make([]*Tool, 0, limit)
	for i := offset; i < len(ids) && len(tools) < limit; i++ {
		cp := *m.tools[ids[i]]
		tools = append(tools, &cp)
	}
	return tools, nil
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

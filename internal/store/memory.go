package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invoicepipe/invoicepipe/internal/common"
)

// Memory is an in-memory DocumentStore used by tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && !isMarker(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", key, common.ErrNotFound)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *Memory) Write(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make([]byte, len(payload))
	copy(b, payload)
	m.objects[key] = b
	return nil
}

func (m *Memory) Move(_ context.Context, key, newPrefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return "", fmt.Errorf("move %q: %w", key, common.ErrNotFound)
	}
	newKey := JoinPrefix(newPrefix, BaseName(key))
	m.objects[newKey] = b
	delete(m.objects, key)
	return newKey, nil
}

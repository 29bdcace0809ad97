package testsupport

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInjected is returned by MemoryState for keys configured to fail.
var ErrInjected = errors.New("injected failure")

// MemoryState is an in-memory key/value persister with failure injection.
type MemoryState struct {
	mu       sync.Mutex
	values   map[string][]byte
	failSave map[string]bool
	failLoad map[string]bool
	saves    map[string]int
}

// NewMemoryState returns an empty MemoryState.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		values:   make(map[string][]byte),
		failSave: make(map[string]bool),
		failLoad: make(map[string]bool),
		saves:    make(map[string]int),
	}
}

// Load implements the persister contract.
func (m *MemoryState) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad[key] {
		return nil, false, ErrInjected
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Save implements the persister contract.
func (m *MemoryState) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave[key] {
		return ErrInjected
	}
	m.values[key] = append([]byte(nil), value...)
	m.saves[key]++
	return nil
}

// Clear implements the persister contract.
func (m *MemoryState) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string][]byte)
	return nil
}

// Put stores raw bytes, e.g. a corrupt value.
func (m *MemoryState) Put(key string, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = []byte(value)
}

// Get returns the raw stored value.
func (m *MemoryState) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return string(v), ok
}

// Keys returns the stored keys in order.
func (m *MemoryState) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Saves returns how many times key was written.
func (m *MemoryState) Saves(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[key]
}

// FailSave makes writes of key fail.
func (m *MemoryState) FailSave(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave[key] = true
}

// FailLoad makes reads of key fail.
func (m *MemoryState) FailLoad(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad[key] = true
}

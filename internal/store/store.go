// Package store persists expressions by key in their textual form, so a
// value saved by one kernel can be parsed back into any other.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Load for an unknown key.
var ErrNotFound = errors.New("expression not found")

// Store is a keyed collection of expression texts.
type Store interface {
	Save(ctx context.Context, key, text string) error
	Load(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Printer renders an expression to text and Parser rebuilds one from it.
type (
	Printer func() (string, error)
	Parser  func(text string) error
)

// SaveExpr stores the text produced by print under key, or under a fresh
// random key when key is empty, and returns the key used.
func SaveExpr(ctx context.Context, s Store, key string, print Printer) (string, error) {
	text, err := print()
	if err != nil {
		return "", err
	}
	if key == "" {
		key = uuid.NewString()
	}
	if err := s.Save(ctx, key, text); err != nil {
		return "", err
	}
	return key, nil
}

// LoadExpr hands the text stored under key to parse.
func LoadExpr(ctx context.Context, s Store, key string, parse Parser) error {
	text, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	return parse(text)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Save(_ context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = text
	return nil
}

func (m *Memory) Load(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// List returns the keys in sorted order.
func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

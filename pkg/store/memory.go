package store

import (
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-memory Store for tests and ephemeral servers. It has
// the same atomicity guarantees as the bbolt store but no durability.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]string
	chat   []string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	tables := make(map[string]map[string]string, len(tableBuckets))
	for table := range tableBuckets {
		tables[table] = make(map[string]string)
	}
	return &Memory{tables: tables}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) table(name string) (map[string]string, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

func (m *Memory) Read(table, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return "", false, err
	}
	v, ok := t[key]
	return v, ok, nil
}

func (m *Memory) Write(table, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	t[key] = value
	return nil
}

func (m *Memory) ReadOrWriteNew(table, key, fallback string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return "", err
	}
	if v, ok := t[key]; ok {
		return v, nil
	}
	t[key] = fallback
	return fallback, nil
}

func (m *Memory) Delete(table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(table)
	if err != nil {
		return err
	}
	delete(t, key)
	return nil
}

func (m *Memory) ClaimUsername(token, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claims := m.tables[TableToken]
	if owner, ok := claims[newName]; ok && owner != token {
		return ErrUsernameTaken
	}
	claims[newName] = token
	m.tables[TableUsername][token] = newName
	if oldName != "" && oldName != newName {
		delete(claims, oldName)
	}
	return nil
}

func (m *Memory) AppendChat(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat = append(m.chat, text)
	return nil
}

func (m *Memory) ReadChat() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.chat, ""), nil
}

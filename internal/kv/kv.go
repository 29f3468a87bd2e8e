// Package kv is the persisted per-user state behind settings, the study time
// counter, exercise progress, the screen-cleared flag and the checklist.
package kv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store is a string key-value store. IncrBy must be atomic so concurrent
// flushes accumulate instead of overwriting each other.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Well-known per-user keys.
const (
	KeySettings      = "settings"
	KeyStudySeconds  = "study_seconds"
	KeyScreenCleared = "screen_cleared"
	KeyChecklist     = "checklist"
)

type namespaced struct {
	inner  Store
	prefix string
}

// Namespace scopes every key of inner under "user:<identity>:".
func Namespace(inner Store, identity string) Store {
	return &namespaced{inner: inner, prefix: "user:" + identity + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return n.inner.IncrBy(ctx, n.prefix+key, delta)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

// Memory is an in-process Store, used in tests and single-node setups.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := parseInt(m.data[key])
	if err != nil {
		return 0, err
	}
	current += delta
	m.data[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns the stored keys with the given prefix.
func (m *Memory) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// GetTime reads an RFC 3339 timestamp; missing keys read as the zero time.
func GetTime(ctx context.Context, s Store, key string) (time.Time, bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("key %s: %w", key, err)
	}
	return t, true, nil
}

func SetTime(ctx context.Context, s Store, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// GetInt reads an integer counter; missing keys read as zero.
func GetInt(ctx context.Context, s Store, key string) (int64, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return parseInt(v)
}

package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(mr.Addr(), "", "test")
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  rs,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v"))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)

			require.NoError(t, s.Delete(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestIncrByAccumulatesConcurrently(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.IncrBy(ctx, "counter", 3)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			total, err := GetInt(ctx, s, "counter")
			require.NoError(t, err)
			assert.Equal(t, int64(60), total)
		})
	}
}

func TestNamespaceIsolatesIdentities(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	alice := Namespace(base, "alice")
	bob := Namespace(base, "bob")

	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	require.NoError(t, SetTime(ctx, alice, KeyScreenCleared, at))

	got, ok, err := GetTime(ctx, alice, KeyScreenCleared)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))

	_, ok, err = GetTime(ctx, bob, KeyScreenCleared)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"user:alice:screen_cleared"}, base.Keys("user:"))
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	s, err := NewRedisStore(" ", "", "")
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestRedisStoreFailsWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(mr.Addr(), "", "test")
	require.NoError(t, err)
	defer s.Close()
	mr.Close()

	_, _, err = s.Get(context.Background(), "k")
	assert.Error(t, err)
}

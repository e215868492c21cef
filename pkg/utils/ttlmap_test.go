package utils_test

import (
	"sync"
	"testing"
	"time"

	"github.com/robalyx/rewind/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLMap(t *testing.T) {
	t.Parallel()

	t.Run("basic set and get", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{TTL: time.Minute})
		defer m.Close()

		m.Set("test1", 123)
		value, exists := m.Get("test1")
		assert.True(t, exists)
		assert.Equal(t, 123, value)
	})

	t.Run("expiration", func(t *testing.T) {
		t.Parallel()

		ttl := 50 * time.Millisecond
		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{TTL: ttl})
		defer m.Close()

		m.Set("test2", 456)
		time.Sleep(ttl + 30*time.Millisecond)

		_, exists := m.Get("test2")
		assert.False(t, exists)
	})

	t.Run("access refreshes expiry", func(t *testing.T) {
		t.Parallel()

		ttl := 80 * time.Millisecond
		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{TTL: ttl})
		defer m.Close()

		m.Set("key", 1)
		for range 4 {
			time.Sleep(ttl / 2)
			_, exists := m.Get("key")
			require.True(t, exists)
		}
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{TTL: time.Minute})
		defer m.Close()

		m.Set("test3", 789)
		m.Delete("test3")
		_, exists := m.Get("test3")
		assert.False(t, exists)
	})

	t.Run("update existing key", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{TTL: time.Minute})
		defer m.Close()

		m.Set("test4", 111)
		m.Set("test4", 222)
		value, exists := m.Get("test4")
		assert.True(t, exists)
		assert.Equal(t, 222, value)
		assert.Equal(t, 1, m.Len())
	})
}

func TestTTLMapEviction(t *testing.T) {
	t.Parallel()

	t.Run("size bound evicts least recently accessed", func(t *testing.T) {
		t.Parallel()

		var (
			mu      sync.Mutex
			evicted = map[string]utils.EvictionCause{}
		)

		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{
			TTL:     time.Minute,
			MaxSize: 2,
			OnEvict: func(key string, _ int, cause utils.EvictionCause) {
				mu.Lock()
				defer mu.Unlock()
				evicted[key] = cause
			},
		})
		defer m.Close()

		m.Set("a", 1)
		time.Sleep(2 * time.Millisecond)
		m.Set("b", 2)
		time.Sleep(2 * time.Millisecond)

		// Touch "a" so "b" becomes the oldest
		_, _ = m.Get("a")
		m.Set("c", 3)

		_, hasB := m.Get("b")
		assert.False(t, hasB)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, map[string]utils.EvictionCause{"b": utils.EvictedSize}, evicted)
	})

	t.Run("expired entries trigger callback on sweep", func(t *testing.T) {
		t.Parallel()

		done := make(chan string, 1)
		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{
			TTL: 20 * time.Millisecond,
			OnEvict: func(key string, _ int, cause utils.EvictionCause) {
				if cause == utils.EvictedExpired {
					done <- key
				}
			},
		})
		defer m.Close()

		m.Set("stale", 1)

		select {
		case key := <-done:
			assert.Equal(t, "stale", key)
		case <-time.After(time.Second):
			t.Fatal("expired entry was never swept")
		}
	})

	t.Run("replacement reports replaced value", func(t *testing.T) {
		t.Parallel()

		var replaced []int
		m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{
			OnEvict: func(_ string, value int, cause utils.EvictionCause) {
				if cause == utils.EvictedReplaced {
					replaced = append(replaced, value)
				}
			},
		})
		defer m.Close()

		m.Set("k", 1)
		m.Set("k", 2)
		assert.Equal(t, []int{1}, replaced)
	})
}

func TestTTLMapConcurrent(t *testing.T) {
	t.Parallel()

	m := utils.NewTTLMap(utils.TTLMapOptions[string, int]{TTL: 100 * time.Millisecond, MaxSize: 4})
	defer m.Close()

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := range 100 {
			m.Set("key", i)
		}
	}()

	go func() {
		defer wg.Done()

		for range 100 {
			m.Get("key")
		}
	}()

	wg.Wait()
	assert.LessOrEqual(t, m.Len(), 4)
}

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "query:limits", []byte("daily limit is 500000"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "query:limits")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "daily limit is 500000" {
		t.Errorf("got %q", val)
	}
}

func TestLRUCacheMiss(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()

	val, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil on miss, got %q", val)
	}
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "key", []byte("value"), time.Minute)
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if val, _ := c.Get(ctx, "key"); val != nil {
		t.Error("value survived delete")
	}

	// Deleting a missing key is a no-op.
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("delete of missing key errored: %v", err)
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "ephemeral", []byte("x"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if val, _ := c.Get(ctx, "ephemeral"); val != nil {
		t.Error("expired entry still readable")
	}
	if size, _ := c.Stats(); size != 0 {
		t.Errorf("expired entry not evicted, size = %d", size)
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, _ = c.Get(ctx, "k0")
	_ = c.Set(ctx, "k3", []byte("v"), time.Minute)

	if val, _ := c.Get(ctx, "k1"); val != nil {
		t.Error("least recently used entry not evicted")
	}
	if val, _ := c.Get(ctx, "k0"); val == nil {
		t.Error("recently used entry evicted")
	}
	if size, capacity := c.Stats(); size != 3 || capacity != 3 {
		t.Errorf("stats = %d/%d, want 3/3", size, capacity)
	}
}

func TestLRUCacheUpdateExisting(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "key", []byte("old"), time.Minute)
	_ = c.Set(ctx, "key", []byte("new"), time.Minute)

	val, _ := c.Get(ctx, "key")
	if string(val) != "new" {
		t.Errorf("got %q, want updated value", val)
	}
	if size, _ := c.Stats(); size != 1 {
		t.Errorf("update created a duplicate entry, size = %d", size)
	}
}

func TestNewCacheFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()
		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}

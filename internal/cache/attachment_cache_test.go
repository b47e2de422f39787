package cache

import (
	"testing"
	"time"
)

func TestTTLGetPut(t *testing.T) {
	c := NewTTL[string](time.Hour)
	c.Put("a", "one")
	if got, ok := c.Get("a"); !ok || got != "one" {
		t.Fatalf("Get(a) = %q, %t", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("missing key should not be found")
	}
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted key should not be found")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTL[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", 1)
	now = now.Add(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be live")
	}
	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on lookup, len = %d", c.Len())
	}
}

func TestTTLSweepOnPut(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTL[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("old", 1)
	now = now.Add(CleanupInterval + time.Second)
	c.Put("new", 2)
	if c.Len() != 1 {
		t.Fatalf("sweep should drop stale entries, len = %d", c.Len())
	}
}

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("ab"), []byte("c"))
	b := HashKey([]byte("a"), []byte("bc"))
	if a == b {
		t.Fatal("part boundaries should affect the key")
	}
	if len(a) != KeyHashLen {
		t.Fatalf("key length = %d", len(a))
	}
	if a != HashKey([]byte("ab"), []byte("c")) {
		t.Fatal("HashKey should be deterministic")
	}
}

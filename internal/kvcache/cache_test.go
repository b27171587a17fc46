package kvcache

import (
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(map[string]time.Duration{"endpoints": time.Minute})
	c.Set("endpoints", "uid-1", []byte("payload"))

	got, ok := c.Get("endpoints", "uid-1")
	if !ok || string(got) != "payload" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}

func TestGetMissing(t *testing.T) {
	c := New(nil)
	if _, ok := c.Get("endpoints", "missing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestExpiry(t *testing.T) {
	c := New(map[string]time.Duration{"endpoints": time.Millisecond})
	c.Set("endpoints", "uid-1", []byte("payload"))
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("endpoints", "uid-1"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(map[string]time.Duration{"settings": time.Minute})
	c.Set("settings", "anoncreds_ledger", []byte("v1"))
	c.Invalidate("settings", "anoncreds_ledger")

	if _, ok := c.Get("settings", "anoncreds_ledger"); ok {
		t.Fatalf("expected invalidated entry to miss")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	c := New(map[string]time.Duration{"endpoints": time.Minute, "routingkeys": time.Minute})
	c.Set("endpoints", "k", []byte("a"))
	c.Set("routingkeys", "k", []byte("b"))

	a, _ := c.Get("endpoints", "k")
	b, _ := c.Get("routingkeys", "k")
	if string(a) != "a" || string(b) != "b" {
		t.Fatalf("namespace collision: %q %q", a, b)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New(map[string]time.Duration{"endpoints": time.Millisecond})
	c.Set("endpoints", "k1", []byte("a"))
	time.Sleep(5 * time.Millisecond)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
}

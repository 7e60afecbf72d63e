package cache

import (
	"testing"
	"time"
)

func TestGetReturnsWhatWasSet(t *testing.T) {
	c := New(time.Minute)

	c.Set("issues/1", "pothole", time.Minute)

	got, ok := c.Get("issues/1")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got != "pothole" {
		t.Fatalf("got %v, want pothole", got)
	}
}

func TestGetEvictsExpiredEntry(t *testing.T) {
	c := New(time.Minute)

	c.Set("session/current", "tok", -time.Second) // negative ttl uses default
	c.Set("issues/1", "x", time.Nanosecond)

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("issues/1"); ok {
		t.Fatalf("expected expired entry to be absent")
	}

	// the expired entry must actually be gone, not just hidden
	if c.Len() != 1 {
		t.Fatalf("expected lazy eviction to delete the entry, len=%d", c.Len())
	}
}

func TestClearPrefixOnlyTouchesNamespace(t *testing.T) {
	c := New(time.Minute)

	c.Set("issues/1", 1, time.Minute)
	c.Set("issues/2", 2, time.Minute)
	c.Set("session/current", "tok", time.Minute)

	c.ClearPrefix("issues/")

	if _, ok := c.Get("issues/1"); ok {
		t.Fatalf("issues/1 should be cleared")
	}
	if _, ok := c.Get("session/current"); !ok {
		t.Fatalf("session slot should survive a prefix sweep")
	}
}

func TestClearAll(t *testing.T) {
	c := New(time.Minute)

	c.Set("issues/1", 1, time.Minute)
	c.Set("users/2", 2, time.Minute)
	c.Set("session/current", "tok", time.Minute)

	c.ClearAll()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", c.Len())
	}
}

package kv

import (
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	store, err := New(1 << 20)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if !store.Set("mem:user1:a", []byte(`{"content":"prefers sms"}`), time.Minute) {
		t.Fatalf("Set was not admitted")
	}
	store.Wait()

	got, ok := store.Get("mem:user1:a")
	if !ok {
		t.Fatalf("Expected key to be present")
	}
	if string(got) != `{"content":"prefers sms"}` {
		t.Fatalf("Unexpected value %q", got)
	}

	if _, ok := store.Get("mem:user1:missing"); ok {
		t.Fatalf("Unknown key should be absent")
	}
}

func TestTTLExpiry(t *testing.T) {
	store, err := New(1 << 20)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if !store.Set("mem:user1:b", []byte("short-lived"), 50*time.Millisecond) {
		t.Fatalf("Set was not admitted")
	}
	store.Wait()

	if _, ok := store.Get("mem:user1:b"); !ok {
		t.Fatalf("Key should be readable before expiry")
	}

	time.Sleep(200 * time.Millisecond)
	if _, ok := store.Get("mem:user1:b"); ok {
		t.Fatalf("Key should expire after its TTL")
	}
}

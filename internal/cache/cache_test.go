package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("metrics", "acme", []string{"api", "web"}, 30)
	b := Fingerprint("metrics", "acme", []string{"web", "api"}, 30)
	assert.Equal(t, a, b, "repo order must not change the fingerprint")

	c := Fingerprint("metrics", "acme", []string{"api", "web"}, 60)
	assert.NotEqual(t, a, c, "window changes the fingerprint")

	d := Fingerprint("releases", "acme", []string{"api", "web"}, 30)
	assert.NotEqual(t, a, d, "report kind changes the fingerprint")
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultTTL)

	payload := []byte(`{"org":"acme","contributors":[]}`)
	store.Set(ctx, "k", payload)

	got, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, payload, got, "payload before expiry must be identical")
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultTTL).(*memoryStore)

	now := time.Now()
	store.now = func() time.Time { return now }
	store.Set(ctx, "k", []byte("payload"))

	// One second past the TTL the entry must be gone, and the read itself
	// must have evicted it from the underlying map.
	store.now = func() time.Time { return now.Add(DefaultTTL + time.Second) }
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)

	store.mu.Lock()
	_, present := store.entries["k"]
	store.mu.Unlock()
	assert.False(t, present, "expired entry must be evicted on read")
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemoryStore(DefaultTTL)
	_, ok := store.Get(context.Background(), "nope")
	assert.False(t, ok)
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultTTL)

	store.Set(ctx, "a", []byte("1"))
	store.Set(ctx, "b", []byte("2"))
	store.Clear(ctx)

	_, ok := store.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = store.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultTTL)

	store.Set(ctx, "k", []byte("first"))
	store.Set(ctx, "k", []byte("second"))

	got, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}

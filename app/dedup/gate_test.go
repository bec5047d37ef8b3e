package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeStore implements Store with an in-memory map guarded by a mutex so
// SetNX keeps its atomicity under concurrent callers.
type fakeStore struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (s *fakeStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, exists := s.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	s.values[key] = value.(string)
	s.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (s *fakeStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	s.values[key] = value.(string)
	s.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (s *fakeStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, exists := s.values[key]; exists {
			delete(s.values, key)
			delete(s.ttls, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestGate_Key_Consistency(t *testing.T) {
	gate := NewGate(newFakeStore(), time.Hour)

	key1 := gate.Key("https://shopee.com.br/product-i.1.42")
	key2 := gate.Key("https://shopee.com.br/product-i.1.42")
	key3 := gate.Key("https://shopee.com.br/product-i.1.99")

	if key1 != key2 {
		t.Errorf("Expected same key for same URL, got %s != %s", key1, key2)
	}
	if key1 == key3 {
		t.Errorf("Expected different keys for different URLs, got same: %s", key1)
	}
	if len(key1) < len("promo:") || key1[:6] != "promo:" {
		t.Errorf("Expected key with promo: prefix, got %s", key1)
	}
}

func TestGate_TryAcquire_Exclusivity(t *testing.T) {
	gate := NewGate(newFakeStore(), time.Hour)
	url := "https://shopee.com.br/product-i.1.42"

	const callers = 20
	results := make(chan bool, callers)

	var start sync.WaitGroup
	start.Add(1)
	var done sync.WaitGroup
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			results <- gate.TryAcquire(context.Background(), url)
		}()
	}
	start.Done()
	done.Wait()
	close(results)

	acquired := 0
	for ok := range results {
		if ok {
			acquired++
		}
	}

	if acquired != 1 {
		t.Errorf("Expected exactly 1 acquisition out of %d callers, got %d", callers, acquired)
	}
}

func TestGate_TryAcquire_FailsOpen(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	gate := NewGate(store, time.Hour)

	if !gate.TryAcquire(context.Background(), "https://example.com/offer") {
		t.Error("Expected fail-open acquisition when the store is unavailable")
	}
}

func TestGate_MarkDone_ReanchorsCooldown(t *testing.T) {
	store := newFakeStore()
	gate := NewGate(store, time.Hour)
	url := "https://shopee.com.br/product-i.1.42"

	if !gate.TryAcquire(context.Background(), url) {
		t.Fatal("Expected first acquisition to succeed")
	}

	// Simulate partial expiry, then completion should rewrite the full TTL.
	key := gate.Key(url)
	store.mu.Lock()
	store.ttls[key] = 10 * time.Minute
	store.mu.Unlock()

	gate.MarkDone(context.Background(), url)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.values[key] != markerDone {
		t.Errorf("Expected done marker after completion, got %q", store.values[key])
	}
	if store.ttls[key] != time.Hour {
		t.Errorf("Expected TTL re-anchored to 1h, got %v", store.ttls[key])
	}
}

func TestGate_Release_AllowsReacquire(t *testing.T) {
	gate := NewGate(newFakeStore(), time.Hour)
	url := "https://shopee.com.br/product-i.1.42"

	if !gate.TryAcquire(context.Background(), url) {
		t.Fatal("Expected first acquisition to succeed")
	}
	if gate.TryAcquire(context.Background(), url) {
		t.Fatal("Expected second acquisition to fail while locked")
	}

	gate.Release(context.Background(), url)

	if !gate.TryAcquire(context.Background(), url) {
		t.Error("Expected acquisition to succeed after release")
	}
}

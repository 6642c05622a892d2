package secrets

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type feedCreds struct {
	APIKey string
}

func TestCache_PutAndGet(t *testing.T) {
	cache := NewCache[feedCreds](2 * time.Second)
	key := "dev|venue-a"

	if _, ok := cache.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Put(key, feedCreds{APIKey: "abc123"})

	if creds, ok := cache.Get(key); !ok {
		t.Fatal("expected cache hit")
	} else if creds.APIKey != "abc123" {
		t.Errorf("expected api key abc123, got %s", creds.APIKey)
	}
}

func TestCache_Expiration(t *testing.T) {
	cache := NewCache[feedCreds](time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Put("k", feedCreds{APIKey: "x"})

	now = now.Add(2 * time.Minute)

	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected expired cache entry")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry should be removed on access, len=%d", cache.Len())
	}
}

func TestCache_Bust(t *testing.T) {
	cache := NewCache[feedCreds](5 * time.Second)
	cache.Put("k", feedCreds{APIKey: "x"})

	cache.Bust("k")
	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected cache miss after bust")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	cache := NewCache[feedCreds](time.Minute)
	loads := 0
	load := func() (feedCreds, error) {
		loads++
		return feedCreds{APIKey: "loaded"}, nil
	}

	v, hit, err := cache.GetOrLoad("k", load)
	if err != nil || hit || v.APIKey != "loaded" {
		t.Fatalf("first load: v=%v hit=%v err=%v", v, hit, err)
	}
	v, hit, err = cache.GetOrLoad("k", load)
	if err != nil || !hit || v.APIKey != "loaded" {
		t.Fatalf("second load: v=%v hit=%v err=%v", v, hit, err)
	}
	if loads != 1 {
		t.Errorf("expected 1 load, got %d", loads)
	}
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	cache := NewCache[feedCreds](time.Minute)
	boom := errors.New("boom")

	_, _, err := cache.GetOrLoad("k", func() (feedCreds, error) { return feedCreds{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if cache.Len() != 0 {
		t.Error("failed load must not populate the cache")
	}
}

func TestCache_Cleaner(t *testing.T) {
	cache := NewCache[feedCreds](10 * time.Millisecond)
	cache.Put("a", feedCreds{})
	cache.Put("b", feedCreds{})

	stop := make(chan struct{})
	go cache.StartCleaner(5*time.Millisecond, stop)
	defer close(stop)

	deadline := time.Now().Add(time.Second)
	for cache.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cleaner did not remove entries, len=%d", cache.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache[feedCreds](2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cache.Put("k", feedCreds{APIKey: "x"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cache.Get("k")
		}
	}()
	wg.Wait()
}

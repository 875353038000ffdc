package keycache_test

import (
	"sync"
	"testing"
	"time"

	"sealroom/internal/domain"
	"sealroom/internal/keycache"
)

func handle(fpr string) *domain.UnlockedKeyHandle {
	h := &domain.UnlockedKeyHandle{Fingerprint: domain.Fingerprint(fpr)}
	h.Seed[0] = 0xAA
	h.Signing[0] = 0xBB
	return h
}

func TestStoreGetLock(t *testing.T) {
	c := keycache.New()
	h := handle("aaaa")
	c.StoreUnlockedKey(h)

	got, ok := c.GetUnlockedKey("aaaa")
	if !ok || got != h {
		t.Fatal("expected cached handle")
	}

	c.LockKey("aaaa")
	if _, ok := c.GetUnlockedKey("aaaa"); ok {
		t.Fatal("expected key to be locked")
	}
	if h.Seed != (domain.Seed{}) || h.Signing != (domain.Ed25519Private{}) {
		t.Fatal("locked handle was not wiped")
	}
}

func TestLockAllKeys(t *testing.T) {
	c := keycache.New()
	a, b := handle("a"), handle("b")
	c.StoreUnlockedKey(b)
	c.StoreUnlockedKey(a)

	got := c.ListUnlockedFingerprints()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("fingerprints = %v", got)
	}

	c.LockAllKeys()
	if n := len(c.ListUnlockedFingerprints()); n != 0 {
		t.Fatalf("expected empty cache, got %d", n)
	}
	if a.Seed != (domain.Seed{}) || b.Seed != (domain.Seed{}) {
		t.Fatal("handles not wiped")
	}
}

func TestIdleTimeout(t *testing.T) {
	now := time.Unix(1000, 0)
	c := keycache.New(
		keycache.WithIdleTimeout(time.Minute),
		keycache.WithClock(func() time.Time { return now }),
	)
	c.StoreUnlockedKey(handle("a"))

	now = now.Add(30 * time.Second)
	if _, ok := c.GetUnlockedKey("a"); !ok {
		t.Fatal("key expired too early")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.GetUnlockedKey("a"); ok {
		t.Fatal("expected idle key to be locked")
	}
}

func TestConcurrentStoreIsLastWriterWins(t *testing.T) {
	c := keycache.New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.StoreUnlockedKey(handle("same"))
		}()
	}
	wg.Wait()
	if got := c.ListUnlockedFingerprints(); len(got) != 1 {
		t.Fatalf("fingerprints = %v", got)
	}
}

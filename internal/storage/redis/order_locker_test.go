package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

func TestOrderLocker_Exclusive(t *testing.T) {
	client := openRedisForIntegrationTest(t)
	locker := NewOrderLocker(client, time.Second, nil)

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			unlock, err := locker.Lock(ctx, "order-1")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()

			current := atomic.AddInt32(&inside, 1)
			if current > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, current)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if n := client.Exists(context.Background(), lockKeyPrefix+"order-1").Val(); n != 0 {
		t.Fatalf("lock key must be removed after unlock, exists=%d", n)
	}
}

func TestOrderLocker_TimeoutReturnsOrderLocked(t *testing.T) {
	client := openRedisForIntegrationTest(t)
	locker := NewOrderLocker(client, 5*time.Second, nil)

	unlock, err := locker.Lock(context.Background(), "order-2")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "order-2"); !errors.Is(err, domain.ErrOrderLocked) {
		t.Fatalf("expected ErrOrderLocked, got %v", err)
	}
}

func TestOrderLocker_UnlockKeepsForeignLock(t *testing.T) {
	client := openRedisForIntegrationTest(t)
	locker := NewOrderLocker(client, 100*time.Millisecond, nil)

	staleUnlock, err := locker.Lock(context.Background(), "order-3")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	// TTL истёк, блокировку забрал другой владелец.
	time.Sleep(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	freshUnlock, err := locker.Lock(ctx, "order-3")
	if err != nil {
		t.Fatalf("lock after expiry failed: %v", err)
	}

	staleUnlock()
	if n := client.Exists(context.Background(), lockKeyPrefix+"order-3").Val(); n != 1 {
		t.Fatal("stale unlock must not release a lock held by another owner")
	}

	freshUnlock()
	if n := client.Exists(context.Background(), lockKeyPrefix+"order-3").Val(); n != 0 {
		t.Fatal("owner unlock must release the lock")
	}
}

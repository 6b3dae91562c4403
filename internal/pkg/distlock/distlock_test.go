package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLock(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAcquireIsExclusive(t *testing.T) {
	client := setupLock(t)
	ctx := context.Background()

	a := NewRedisLock(client, "tick", time.Minute)
	b := NewRedisLock(client, "tick", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v; want true, nil", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if ok {
		t.Fatal("second Acquire() = true while lock is held")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire() after release = %v, %v; want true, nil", ok, err)
	}
}

func TestReleaseRequiresOwnership(t *testing.T) {
	client := setupLock(t)
	ctx := context.Background()

	a := NewRedisLock(client, "tick", time.Minute)
	b := NewRedisLock(client, "tick", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("Acquire() failed")
	}
	// b never acquired; its release must not free a's lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("Acquire() succeeded after foreign release; lock was dropped")
	}
}

func TestDistinctNamesDoNotContend(t *testing.T) {
	client := setupLock(t)
	ctx := context.Background()

	a := NewRedisLock(client, "tick", time.Minute)
	b := NewRedisLock(client, "sweep", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("Acquire(tick) failed")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("Acquire(sweep) blocked by unrelated lock")
	}
}

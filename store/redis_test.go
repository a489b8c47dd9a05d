package store

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T, ctx context.Context) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	rs, err := NewRedisStore(ctx, "redis://"+mr.Addr(), "ipwatch:visits")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rs.Close() })

	return rs, mr
}

func TestRedisStore(t *testing.T) {
	rs, mr := newTestRedisStore(t, context.Background())

	for i := 1; i <= 3; i++ {
		count, err := rs.Increment("192.0.2.1")
		if err != nil {
			t.Fatal(err)
		}
		if count != i {
			t.Errorf("visit #%d was counted as %d", i, count)
		}
	}

	visits, err := rs.Get()
	if err != nil {
		t.Fatal(err)
	}
	if visits["192.0.2.1"].Count != 3 {
		t.Errorf("192.0.2.1 should have 3 visits but has %d", visits["192.0.2.1"].Count)
	}

	if v := mr.HGet("ipwatch:visits", "192.0.2.1"); v != "3" {
		t.Errorf("the redis hash should contain 3 for 192.0.2.1 but contains %q", v)
	}

	n, err := rs.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("the store should contain 1 IP but contains %d", n)
	}
}

func TestRedisStoreConcurrentIncrements(t *testing.T) {
	rs, _ := newTestRedisStore(t, context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rs.Increment("10.0.0.1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	visits, err := rs.Get()
	if err != nil {
		t.Fatal(err)
	}
	if visits["10.0.0.1"].Count != 30 {
		t.Errorf("10.0.0.1 should have 30 visits but has %d", visits["10.0.0.1"].Count)
	}
}

func TestRedisStoreIncrementAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rs, _ := newTestRedisStore(t, ctx)

	if _, err := rs.Increment("1.2.3.4"); err != nil {
		t.Fatal(err)
	}

	// the process context is cancelled while background checks still drain
	cancel()

	count, err := rs.Increment("1.2.3.4")
	if err != nil {
		t.Fatalf("an increment during shutdown must not fail: %s", err)
	}
	if count != 2 {
		t.Errorf("the second visit should be counted as 2 but is %d", count)
	}

	if _, err := rs.Get(); err != nil {
		t.Errorf("reading the visits during shutdown must not fail: %s", err)
	}
}

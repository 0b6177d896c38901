package conductor

import (
	"sync"
	"testing"
	"time"
)

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()

	km := newKeyMutex()
	const workers = 8
	const iterations = 200

	counter := 0
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				km.Lock("dp1/example")
				counter++
				km.Unlock("dp1/example")
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("counter = %d, want %d", counter, workers*iterations)
	}
	if len(km.locks) != 0 {
		t.Errorf("lock map should be empty after release, has %d entries", len(km.locks))
	}
}

func TestKeyMutex_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	km := newKeyMutex()
	km.Lock("dp1/a")
	defer km.Unlock("dp1/a")

	done := make(chan struct{})
	go func() {
		km.Lock("dp1/b")
		km.Unlock("dp1/b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a distinct key should not block")
	}
}

func TestKeyMutex_BlocksUntilUnlock(t *testing.T) {
	t.Parallel()

	km := newKeyMutex()
	km.Lock("dp1/a")

	acquired := make(chan struct{})
	go func() {
		km.Lock("dp1/a")
		close(acquired)
		km.Unlock("dp1/a")
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	km.Unlock("dp1/a")
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired after unlock")
	}
}

func TestBackoffDuration(t *testing.T) {
	t.Parallel()

	// First delivery stays near the base, including jitter.
	if d := backoffDuration(1); d < backoffBase || d > backoffBase+backoffBase/2 {
		t.Errorf("backoffDuration(1) = %v, want within [%v, %v]", d, backoffBase, backoffBase+backoffBase/2)
	}

	// Growth is exponential until the cap.
	if d := backoffDuration(4); d < 8*backoffBase {
		t.Errorf("backoffDuration(4) = %v, want >= %v", d, 8*backoffBase)
	}

	// Large delivery counts are capped, jitter included.
	for _, rc := range []int64{20, 1000} {
		if d := backoffDuration(rc); d > backoffCap+backoffCap/2 {
			t.Errorf("backoffDuration(%d) = %v, exceeds cap", rc, d)
		}
	}

	// pgmq read_ct starts at 1; zero must still yield a sane delay.
	if d := backoffDuration(0); d < backoffBase {
		t.Errorf("backoffDuration(0) = %v, want >= base", d)
	}
}

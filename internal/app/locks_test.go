package app

import (
	"testing"
	"time"
)

func TestKeyedMutexSerialisesOneKey(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("ws1\x00p1")

	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		release := k.Lock("ws1\x00p1")
		close(acquired)
		release()
		close(done)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(30 * time.Millisecond):
	}

	// Other keys stay free.
	k.Lock("ws1\x00p2")()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key")
	}
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected released keys to be dropped, %d remain", len(k.locks))
	}
}

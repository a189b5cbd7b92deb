package convlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	table := New()
	var key [32]byte
	key[0] = 1

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.Lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestLockDoesNotSerializeDifferentKeys(t *testing.T) {
	table := New()
	var a, b [32]byte
	a[0], b[0] = 1, 2

	unlockA := table.Lock(a)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := table.Lock(b)
		defer unlockB()
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // different keys must not deadlock against each other
}

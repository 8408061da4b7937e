package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialKeys(t *testing.T) {
	gen := NewSequentialKeys("order")

	assert.Equal(t, "order-1", gen.Generate())
	assert.Equal(t, "order-2", gen.Generate())
	assert.Equal(t, 2, gen.Issued())
}

func TestSequentialKeys_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "key-1", NewSequentialKeys("").Generate())
}

func TestSequentialKeys_Concurrent(t *testing.T) {
	gen := NewSequentialKeys("k")

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := gen.Generate()
				mu.Lock()
				seen[k] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
	assert.Equal(t, 1000, gen.Issued())
}

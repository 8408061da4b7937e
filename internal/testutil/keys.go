package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialKeys generates "<prefix>-1", "<prefix>-2", ... so runs that
// place orders produce the same idempotency keys every time.
//
// Unlike checkout.FixedGenerator it never runs out. Safe for concurrent use.
type SequentialKeys struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialKeys creates a generator. An empty prefix becomes "key".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeys{prefix: prefix}
}

// Generate implements checkout.KeyGenerator.
func (g *SequentialKeys) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}

// Issued returns how many keys were generated.
func (g *SequentialKeys) Issued() int {
	return int(g.n.Load())
}

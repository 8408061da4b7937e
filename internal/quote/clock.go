package quote

import "sync/atomic"

// Clock hands out strictly increasing request sequence numbers.
//
// Every quote request takes the next number before it is sent. A response is
// applied only if its number is still Current, so responses that complete out
// of order cannot overwrite a newer one.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

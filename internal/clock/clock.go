// Package clock provides the logical sequence clock.
//
// The registry orders events by a monotonically increasing sequence number,
// never by wall time. Wall clocks skew across hosts and jump on NTP
// corrections; a logical clock resumed from the highest committed seq gives
// a total order that survives restarts.
package clock

import "sync"

// Clock issues logical sequence numbers.
type Clock interface {
	// Next returns the next sequence number. Successive calls strictly
	// increase.
	Next() int64
}

// Logical is a mutex-guarded monotonic counter.
type Logical struct {
	mu   sync.Mutex
	last int64
}

// NewLogical creates a clock that resumes after last, typically the
// store's highest committed seq.
func NewLogical(last int64) *Logical {
	return &Logical{last: last}
}

func (c *Logical) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// Package sidpool implements the ADC session-identifier allocator
// (spec §4.2): O(1) acquire/release of 4-character SIDs bounded by
// the hub's configured maximum user count, skipping the reserved
// sentinel (AAAA) and hub (AAAB) values.
package sidpool

import (
	"errors"

	"github.com/klondi/mimicmod-lan/internal/adc"
)

// ErrHubFull is returned by Acquire once the pool's capacity is
// exhausted.
var ErrHubFull = errors.New("sidpool: hub is full")

// Pool allocates SIDs up to a fixed capacity. It runs entirely on the
// hub's single event-loop thread (spec §5): no internal locking.
type Pool struct {
	capacity int
	next     uint16 // low end of the never-yet-issued range
	free     []adc.SID
	used     int
}

// New creates a pool that can hand out up to capacity concurrently
// live SIDs.
func New(capacity int) *Pool {
	return &Pool{capacity: capacity, next: 2} // 0=AAAA sentinel, 1=AAAB hub
}

// Cap returns the configured capacity.
func (p *Pool) Cap() int { return p.capacity }

// Len returns the number of currently allocated SIDs.
func (p *Pool) Len() int { return p.used }

// Acquire hands out a free SID, preferring a released one (reuse on
// release, no grace period) over a never-used one.
func (p *Pool) Acquire() (adc.SID, error) {
	if p.used >= p.capacity {
		return adc.SID{}, ErrHubFull
	}
	if n := len(p.free); n > 0 {
		sid := p.free[n-1]
		p.free = p.free[:n-1]
		p.used++
		return sid, nil
	}
	v := p.next
	if v < 2 { // next wrapped past 0xFFFF into the reserved values
		return adc.SID{}, ErrHubFull
	}
	p.next++
	p.used++
	return adc.SID{byte(v >> 8), byte(v)}, nil
}

// Release returns a SID to the free pool. Callers must ensure, via
// the event-queue drain ordering in spec §4.7, that no in-flight
// command still references the SID's prior holder before it is
// reused.
func (p *Pool) Release(sid adc.SID) {
	if sid.IsZero() {
		return
	}
	p.free = append(p.free, sid)
	if p.used > 0 {
		p.used--
	}
}

// Package bufpool recycles fixed-size byte buffers across frames, for hot
// per-tile staging allocations (like a GPU upload's memcpy destination)
// that would otherwise churn the allocator on every cache miss.
package bufpool

import "sync"

// Pool recycles []byte buffers of one fixed size.
type Pool struct {
	size int
	pool sync.Pool
}

// New builds a pool of buffers of the given size.
func New(size int) *Pool {
	return &Pool{
		size: size,
		pool: sync.Pool{New: func() any { return make([]byte, size) }},
	}
}

// Get returns a buffer of the pool's fixed size, its contents unspecified
// (callers that need a zeroed buffer should clear it themselves).
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns buf to the pool. Buffers of the wrong length are dropped
// rather than risking a mismatched-size reuse downstream.
func (p *Pool) Put(buf []byte) {
	if len(buf) != p.size {
		return
	}
	p.pool.Put(buf)
}

// Package pool recycles scratch byte buffers used when encoding array
// payloads for the widget side channel.
package pool

import (
	"sync"
)

const (
	// SmallBufferSize covers a few hundred float32 cells.
	SmallBufferSize = 4 << 10
	// MediumBufferSize covers a typical dataframe push.
	MediumBufferSize = 64 << 10
	// LargeBufferSize covers a large histogram.
	LargeBufferSize = 1 << 20

	// maxPooledSize keeps one oversized payload from pinning memory.
	maxPooledSize = 4 * LargeBufferSize
)

// SizedBufferPool hands out buffers from three size classes.
type SizedBufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// NewSizedBufferPool creates an empty pool.
func NewSizedBufferPool() *SizedBufferPool {
	return &SizedBufferPool{
		small:  sync.Pool{New: newBuffer(SmallBufferSize)},
		medium: sync.Pool{New: newBuffer(MediumBufferSize)},
		large:  sync.Pool{New: newBuffer(LargeBufferSize)},
	}
}

func newBuffer(size int) func() any {
	return func() any {
		b := make([]byte, 0, size)
		return &b
	}
}

// Get returns a zero-length slice with at least size capacity.
func (p *SizedBufferPool) Get(size int) []byte {
	if p == nil || size > maxPooledSize {
		return make([]byte, 0, size)
	}

	var bp *[]byte
	switch {
	case size <= SmallBufferSize:
		bp = p.small.Get().(*[]byte)
	case size <= MediumBufferSize:
		bp = p.medium.Get().(*[]byte)
	default:
		bp = p.large.Get().(*[]byte)
	}

	b := *bp
	if cap(b) < size {
		b = make([]byte, 0, size)
	}
	return b[:0]
}

// Put returns b to the class matching its capacity. b must not be used afterwards.
func (p *SizedBufferPool) Put(b []byte) {
	if p == nil || cap(b) == 0 || cap(b) > maxPooledSize {
		return
	}
	b = b[:0]
	switch {
	case cap(b) <= SmallBufferSize:
		p.small.Put(&b)
	case cap(b) <= MediumBufferSize:
		p.medium.Put(&b)
	default:
		p.large.Put(&b)
	}
}

// Default is the process-wide pool.
var Default = NewSizedBufferPool()

// Get retrieves a buffer from Default.
func Get(size int) []byte {
	return Default.Get(size)
}

// Put returns a buffer to Default.
func Put(b []byte) {
	Default.Put(b)
}

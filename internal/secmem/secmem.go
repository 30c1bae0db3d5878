// Package secmem keeps secrets in page-locked memory and wipes them after use.
package secmem

import (
	"runtime"
	"sync"
)

// Buffer holds a secret outside of swap where the platform allows it.
type Buffer struct {
	data   []byte
	locked bool
	mu     sync.Mutex
}

// From moves b into a new Buffer. b is zeroed; the caller keeps no copy.
func From(b []byte) *Buffer {
	buf := &Buffer{data: make([]byte, len(b))}
	buf.locked = mlock(buf.data)
	copy(buf.data, b)
	Zero(b)

	// Wipe on collection if Destroy is never called
	runtime.SetFinalizer(buf, (*Buffer).Destroy)
	return buf
}

// Bytes returns the secret, or nil once destroyed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len returns the secret length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Locked reports whether the memory is page-locked.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Destroy zeroes and unlocks the memory. Safe to call more than once.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}
	Zero(b.data)
	if b.locked {
		munlock(b.data)
		b.locked = false
	}
	b.data = nil
	runtime.SetFinalizer(b, nil)
}

// Zero overwrites b.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

package audio

import (
	"sync"
)

// Ring is a thread-safe ring buffer of float32 samples. It sits between the
// capture device callback and the frame pump so a slow consumer drops the
// oldest audio instead of blocking the device.
type Ring struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRing creates a new ring buffer holding up to size-1 samples
func NewRing(size int) *Ring {
	return &Ring{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write writes samples to the ring buffer.
// Returns the number of samples written (may be less than len(data) if full).
func (r *Ring) Write(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	for i := 0; i < len(data); i++ {
		if (r.write+1)%r.size == r.read {
			break // buffer full
		}
		r.buffer[r.write] = data[i]
		r.write = (r.write + 1) % r.size
		written++
	}
	return written
}

// Read reads samples from the ring buffer.
// Returns the number of samples read.
func (r *Ring) Read(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	read := 0
	for i := 0; i < len(data); i++ {
		if r.read == r.write {
			break // buffer empty
		}
		data[i] = r.buffer[r.read]
		r.read = (r.read + 1) % r.size
		read++
	}
	return read
}

// Available returns the number of samples available to read
func (r *Ring) Available() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked()
}

func (r *Ring) availableLocked() int {
	if r.write >= r.read {
		return r.write - r.read
	}
	return r.size - r.read + r.write
}

// Space returns the number of samples available to write
func (r *Ring) Space() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size - r.availableLocked() - 1 // -1 to prevent full/empty ambiguity
}

// Clear empties the buffer
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read = 0
	r.write = 0
}

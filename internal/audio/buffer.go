// Package audio holds candidate audio while no capture run can take it.
package audio

import (
	"sync"
)

// RingBuffer is a thread-safe fixed-size audio backlog.
// When full, new audio overwrites the oldest bytes so the most recent speech survives.
type RingBuffer struct {
	buffer  []byte
	size    int
	read    int
	count   int
	dropped int64
	mu      sync.Mutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, overwriting the oldest bytes if needed.
// Returns the number of older bytes that were overwritten.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	overwritten := 0
	if len(data) > rb.size {
		overwritten += len(data) - rb.size
		data = data[len(data)-rb.size:]
	}

	for _, b := range data {
		write := (rb.read + rb.count) % rb.size
		rb.buffer[write] = b
		if rb.count == rb.size {
			rb.read = (rb.read + 1) % rb.size
			overwritten++
		} else {
			rb.count++
		}
	}

	rb.dropped += int64(overwritten)
	return overwritten
}

// Read copies buffered bytes into data and returns how many were read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := 0
	for n < len(data) && rb.count > 0 {
		data[n] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		rb.count--
		n++
	}
	return n
}

// Drain returns everything buffered, oldest first, and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.count)
	for i := range out {
		out[i] = rb.buffer[(rb.read+i)%rb.size]
	}
	rb.read = 0
	rb.count = 0
	return out
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Dropped returns how many bytes have been overwritten since creation
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.count = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}

// Package out provides a reservation based growable byte buffer used to lay
// out binary images: callers reserve a region, remember its index and fill
// it in later, possibly after the buffer has grown.
package out

import "math/bits"

// minCap is the smallest capacity a non-empty Buffer allocates.
const minCap = 8

// Buffer is a growable byte region. The zero value is an empty buffer ready
// for use. Capacity always grows to the next power of two that fits the
// requested length, never below minCap.
type Buffer struct {
	b []byte
}

// Len returns the number of reserved bytes.
func (o *Buffer) Len() int { return len(o.b) }

// Cap returns the allocated capacity.
func (o *Buffer) Cap() int { return cap(o.b) }

// Bytes returns the reserved bytes. The slice is invalidated by the next
// Reserve that grows the buffer.
func (o *Buffer) Bytes() []byte { return o.b }

// Reserve appends n zero bytes and returns them for the caller to fill.
func (o *Buffer) Reserve(n int) []byte {
	start := len(o.b)
	o.grow(start + n)
	o.b = o.b[:start+n]
	clear(o.b[start:])
	return o.b[start:]
}

// ReserveIndex appends n zero bytes and returns their starting offset.
func (o *Buffer) ReserveIndex(n int) int {
	idx := len(o.b)
	o.Reserve(n)
	return idx
}

// Write appends p. It never fails; the signature satisfies io.Writer.
func (o *Buffer) Write(p []byte) (int, error) {
	copy(o.Reserve(len(p)), p)
	return len(p), nil
}

// WriteIndex appends p and returns the offset it was written at.
func (o *Buffer) WriteIndex(p []byte) int {
	idx := len(o.b)
	o.Write(p)
	return idx
}

// Truncate drops everything past the first n bytes, keeping capacity.
func (o *Buffer) Truncate(n int) {
	if n < 0 || n > len(o.b) {
		panic("out: truncation out of range")
	}
	o.b = o.b[:n]
}

func (o *Buffer) grow(required int) {
	if required <= cap(o.b) {
		return
	}
	nb := make([]byte, len(o.b), capacityFor(required))
	copy(nb, o.b)
	o.b = nb
}

// capacityFor returns max(nextPow2(n), minCap).
func capacityFor(n int) int {
	if n <= minCap {
		return minCap
	}
	return 1 << bits.Len(uint(n-1))
}

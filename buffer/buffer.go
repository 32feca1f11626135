// Package buffer provides the Buffer abstraction Sockets read into and
// applications read out of. HeapBuffer adapts the teacher's growable
// linked-block buffer (internal/buffer.Buffer); StringBuffer and
// ViewBuffer are new variants generalized from ZLToolKit's
// BufferLikeString and BufferOffset
// (original_source/ZLToolKit/src/Network/Buffer.h).
package buffer

import (
	ibuf "github.com/nexuscore/netcore/internal/buffer"
)

// Buffer is the minimal read-side contract every variant satisfies.
type Buffer interface {
	// Len returns the number of unread bytes.
	Len() int

	// Peek returns the next n bytes without advancing the buffer.
	Peek(n int) ([]byte, error)

	// Skip advances the buffer by n bytes without returning them.
	Skip(n int) error

	// Next returns and consumes the next n bytes.
	Next(n int) ([]byte, error)

	// Read copies into p and advances by the number of bytes copied.
	Read(p []byte) (int, error)

	// Release returns any backing memory the buffer no longer needs.
	Release()
}

// HeapBuffer is a growable buffer made of reusable fixed-size blocks,
// suited for sockets whose total payload size isn't known up front. It
// wraps the teacher's internal/buffer.Buffer node-chain implementation
// unchanged, since that implementation already generalizes to any domain.
type HeapBuffer struct {
	b *ibuf.Buffer
}

// NewHeap allocates a HeapBuffer from the shared buffer pool.
func NewHeap() *HeapBuffer {
	return &HeapBuffer{b: ibuf.New()}
}

// Len returns the number of unread bytes.
func (h *HeapBuffer) Len() int { return h.b.LenRead() }

// Peek returns the next n bytes without advancing the buffer.
func (h *HeapBuffer) Peek(n int) ([]byte, error) { return h.b.Peek(n) }

// Skip advances the buffer by n bytes.
func (h *HeapBuffer) Skip(n int) error { return h.b.Skip(n) }

// Next returns and consumes the next n bytes.
func (h *HeapBuffer) Next(n int) ([]byte, error) { return h.b.Next(n) }

// Read copies into p and advances by the number of bytes copied.
func (h *HeapBuffer) Read(p []byte) (int, error) { return h.b.Read(p) }

// Release returns the buffer to the shared pool. The HeapBuffer must not
// be used afterwards.
func (h *HeapBuffer) Release() { ibuf.Free(h.b) }

// Raw exposes the underlying internal/buffer.Buffer for socket internals
// that need write-side access (Write/Writev/Fill), which aren't part of
// the read-only Buffer contract applications see.
func (h *HeapBuffer) Raw() *ibuf.Buffer { return h.b }

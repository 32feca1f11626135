// Package bufferlist batches pending application writes into the vectors
// the kernel send calls want, generalized from netfd.go's Writev/WriteTo
// helpers and internal/iovec.IOData into a reusable, socket-type-aware
// abstraction: TCP gets one vectored writev, UDP on Linux gets sendmmsg
// batching, and UDP elsewhere falls back to one sendto per message.
package bufferlist

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/nexuscore/netcore/internal/iovec"
)

// SockType selects which List implementation Select returns.
type SockType int

// Supported socket types.
const (
	TCP SockType = iota
	UDP
)

// Message is one outbound datagram: payload plus, for UDP, its destination.
type Message struct {
	Data []byte
	Addr net.Addr
}

// List accumulates pending Messages and flushes them to a file descriptor
// in as few syscalls as the platform and socket type allow.
type List interface {
	// Push appends a message to the pending batch.
	Push(Message)

	// Len returns the number of pending messages.
	Len() int

	// Flush writes as much of the pending batch as the kernel accepts
	// without blocking, returning the number of whole messages fully
	// written and consuming them from the batch. A partial message (TCP
	// only) is tracked internally and resumed on the next Flush.
	Flush(fd int, laddr net.Addr) (n int, err error)

	// Reset drops all pending state, for reuse across connections.
	Reset()
}

// Select returns the List implementation appropriate for sockType on the
// running platform.
func Select(sockType SockType) List {
	switch sockType {
	case UDP:
		return newDgramList()
	default:
		return newStreamList()
	}
}

// streamList is the vectored-writev TCP path.
type streamList struct {
	pending [][]byte
	iod     iovec.IOData
}

func newStreamList() *streamList {
	return &streamList{iod: iovec.NewIOData()}
}

func (l *streamList) Push(m Message) {
	if len(m.Data) == 0 {
		return
	}
	l.pending = append(l.pending, m.Data)
}

func (l *streamList) Len() int { return len(l.pending) }

func (l *streamList) Reset() {
	l.pending = l.pending[:0]
	l.iod.Reset()
}

// Flush writes as many whole pending buffers as writev accepts in one
// call, then keeps writing while data remains and the kernel keeps
// accepting bytes, consuming partially-written buffers in place.
func (l *streamList) Flush(fd int, _ net.Addr) (int, error) {
	var total int
	for len(l.pending) > 0 {
		ivs := l.buildIovec()
		n, err := writev(fd, ivs)
		if n > 0 {
			total += l.consume(n)
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (l *streamList) buildIovec() []unix.Iovec {
	ivs := make([]unix.Iovec, 0, len(l.pending))
	for _, b := range l.pending {
		if len(b) == 0 {
			continue
		}
		var iv unix.Iovec
		iv.SetLen(len(b))
		iv.Base = &b[0]
		ivs = append(ivs, iv)
	}
	return ivs
}

// consume removes the first n fully-written bytes' worth of buffers,
// trimming a partially-written trailing buffer in place. Returns the
// number of messages fully consumed.
func (l *streamList) consume(n int) int {
	consumedMsgs := 0
	for n > 0 && len(l.pending) > 0 {
		b := l.pending[0]
		if n >= len(b) {
			n -= len(b)
			l.pending = l.pending[1:]
			consumedMsgs++
			continue
		}
		l.pending[0] = b[n:]
		n = 0
	}
	return consumedMsgs
}

func writev(fd int, ivs []unix.Iovec) (int, error) {
	if len(ivs) == 0 {
		return 0, nil
	}
	return rawWritev(fd, ivs)
}

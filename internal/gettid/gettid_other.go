//go:build !linux

package gettid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the runtime goroutine id of the caller, parsed out of the
// "goroutine N [...]" header that runtime.Stack prints. Linux has a real
// gettid(2) syscall (see gettid_linux.go); other platforms fall back to
// this, which is slower. It is called on the UDP server's per-datagram
// path (peer lookup and poller-identity checks).
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

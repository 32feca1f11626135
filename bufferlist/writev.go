package bufferlist

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nexuscore/netcore/metrics"
)

// rawWritev mirrors netfd.go's Writev: a raw, non-blocking SYS_WRITEV call,
// since sockets in this package are always set O_NONBLOCK before being
// handed to a List.
func rawWritev(fd int, ivs []unix.Iovec) (int, error) {
	r, _, e := unix.RawSyscall(unix.SYS_WRITEV, uintptr(fd), uintptr(unsafe.Pointer(&ivs[0])), uintptr(len(ivs)))
	metrics.Add(metrics.TCPWritevCalls, 1)
	if e != 0 {
		if e == unix.EAGAIN {
			return 0, nil
		}
		metrics.Add(metrics.TCPWritevFails, 1)
		return int(r), e
	}
	metrics.Add(metrics.TCPWritevBlocks, uint64(len(ivs)))
	return int(r), nil
}

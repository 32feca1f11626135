//go:build linux

package bufferlist

import (
	"encoding/binary"
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sockaddrToRaw marshals a unix.Sockaddr produced by netutil.AddrToSockAddr
// into the raw bytes unix.Msghdr.Name wants, since golang.org/x/sys/unix
// keeps its own Sockaddr marshalling private.
func sockaddrToRaw(sa unix.Sockaddr) ([]byte, uint32, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		var raw unix.RawSockaddrInet4
		raw.Family = unix.AF_INET
		binary.BigEndian.PutUint16((*[2]byte)(unsafe.Pointer(&raw.Port))[:], uint16(sa.Port))
		copy(raw.Addr[:], sa.Addr[:])
		return structBytes(unsafe.Pointer(&raw), unsafe.Sizeof(raw)), uint32(unsafe.Sizeof(raw)), nil
	case *unix.SockaddrInet6:
		var raw unix.RawSockaddrInet6
		raw.Family = unix.AF_INET6
		binary.BigEndian.PutUint16((*[2]byte)(unsafe.Pointer(&raw.Port))[:], uint16(sa.Port))
		raw.Scope_id = sa.ZoneId
		copy(raw.Addr[:], sa.Addr[:])
		return structBytes(unsafe.Pointer(&raw), unsafe.Sizeof(raw)), uint32(unsafe.Sizeof(raw)), nil
	default:
		return nil, 0, errors.New("bufferlist: unsupported sockaddr type")
	}
}

func structBytes(p unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(p), int(size))
}

func ptr(b *byte) unsafe.Pointer {
	return unsafe.Pointer(b)
}

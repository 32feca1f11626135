package socket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/nexuscore/netcore/internal/iovec"
	"github.com/nexuscore/netcore/internal/netutil"
	"github.com/nexuscore/netcore/metrics"
	"github.com/nexuscore/netcore/poller"
)

// ErrClosed is returned by operations on a Socket/rawConn after Close.
var ErrClosed = errors.New("socket: closed")

// ErrSendQueueTimeout is the error classified and delivered to on_err
// when max_send_buffer_ms backpressure discards a stalled send queue.
var ErrSendQueueTimeout = errors.New("socket: send queue stalled past max_send_buffer_ms")

// rawConn gives a Socket direct ownership of its file descriptor,
// relocating netfd.go's netFD pattern into this package so Socket
// reaches the bytes on the wire directly rather than through the
// teacher's tcpconn.go/udpconn.go wrapper engine: sock, when set, is
// kept alive only for its Close()/address accessors (a dialed
// connection's fd came from a *net.TCPConn or *net.UDPConn that must
// still be released); an accepted connection has no sock and closes its
// fd directly, exactly as the teacher's former tcplistener.go raw
// accept() path did.
type rawConn struct {
	fd      int
	sock    io.Closer
	ep      *poller.EventPoller
	desc    *poller.Desc
	laddr   net.Addr
	raddr   net.Addr
	closed  atomic.Bool
	locker  sync.Mutex
}

// newRawConnFromFD wraps an already-accepted, already-nonblocking fd
// with no backing net.Conn, grounded on tcplistener.go's accept path.
func newRawConnFromFD(fd int, laddr, raddr net.Addr) *rawConn {
	return &rawConn{fd: fd, laddr: laddr, raddr: raddr}
}

// newRawConnFromDial extracts conn's fd via netutil.GetFD and switches
// it to nonblocking, keeping conn alive purely for Close() and address
// accessors, mirroring netfd_test.go's rawToNetFD helper: no dup, and
// conn's own Read/Write must never be called again once this returns.
func newRawConnFromDial(conn net.Conn) (*rawConn, error) {
	fd, err := netutil.GetFD(conn)
	if err != nil {
		return nil, fmt.Errorf("rawConn from dial: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("rawConn set nonblock: %w", err)
	}
	return &rawConn{fd: fd, sock: conn, laddr: conn.LocalAddr(), raddr: conn.RemoteAddr()}, nil
}

// FD returns the owned file descriptor.
func (c *rawConn) FD() int { return c.fd }

// LocalAddr returns the local network address.
func (c *rawConn) LocalAddr() net.Addr { return c.laddr }

// RemoteAddr returns the remote network address.
func (c *rawConn) RemoteAddr() net.Addr { return c.raddr }

// SetNoDelay sets TCP_NODELAY on this fd.
func (c *rawConn) SetNoDelay(noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// Schedule registers the fd with ep and arms Readable interest, calling
// back onRead/onWrite/onHup exactly as netFD.Schedule does.
func (c *rawConn) Schedule(ep *poller.EventPoller, onRead func(data interface{}, ioData *iovec.IOData) error, onWrite func(data interface{}) error, onHup func(data interface{})) error {
	if c.desc != nil {
		return errors.New("rawConn: already scheduled")
	}
	desc := poller.NewDesc()
	desc.Lock()
	desc.FD = c.fd
	desc.Data = c
	desc.OnRead = onRead
	desc.OnWrite = onWrite
	desc.OnHup = onHup
	desc.Unlock()
	c.locker.Lock()
	c.ep = ep
	c.desc = desc
	c.locker.Unlock()
	return c.Control(poller.Readable)
}

// Control registers event for this fd's Desc on its bound EventPoller.
func (c *rawConn) Control(event poller.Event) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if c.desc == nil || c.ep == nil {
		return fmt.Errorf("rawConn %d: not scheduled on a poller", c.fd)
	}
	return c.ep.Control(c.desc, event)
}

// Close tears the fd/Desc down, safe to call more than once.
func (c *rawConn) Close() error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if !c.closed.CAS(false, true) {
		return nil
	}
	if c.desc != nil && c.ep != nil {
		_ = c.ep.Control(c.desc, poller.Detach)
		poller.FreeDesc(c.desc)
		c.desc = nil
	}
	if c.sock != nil {
		return c.sock.Close()
	}
	return unix.Close(c.fd)
}

// Readv implements vectored receive, mirroring netfd.go's Readv.
func (c *rawConn) Readv(ivs []unix.Iovec) (int, error) {
	if len(ivs) == 0 {
		return 0, nil
	}
	r, _, e := unix.RawSyscall(unix.SYS_READV, uintptr(c.fd), uintptr(unsafe.Pointer(&ivs[0])), uintptr(len(ivs)))
	metrics.Add(metrics.TCPReadvCalls, 1)
	if e != 0 {
		metrics.Add(metrics.TCPReadvFails, 1)
		return int(r), e
	}
	metrics.Add(metrics.TCPReadvBytes, uint64(r))
	return int(r), nil
}

package socket

import (
	"net"
	"time"

	"go.uber.org/atomic"

	"github.com/nexuscore/netcore/metrics"
	"github.com/nexuscore/netcore/poller"
)

// CancelHandle cancels an in-flight Connect before it completes. Go has
// no weak_ptr, so this realizes spec.md's "weak-reference-flavored
// cancel handle" as an atomic "live" flag, cleared by Cancel from any
// goroutine and checked by the dialing goroutine once the dial returns —
// grounded on the teacher's atomic.Bool guarded `closed` flags in
// udpconn.go/tcpconn.go, used the same way.
type CancelHandle struct {
	live atomic.Bool
}

// Cancel marks the handle cancelled. The flag is checked once, right
// after the dial returns: if Cancel came first, a dialed connection is
// closed and the callback is not called; a Cancel that lands after that
// check does not stop the callback.
func (c *CancelHandle) Cancel() {
	c.live.Store(false)
}

func newCancelHandle() *CancelHandle {
	c := &CancelHandle{}
	c.live.Store(true)
	return c
}

// ConnectCallback receives the dialed Socket, or a non-nil err classified
// via ErrKind (Timeout, Refused, Dns, Other).
type ConnectCallback func(sock *Socket, err error)

// resolvePoller falls back to the calling goroutine's own poller when ep
// is nil, so a Connect issued from inside a poller's Wait loop attaches
// its Socket there by default.
func resolvePoller(ep *poller.EventPoller) *poller.EventPoller {
	if ep != nil {
		return ep
	}
	return poller.Current()
}

// ConnectTCP dials network/address asynchronously, returning a
// CancelHandle and calling cb exactly once with the result. Generalizes
// ZLToolKit's Socket::connect state machine (original_source/ZLToolKit/
// src/Network/Socket.h) onto a non-blocking net.DialTimeout dial, with
// the resulting Socket taking raw ownership of the dialed fd (rawConn)
// rather than wrapping it in the teacher's retired tcpconn.go engine.
func ConnectTCP(network, address string, timeout time.Duration, ep *poller.EventPoller,
	maxSendBufferDelay time.Duration, cb ConnectCallback) *CancelHandle {
	handle := newCancelHandle()
	target := resolvePoller(ep)
	metrics.Add(metrics.SocketConnectsStarted, 1)
	go func() {
		conn, err := net.DialTimeout(network, address, timeout)
		if !handle.live.Load() {
			if err == nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			cerr := Classify(err)
			switch cerr.Kind {
			case Timeout:
				metrics.Add(metrics.SocketConnectsTimeout, 1)
			case Refused:
				metrics.Add(metrics.SocketConnectsRefused, 1)
			}
			cb(nil, cerr)
			return
		}
		sock, err := NewTCP(conn, target, maxSendBufferDelay)
		if err != nil {
			conn.Close()
			cb(nil, Classify(err))
			return
		}
		metrics.Add(metrics.SocketConnectsOK, 1)
		cb(sock, nil)
	}()
	return handle
}

// ConnectUDP dials a UDP peer asynchronously (UDP "connect" only binds a
// default peer address; no handshake occurs), mirroring ConnectTCP's
// shape for API symmetry.
func ConnectUDP(network, address string, timeout time.Duration, ep *poller.EventPoller,
	maxSendBufferDelay time.Duration, cb ConnectCallback) *CancelHandle {
	handle := newCancelHandle()
	target := resolvePoller(ep)
	go func() {
		raddr, err := net.ResolveUDPAddr(network, address)
		if err != nil {
			if handle.live.Load() {
				cb(nil, Classify(err))
			}
			return
		}
		pc, err := net.DialTimeout(network, address, timeout)
		if !handle.live.Load() {
			if err == nil {
				pc.Close()
			}
			return
		}
		if err != nil {
			cb(nil, Classify(err))
			return
		}
		upc, ok := pc.(net.PacketConn)
		if !ok {
			pc.Close()
			cb(nil, Classify(net.InvalidAddrError(raddr.String())))
			return
		}
		sock, err := newUDPFromDial(upc, target, maxSendBufferDelay)
		if err != nil {
			pc.Close()
			cb(nil, Classify(err))
			return
		}
		cb(sock, nil)
	}()
	return handle
}

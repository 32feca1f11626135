// Package server generalizes the teacher's former tcpservice.go/
// surviving udpservice.go (single listener, in-process conn map, no
// per-peer Session) into spec.md's Session/SessionHelper façade over
// poller-cloned TcpServer and UdpServer, matching ZLToolKit's
// Server/Session/TcpServer split.
package server

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/nexuscore/netcore/config"
	"github.com/nexuscore/netcore/socket"
	"github.com/nexuscore/netcore/tlsbox"
)

var sessionSeq atomic.Int64

// Session is the application-facing façade forwarded I/O from a Socket,
// spec.md §4's "Session / SocketHelper" row.
type Session interface {
	// OnRecv delivers newly received bytes.
	OnRecv(data []byte) error

	// OnErr notifies the session that its Socket has failed or closed.
	OnErr(err error)

	// OnManager is invoked by the owning server's 2-second management
	// tick, spec.md's onManagerSession.
	OnManager()

	// Send writes data back out through the session's Socket.
	Send(data []byte) error

	// Shutdown actively closes the session with a reason.
	Shutdown(err error)

	// Identifier returns a stable, lazily-computed session id.
	Identifier() string
}

// Factory creates a Session for a newly accepted Socket, analogous to
// ZLToolKit's session factory passed to TcpServer::start.
type Factory func(helper *SessionHelper) Session

// SessionHelper binds a Session to its Socket and owning server,
// generalizing the spec's SessionHelper: it is the map key/value used by
// TcpServer/UdpServer's session tables, and the object Session.onManager
// et al. are invoked through.
type SessionHelper struct {
	sock    *socket.Socket
	tls     tlsbox.Box
	cfg     *config.Config
	session Session
	idSeq   int64
	fd      int

	errored atomic.Bool
}

func (h *SessionHelper) markErrored() bool {
	return h.errored.CAS(false, true)
}

// newSessionHelper allocates a helper and assigns it a monotonic
// sequence number, combined with fd into Session.Identifier() per
// spec.md §4: `"<monotonic-session-seq>-<fd>"`.
func newSessionHelper(sock *socket.Socket, fd int, cfg *config.Config, tls tlsbox.Box) *SessionHelper {
	return &SessionHelper{
		sock:  sock,
		cfg:   cfg,
		tls:   tls,
		idSeq: sessionSeq.Inc(),
		fd:    fd,
	}
}

// Config returns the parent server's config, attached to every session
// on accept per spec.md §4.5 "attach the parent server's config to the
// session".
func (h *SessionHelper) Config() *config.Config { return h.cfg }

// Socket returns the underlying socket.Socket the session reads/writes
// through.
func (h *SessionHelper) Socket() *socket.Socket { return h.sock }

// Send writes data out, transforming it through the TLS box first when
// one is attached.
func (h *SessionHelper) Send(data []byte) error {
	if h.tls != nil {
		enc, err := h.tls.EncryptSend(data)
		if err != nil {
			return err
		}
		data = enc
	}
	return h.sock.Send(data, nil)
}

// deliver decrypts (if a TLS box is attached) and forwards data to the
// bound Session's OnRecv.
func (h *SessionHelper) deliver(data []byte) error {
	if h.tls != nil {
		dec, err := h.tls.DecryptRecv(data)
		if err != nil {
			return err
		}
		data = dec
	}
	if h.session == nil {
		return nil
	}
	return h.session.OnRecv(data)
}

// fail marks the helper errored exactly once and forwards to the
// session's OnErr, matching spec.md's idempotent emitErr.
func (h *SessionHelper) fail(err error) {
	if !h.markErrored() {
		return
	}
	if h.session != nil {
		h.session.OnErr(err)
	}
}

// Identifier returns "<monotonic-session-seq>-<fd>", a stable id Session
// implementations can forward from their own Identifier method.
func (h *SessionHelper) Identifier() string {
	return fmt.Sprintf("%d-%d", h.idSeq, h.fd)
}

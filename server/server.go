package server

import (
	"time"

	"github.com/nexuscore/netcore/config"
	"github.com/nexuscore/netcore/tlsbox"
)

// Server is the shared parent/clone contract TCPServer and UdpServer
// both implement: ownership of a config and an optional TLS box
// collaborator; each session reaches the config through
// SessionHelper.Config().
type Server interface {
	// Config returns this server's attached configuration.
	Config() *config.Config

	// TLSBox returns this server's TLS box collaborator, or nil.
	TLSBox() tlsbox.Box
}

// Option configures a TCPServer or UdpServer at construction.
type Option func(*serverOptions)

type serverOptions struct {
	cfg                 *config.Config
	tls                 tlsbox.Box
	pollers             int
	maxSendBufferDelay  time.Duration
}

func defaultOptions() serverOptions {
	return serverOptions{cfg: config.New(), pollers: 0}
}

// WithConfig attaches cfg to the server, available to every Session via
// SessionHelper.Config().
func WithConfig(cfg *config.Config) Option {
	return func(o *serverOptions) { o.cfg = cfg }
}

// WithTLSBox attaches a TLS box collaborator, consumed only at Session
// construction — the box itself is never implemented here, per
// spec.md's Non-goals.
func WithTLSBox(box tlsbox.Box) Option {
	return func(o *serverOptions) { o.tls = box }
}

// WithPollerClones sets how many poller-affine clones this server opens
// (0 means one clone per registered poller). Generalizes the teacher's
// implicit one-poller-per-UDP-listener in listenUDP.
func WithPollerClones(n int) Option {
	return func(o *serverOptions) { o.pollers = n }
}

// WithMaxSendBufferDelay bounds how long a Socket's send queue may sit
// unflushed before it is considered stalled and closed, spec.md's
// max_send_buffer_ms. Zero (the default) disables the backpressure timer.
func WithMaxSendBufferDelay(d time.Duration) Option {
	return func(o *serverOptions) { o.maxSendBufferDelay = d }
}

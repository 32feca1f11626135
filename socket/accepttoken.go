package socket

import "sync/atomic"

// AcceptToken fences a single accepted connection's completion path so
// it fires at most once, however many callers race to complete it.
// server.TCPServer's accept loop does not use it; that loop just returns
// on a temporary accept error (EAGAIN, ECONNABORTED, ECONNRESET), counted
// by metrics.SocketAcceptRearms. Supplemented from original_source's
// onceToken.h, which ZLToolKit attaches to each accepted TcpSession to
// guard its onError/onManager double-delivery the same way.
type AcceptToken struct {
	fired int32
}

// NewAcceptToken creates an unfired token.
func NewAcceptToken() *AcceptToken { return &AcceptToken{} }

// Complete runs fn at most once across all callers of Complete on this
// token, returning whether fn actually ran.
func (t *AcceptToken) Complete(fn func()) bool {
	if !atomic.CompareAndSwapInt32(&t.fired, 0, 1) {
		return false
	}
	fn()
	return true
}

// Fired reports whether Complete has already run fn.
func (t *AcceptToken) Fired() bool {
	return atomic.LoadInt32(&t.fired) == 1
}

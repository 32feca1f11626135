//go:build linux

// Package gettid exposes the OS thread id of the calling goroutine. It
// keys the poller registry behind poller.Current()/EventPoller.IsCurrent
// and serves as the owner token of the UDP server's recursive mutex. Go
// goroutines migrate across OS threads, so the id is only a stable
// per-goroutine key under the assumption that a poller's run loop stays
// parked on one goroutine (and one OS thread, since Wait locks it to its
// thread) for its lifetime.
package gettid

import "golang.org/x/sys/unix"

// Current returns a key that stays stable for the lifetime of the
// invoking goroutine's run loop.
func Current() int64 {
	return int64(unix.Gettid())
}

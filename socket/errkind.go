// Tencent is pleased to support the open source community by making netcore available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that netcore source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package socket generalizes the teacher's tcpconn.go/udpconn.go/netfd.go
// into a single Socket state machine with a two-stage send queue,
// connect-with-timeout, an ErrKind error taxonomy, and accept-loop
// completion tokens, matching spec.md's Socket contract on top of the
// kept netcore transport engine.
package socket

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrKind classifies a Socket error into the taxonomy spec.md §7 asks
// for, matching the teacher's error-wrapping style (errors.Wrap) in
// poller_epoll.go/poller_kqueue.go but adding a stable enum callers can
// switch on instead of string-matching.
type ErrKind int

// ErrKind values, spec.md §7's taxonomy.
const (
	Success ErrKind = iota
	Eof
	Timeout
	Refused
	Dns
	Shutdown
	Other
)

// String implements fmt.Stringer.
func (k ErrKind) String() string {
	switch k {
	case Success:
		return "Success"
	case Eof:
		return "Eof"
	case Timeout:
		return "Timeout"
	case Refused:
		return "Refused"
	case Dns:
		return "Dns"
	case Shutdown:
		return "Shutdown"
	default:
		return "Other"
	}
}

// Error wraps an underlying error with its classified ErrKind.
type Error struct {
	Kind ErrKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("socket: %s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with its ErrKind, matching the teacher's
// errors.Wrap-at-the-boundary idiom.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Err: errors.Wrap(err, "socket")}
}

func classify(err error) ErrKind {
	switch {
	case errors.Is(err, io.EOF):
		return Eof
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, ErrSendQueueTimeout), isTimeout(err):
		return Timeout
	case errors.Is(err, unix.ECONNREFUSED):
		return Refused
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return Shutdown
	default:
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return Dns
		}
		return Other
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// Tencent is pleased to support the open source community by making netcore available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that netcore source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package poller exposes the EventPoller surface that socket.Socket and
// server.TCPServer/UdpServer build on: fd registration, async task
// dispatch, cancelable delay tasks, and per-poller shared receive
// buffers. It is a thin public face over internal/poller, generalizing
// teacher's package-private reactor into the spec's EventPoller contract.
package poller

import (
	"time"

	ipoller "github.com/nexuscore/netcore/internal/poller"
)

// Job is a task dispatched to a poller's own goroutine.
type Job = ipoller.Job

// DelayTask is a cancelable, poller-owned timer armed by DoDelayTask.
type DelayTask = ipoller.DelayTask

// Event mirrors internal/poller.Event for fd registration.
type Event = ipoller.Event

// Re-exported Event constants, matching spec.md's addEvent/delEvent/modifyEvent.
const (
	Readable         = ipoller.Readable
	ModReadable      = ipoller.ModReadable
	Writable         = ipoller.Writable
	ModWritable      = ipoller.ModWritable
	ReadWriteable    = ipoller.ReadWriteable
	ModReadWriteable = ipoller.ModReadWriteable
	Detach           = ipoller.Detach
)

// Desc carries the fd and callbacks monitored by a poller, renamed
// generalization of internal/poller.Desc.
type Desc = ipoller.Desc

// NewDesc allocates a Desc for an fd.
func NewDesc() *Desc { return ipoller.NewDesc() }

// FreeDesc releases a Desc back to the poller system.
func FreeDesc(d *Desc) { ipoller.FreeDesc(d) }

// EventPoller is a single-goroutine reactor: one fd set, one task FIFO,
// one delay-task heap. socket.Socket and server sessions are attached to
// exactly one EventPoller for their lifetime.
type EventPoller struct {
	p ipoller.Poller
}

// wrap adapts an internal/poller.Poller into the public EventPoller face.
func wrap(p ipoller.Poller) *EventPoller { return &EventPoller{p: p} }

// FromInternal adapts an internal/poller.Poller into an EventPoller. It
// exists only for pollerpool, which owns a PollMgr of internal pollers and
// must hand callers the public EventPoller face.
func FromInternal(p ipoller.Poller) *EventPoller {
	if p == nil {
		return nil
	}
	return wrap(p)
}

// Control registers ev for desc on this poller.
func (e *EventPoller) Control(desc *Desc, ev Event) error {
	return e.p.Control(desc, ev)
}

// Async queues job to run on this poller's own goroutine, waking it if
// it's parked in Wait().
func (e *EventPoller) Async(job Job) error {
	return e.p.Trigger(job)
}

// AsyncFirst queues job ahead of any already-pending async job.
func (e *EventPoller) AsyncFirst(job Job) error {
	return e.p.AsyncFirst(job)
}

// DoDelayTask arms fn to run after d has elapsed on this poller's own
// goroutine. The returned DelayTask can cancel it before it fires.
func (e *EventPoller) DoDelayTask(d time.Duration, fn func()) *DelayTask {
	return e.p.DoDelayTask(d, fn)
}

// Load returns this poller's recent busy ratio in [0, 100].
func (e *EventPoller) Load() int {
	return e.p.Load()
}

// Close stops this poller's Wait loop.
func (e *EventPoller) Close() error {
	return e.p.Close()
}

// Current returns the EventPoller that owns the calling goroutine's
// thread, or nil if the caller isn't running on a registered poller's
// Wait loop. Generalizes ZLToolKit's EventPollerPool::getCurrentPoller,
// grounded on internal/poller's gettid-keyed thread registry.
func Current() *EventPoller {
	p := ipoller.Current()
	if p == nil {
		return nil
	}
	return wrap(p)
}

// IsCurrent reports whether e owns the calling goroutine's thread, the
// thread-affinity check the teacher's Desc.Control assumed implicitly and
// this spec makes explicit at the Socket/EventPoller public boundary.
func (e *EventPoller) IsCurrent() bool {
	cur := ipoller.Current()
	return cur != nil && cur == e.p
}

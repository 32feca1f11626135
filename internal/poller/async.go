// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package poller

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nexuscore/netcore/internal/ticker"
	"github.com/nexuscore/netcore/metrics"
)

// DelayTask is a cancel handle for a task armed with DoDelayTask.
type DelayTask struct {
	item *timerItem
}

// Cancel prevents the task from firing if it hasn't fired yet. Safe to
// call from any goroutine; safe to call more than once.
func (t *DelayTask) Cancel() {
	if t == nil || t.item == nil {
		return
	}
	t.item.mu.Lock()
	t.item.cancelled = true
	t.item.mu.Unlock()
	metrics.Add(metrics.PollerDelayTasksCancelled, 1)
}

type timerItem struct {
	deadline int64 // unix ms
	fn       func()
	index    int
	mu       sync.Mutex
	cancelled bool
}

type timerHeap []*timerItem

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x interface{}) {
	it := x.(*timerItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// base implements the FIFO async task queue and delay-task timer heap
// shared by every platform's poller loop. It is generalized from the
// teacher's bare Trigger/notify wakeup (which carried no task payload) into
// EventPoller's required async task dispatch and cancelable timers.
type base struct {
	taskMu sync.Mutex
	tasks  []Job

	timerMu sync.Mutex
	timers  timerHeap

	loadMu sync.Mutex
	load   ticker.LoadRing
}

// MarkSleepStart records that the poller is about to block in its wait
// syscall, for the busy-ratio load metric consumed by pollerpool's
// least-loaded pick.
func (b *base) MarkSleepStart() {
	b.loadMu.Lock()
	b.load.MarkSleepStart(time.Now())
	b.loadMu.Unlock()
}

// MarkSleepEnd records that the poller woke from its wait syscall.
func (b *base) MarkSleepEnd() {
	b.loadMu.Lock()
	b.load.MarkSleepEnd(time.Now())
	b.loadMu.Unlock()
}

// Load returns the poller's recent busy ratio in [0, 100].
func (b *base) Load() int {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()
	return b.load.Load()
}

func (b *base) pushTask(job Job, front bool) {
	b.taskMu.Lock()
	if front {
		b.tasks = append([]Job{job}, b.tasks...)
	} else {
		b.tasks = append(b.tasks, job)
	}
	b.taskMu.Unlock()
}

// drainTasks removes and returns all currently queued tasks.
func (b *base) drainTasks() []Job {
	b.taskMu.Lock()
	if len(b.tasks) == 0 {
		b.taskMu.Unlock()
		return nil
	}
	tasks := b.tasks
	b.tasks = nil
	b.taskMu.Unlock()
	return tasks
}

func (b *base) runTasks() {
	for _, job := range b.drainTasks() {
		if job == nil {
			continue
		}
		if err := job(); err != nil {
			// Task errors are reported by the caller's own error handling;
			// the poller loop itself never fails because of them.
			_ = err
		}
		metrics.Add(metrics.PollerAsyncTasks, 1)
	}
}

// addDelay arms fn to run after d, on this poller's own goroutine.
func (b *base) addDelay(d time.Duration, fn func()) *DelayTask {
	it := &timerItem{deadline: time.Now().Add(d).UnixMilli(), fn: fn}
	b.timerMu.Lock()
	heap.Push(&b.timers, it)
	b.timerMu.Unlock()
	metrics.Add(metrics.PollerDelayTasksArmed, 1)
	return &DelayTask{item: it}
}

// nextTimeoutMs returns the wait timeout (ms) that lets the next armed
// timer fire on schedule, or -1 if no timer is armed.
func (b *base) nextTimeoutMs() int {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()
	for len(b.timers) > 0 {
		top := b.timers[0]
		top.mu.Lock()
		cancelled := top.cancelled
		top.mu.Unlock()
		if cancelled {
			heap.Pop(&b.timers)
			continue
		}
		ms := top.deadline - time.Now().UnixMilli()
		if ms < 0 {
			ms = 0
		}
		return int(ms)
	}
	return -1
}

// runDueTimers fires every timer whose deadline has passed.
func (b *base) runDueTimers() {
	now := time.Now().UnixMilli()
	for {
		b.timerMu.Lock()
		if len(b.timers) == 0 {
			b.timerMu.Unlock()
			return
		}
		top := b.timers[0]
		if top.deadline > now {
			b.timerMu.Unlock()
			return
		}
		heap.Pop(&b.timers)
		b.timerMu.Unlock()

		top.mu.Lock()
		cancelled := top.cancelled
		top.mu.Unlock()
		if cancelled {
			continue
		}
		metrics.Add(metrics.PollerDelayTasksFired, 1)
		top.fn()
	}
}

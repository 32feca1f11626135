// Tencent is pleased to support the open source community by making netcore available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that netcore source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package poller

import (
	"sync"

	"github.com/nexuscore/netcore/internal/gettid"
)

// byThread maps the OS-thread id a poller's Wait loop is parked on to the
// poller itself, the thread-local substitute ZLToolKit gets for free from
// pthread_self() in EventPollerPool::getPoller(true).
var byThread sync.Map // map[int64]Poller

// RegisterCurrent records poller as owning the calling goroutine's thread,
// called once from the goroutine that runs poller.Wait().
func RegisterCurrent(poller Poller) {
	byThread.Store(gettid.Current(), poller)
}

// UnregisterCurrent removes the calling goroutine's thread from the registry.
func UnregisterCurrent() {
	byThread.Delete(gettid.Current())
}

// Current returns the Poller owning the calling goroutine's thread, or nil
// if the caller isn't running on a registered poller's Wait loop.
func Current() Poller {
	v, ok := byThread.Load(gettid.Current())
	if !ok {
		return nil
	}
	return v.(Poller)
}

// Tencent is pleased to support the open source community by making netcore available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that netcore source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package pollerpool manages a fixed set of EventPollers and picks one per
// new Socket/Session, generalizing internal/poller's PollMgr into the
// spec's PollerPool contract.
package pollerpool

import (
	ipoller "github.com/nexuscore/netcore/internal/poller"
	"github.com/nexuscore/netcore/poller"
)

// Balance strategy names, re-exported from internal/poller.
const (
	RoundRobin = ipoller.RoundRobin
	LeastLoad  = ipoller.LeastLoad
)

// Pool owns a fixed set of EventPollers, each running on its own
// goroutine pinned to its own OS thread.
type Pool struct {
	mgr *ipoller.PollMgr
}

// New creates a Pool of loops EventPollers, picked from by the named
// balance strategy (RoundRobin or LeastLoad).
func New(balance string, loops int) (*Pool, error) {
	mgr, err := ipoller.NewPollMgr(balance, loops)
	if err != nil {
		return nil, err
	}
	return &Pool{mgr: mgr}, nil
}

// NumPollers returns the number of EventPollers in the pool.
func (p *Pool) NumPollers() int { return p.mgr.NumPollers() }

// GetPoller picks an EventPoller according to the pool's balance
// strategy. When preferCurrentThread is true and the caller is already
// running on one of this pool's poller goroutines, that same poller is
// returned instead — grounded on ZLToolKit's
// EventPollerPool::getPoller(bool preferCurrentThread), which avoids an
// unnecessary cross-thread hop for calls already on a poller loop.
func (p *Pool) GetPoller(preferCurrentThread bool) *poller.EventPoller {
	return poller.FromInternal(p.mgr.PickPrefer(preferCurrentThread))
}

// ForEach iterates every EventPoller in the pool; iteration stops early
// if f returns false. Generalizes internal/poller's LoadBalance.Iterate.
func (p *Pool) ForEach(f func(index int, ep *poller.EventPoller) bool) {
	p.mgr.Iterate(func(i int, ip ipoller.Poller) bool {
		return f(i, poller.FromInternal(ip))
	})
}

// AverageLoad returns the mean busy ratio (0-100) across all pollers in
// the pool, generalizing ZLToolKit's EventPollerPool::getExecutorLoad,
// which aggregates each poller's smoothed busy ratio.
func (p *Pool) AverageLoad() int {
	total, n := 0, 0
	p.mgr.Iterate(func(_ int, ip ipoller.Poller) bool {
		total += ip.Load()
		n++
		return true
	})
	if n == 0 {
		return 0
	}
	return total / n
}

// Close stops every EventPoller in the pool.
func (p *Pool) Close() error { return p.mgr.Close() }

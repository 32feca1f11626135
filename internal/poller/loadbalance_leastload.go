// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package poller

import "sync"

// LeastLoad denotes the name of the least-busy-poller loadbalance.
const LeastLoad string = "LeastLoadLB"

func init() {
	RegisterBalanceBuilder(LeastLoad, func() LoadBalance { return &leastLoadLB{} })
}

// leastLoadLB picks the poller with the lowest recent busy ratio (base.Load),
// breaking ties round robin so equally idle pollers still spread evenly.
type leastLoadLB struct {
	mu      sync.Mutex
	pollers []Poller
	next    int
}

// Name returns loadbalance type.
func (l *leastLoadLB) Name() string {
	return LeastLoad
}

// Register registers poller to loadbalance.
func (l *leastLoadLB) Register(poller Poller) {
	l.mu.Lock()
	l.pollers = append(l.pollers, poller)
	l.mu.Unlock()
}

// Pick returns the least loaded poller.
func (l *leastLoadLB) Pick() Poller {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pollers)
	if n == 0 {
		return nil
	}
	best := l.pollers[l.next%n]
	bestLoad := best.Load()
	for i := 1; i < n; i++ {
		p := l.pollers[(l.next+i)%n]
		if p.Load() < bestLoad {
			best, bestLoad = p, p.Load()
		}
	}
	l.next++
	return best
}

// Len returns pollers size.
func (l *leastLoadLB) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pollers)
}

// Iterate iterates the pollers and invokes function f, if f returns false, iteration will stop.
func (l *leastLoadLB) Iterate(f func(int, Poller) bool) {
	l.mu.Lock()
	pollers := append([]Poller(nil), l.pollers...)
	l.mu.Unlock()
	for index, poller := range pollers {
		if !f(index, poller) {
			break
		}
	}
}

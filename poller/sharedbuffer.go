// Tencent is pleased to support the open source community by making netcore available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that netcore source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package poller

import (
	"sync"

	"github.com/nexuscore/netcore/buffer"
)

// udpRingSize mirrors netfd.go's udpPacketNum: the number of datagrams a
// single recvmmsg(2) batch can pull per wakeup.
const udpRingSize = 32

// SharedBuffer is a per-EventPoller scratch buffer, generalizing teacher's
// epoll.ioData (one reused iovec.IOData per poller, never per-connection)
// into a typed TCP/UDP split: a TCP Socket fills its own buffer.Buffer from
// this single growable backing store across onRead calls, while a UDP
// Socket pulls from a fixed-size ring sized to one recvmmsg batch.
type SharedBuffer struct {
	once sync.Once
	tcp  *buffer.HeapBuffer
	udp  [udpRingSize]*buffer.ViewBuffer
}

var sharedBuffers sync.Map // map[*EventPoller]*SharedBuffer

// Shared returns e's lazily-created SharedBuffer, created once per poller
// and reused for the poller's lifetime. Keyed by e.p (the underlying
// ipoller.Poller) rather than e itself: wrap/Current allocate a fresh
// *EventPoller wrapper on every call, so keying by the wrapper pointer
// would mint a new SharedBuffer on every lookup instead of reusing one.
func (e *EventPoller) Shared() *SharedBuffer {
	v, _ := sharedBuffers.LoadOrStore(e.p, &SharedBuffer{})
	sb := v.(*SharedBuffer)
	sb.once.Do(func() { sb.tcp = buffer.NewHeap() })
	return sb
}

// TCP returns this poller's single growable receive buffer.
func (sb *SharedBuffer) TCP() *buffer.HeapBuffer { return sb.tcp }

// UDPSlot returns the i-th datagram view in this poller's recvmmsg ring
// (0 <= i < udpRingSize), wrapping data freshly read into that slot.
func (sb *SharedBuffer) UDPSlot(i int, data []byte) *buffer.ViewBuffer {
	sb.udp[i] = buffer.NewView(data)
	return sb.udp[i]
}

// UDPRingSize returns the number of datagrams a single batched receive
// can hold.
func UDPRingSize() int { return udpRingSize }

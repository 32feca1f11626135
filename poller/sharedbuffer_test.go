//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package poller_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscore/netcore/poller/pollerpool"
)

func TestSharedBufferReusedAcrossWrapperAllocations(t *testing.T) {
	pool, err := pollerpool.New(pollerpool.RoundRobin, 1)
	assert.Nil(t, err)
	defer pool.Close()

	ep := pool.GetPoller(false)
	first := ep.Shared()
	assert.NotNil(t, first.TCP())

	// GetPoller/FromInternal mint a fresh *EventPoller wrapper each call;
	// Shared must still resolve to the same underlying SharedBuffer.
	second := pool.GetPoller(false).Shared()
	assert.Same(t, first, second)
	assert.Same(t, first.TCP(), second.TCP())
}

func TestSharedBufferUDPSlot(t *testing.T) {
	pool, err := pollerpool.New(pollerpool.RoundRobin, 1)
	assert.Nil(t, err)
	defer pool.Close()

	sb := pool.GetPoller(false).Shared()
	view := sb.UDPSlot(0, []byte("datagram"))
	assert.Equal(t, len("datagram"), view.Len())
	got, err := view.Next(view.Len())
	assert.Nil(t, err)
	assert.Equal(t, "datagram", string(got))
}

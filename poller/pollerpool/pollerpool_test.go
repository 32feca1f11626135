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

package pollerpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscore/netcore/poller"
	"github.com/nexuscore/netcore/poller/pollerpool"
)

func TestNewUnknownBalance(t *testing.T) {
	p, err := pollerpool.New("UnknownLB", 1)
	assert.NotNil(t, err)
	assert.Nil(t, p)
}

func TestNewZeroLoops(t *testing.T) {
	p, err := pollerpool.New(pollerpool.RoundRobin, 0)
	assert.NotNil(t, err)
	assert.Nil(t, p)
}

func TestRoundRobinPool(t *testing.T) {
	pool, err := pollerpool.New(pollerpool.RoundRobin, 3)
	assert.Nil(t, err)
	defer pool.Close()

	assert.Equal(t, 3, pool.NumPollers())

	count := 0
	pool.ForEach(func(i int, ep *poller.EventPoller) bool {
		assert.NotNil(t, ep)
		count++
		return true
	})
	assert.Equal(t, 3, count)
}

func TestLeastLoadPool(t *testing.T) {
	pool, err := pollerpool.New(pollerpool.LeastLoad, 2)
	assert.Nil(t, err)
	defer pool.Close()

	ep := pool.GetPoller(false)
	assert.NotNil(t, ep)

	load := pool.AverageLoad()
	assert.True(t, load >= 0 && load <= 100)
}

func TestGetPollerPreferCurrentThread(t *testing.T) {
	pool, err := pollerpool.New(pollerpool.RoundRobin, 2)
	assert.Nil(t, err)
	defer pool.Close()

	ep := pool.GetPoller(true)
	assert.NotNil(t, ep)
}

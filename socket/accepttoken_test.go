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

package socket_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscore/netcore/socket"
)

func TestAcceptTokenFiresOnce(t *testing.T) {
	tok := socket.NewAcceptToken()
	assert.False(t, tok.Fired())

	ran := tok.Complete(func() {})
	assert.True(t, ran)
	assert.True(t, tok.Fired())

	ran = tok.Complete(func() { t.Fatal("must not run twice") })
	assert.False(t, ran)
}

func TestAcceptTokenConcurrentCompletion(t *testing.T) {
	tok := socket.NewAcceptToken()
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.Complete(func() {}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}

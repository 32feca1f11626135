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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscore/netcore/poller"
	"github.com/nexuscore/netcore/poller/pollerpool"
	"github.com/nexuscore/netcore/socket"
)

func testPoller(t *testing.T) *poller.EventPoller {
	pool, err := pollerpool.New(pollerpool.RoundRobin, 1)
	assert.Nil(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool.GetPoller(false)
}

func TestConnectTCPSuccess(t *testing.T) {
	ep := testPoller(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
		}
	}()

	done := make(chan struct{})
	var gotSock *socket.Socket
	var gotErr error
	socket.ConnectTCP("tcp", ln.Addr().String(), time.Second, ep, 0, func(sock *socket.Socket, err error) {
		gotSock, gotErr = sock, err
		close(done)
	})
	<-done
	assert.Nil(t, gotErr)
	assert.NotNil(t, gotSock)
	gotSock.Close()
}

func TestConnectTCPRefused(t *testing.T) {
	ep := testPoller(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	addr := ln.Addr().String()
	ln.Close()

	done := make(chan struct{})
	var gotErr error
	socket.ConnectTCP("tcp", addr, time.Second, ep, 0, func(sock *socket.Socket, err error) {
		gotErr = err
		close(done)
	})
	<-done
	assert.NotNil(t, gotErr)
}

func TestConnectTCPCancelDropsResult(t *testing.T) {
	ep := testPoller(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
		}
	}()

	handle := socket.ConnectTCP("tcp", ln.Addr().String(), time.Second, ep, 0, func(sock *socket.Socket, err error) {
		t.Fatal("callback must not run after cancel")
	})
	handle.Cancel()
	time.Sleep(50 * time.Millisecond)
}

func TestConnectUDP(t *testing.T) {
	ep := testPoller(t)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	assert.Nil(t, err)
	defer pc.Close()

	done := make(chan struct{})
	var gotSock *socket.Socket
	var gotErr error
	socket.ConnectUDP("udp", pc.LocalAddr().String(), time.Second, ep, 0, func(sock *socket.Socket, err error) {
		gotSock, gotErr = sock, err
		close(done)
	})
	<-done
	assert.Nil(t, gotErr)
	assert.NotNil(t, gotSock)
	gotSock.Close()
}

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

package server_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexuscore/netcore/server"
)

type echoSession struct {
	helper *server.SessionHelper
}

func newEchoSession(helper *server.SessionHelper) server.Session {
	return &echoSession{helper: helper}
}

func (s *echoSession) OnRecv(data []byte) error  { return s.helper.Send(data) }
func (s *echoSession) OnErr(err error)           {}
func (s *echoSession) OnManager()                {}
func (s *echoSession) Send(data []byte) error    { return s.helper.Send(data) }
func (s *echoSession) Shutdown(err error)        { s.helper.Socket().Close() }
func (s *echoSession) Identifier() string        { return s.helper.Identifier() }

func TestTCPServerFixedPortEcho(t *testing.T) {
	addr := "127.0.0.1:19871"
	srv, err := server.NewTCPServer(addr, newEchoSession, server.WithPollerClones(1))
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	defer cancel()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	assert.Nil(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	assert.Nil(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	assert.Nil(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestTCPServerMultipleClientsAreIndependent(t *testing.T) {
	addr := "127.0.0.1:19873"
	srv, err := server.NewTCPServer(addr, newEchoSession, server.WithPollerClones(1))
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	defer cancel()
	time.Sleep(20 * time.Millisecond)

	a, err := net.Dial("tcp", addr)
	assert.Nil(t, err)
	defer a.Close()
	b, err := net.Dial("tcp", addr)
	assert.Nil(t, err)
	defer b.Close()

	_, err = a.Write([]byte("from-a\n"))
	assert.Nil(t, err)
	_, err = b.Write([]byte("from-b\n"))
	assert.Nil(t, err)

	a.SetReadDeadline(time.Now().Add(time.Second))
	b.SetReadDeadline(time.Now().Add(time.Second))
	lineA, err := bufio.NewReader(a).ReadString('\n')
	assert.Nil(t, err)
	lineB, err := bufio.NewReader(b).ReadString('\n')
	assert.Nil(t, err)

	assert.Equal(t, "from-a\n", lineA)
	assert.Equal(t, "from-b\n", lineB)
}

func TestTCPServerCloseStopsServe(t *testing.T) {
	srv, err := server.NewTCPServer("127.0.0.1:19872", newEchoSession, server.WithPollerClones(1))
	assert.Nil(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	assert.Nil(t, srv.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

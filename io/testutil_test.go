///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package io

import (
	"context"
	"github.com/spf13/afero"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal"
	"gitlab.com/elixxir/ckptbench/internal/checkpoint"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"net"
	"testing"
	"time"
)

// mockInstance builds an instance of size ranks, the first local of which
// are hosted in process
func mockInstance(t *testing.T, size, local int) *internal.Instance {
	profile, err := checkpoint.Builtin().Get("tiny")
	if err != nil {
		t.Fatalf("tiny profile missing: %+v", err)
	}

	def := &internal.Definition{
		Address:      "bufnet",
		Size:         size,
		LocalRanks:   local,
		Profile:      profile,
		Writer:       checkpoint.NewFsWriterOn(afero.NewMemMapFs(), 512),
		EnterTimeout: 5 * time.Second,
		ExitTimeout:  5 * time.Second,
		MaxAwaitWait: 100 * time.Millisecond,
	}

	instance, err := internal.CreateInstance(def, NewImplementation)
	if err != nil {
		t.Fatalf("CreateInstance failed: %+v", err)
	}
	return instance
}

// startInstance serves the instance over an in memory connection and returns
// a connection to it
func startInstance(t *testing.T,
	instance *internal.Instance) *grpc.ClientConn {
	lis := bufconn.Listen(1 << 20)
	instance.Start(lis)

	conn, err := comms.Dial(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn,
			error) {
			return lis.Dial()
		}))
	if err != nil {
		t.Fatalf("Dial failed: %+v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		_ = instance.Shutdown(time.Second)
	})
	return conn
}

// waitReady waits for every rank to register
func waitReady(t *testing.T, instance *internal.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := instance.GetReadySignal().Receive(ctx, time.Second,
		"ready"); err != nil {
		t.Fatalf("Cluster never became ready: %+v", err)
	}
}

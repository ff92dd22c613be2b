///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package io impl.go points the benchmark services at the handlers of the
// server instance
package io

import (
	"context"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal"
)

// NewImplementation creates a new implementation of the server.
// When a function is added to comms, you'll need to point to it here.
func NewImplementation(instance *internal.Instance) *comms.Implementation {
	impl := comms.NewImplementation()

	impl.Functions.Handshake = func(_ context.Context,
		msg *comms.HandshakeRequest) (*comms.HandshakeResponse, error) {
		return ReceiveHandshake(msg, instance)
	}
	impl.Functions.Status = func(_ context.Context,
		msg *comms.StatusRequest) (*comms.StatusResponse, error) {
		return ReceiveStatus(msg, instance)
	}
	impl.Functions.Run = func(ctx context.Context,
		msg *comms.RunRequest) (*comms.RunResponse, error) {
		return ReceiveRun(ctx, msg, instance)
	}
	impl.Functions.Reset = func(_ context.Context,
		msg *comms.ResetRequest) (*comms.ResetResponse, error) {
		return ReceiveReset(msg, instance)
	}

	impl.Functions.RegisterRank = func(_ context.Context,
		msg *comms.RegisterRankRequest) (*comms.Ack, error) {
		return ack(ReceiveRegisterRank(msg, instance))
	}
	impl.Functions.AwaitStep = func(ctx context.Context,
		msg *comms.AwaitStepRequest) (*comms.AwaitStepResponse, error) {
		return ReceiveAwaitStep(ctx, msg, instance)
	}
	impl.Functions.Arrive = func(ctx context.Context,
		msg *comms.ArriveRequest) (*comms.Ack, error) {
		return ack(ReceiveArrive(ctx, msg, instance))
	}
	impl.Functions.ReportResult = func(_ context.Context,
		msg *comms.ReportRequest) (*comms.Ack, error) {
		return ack(ReceiveReportResult(msg, instance))
	}

	return impl
}

func ack(err error) (*comms.Ack, error) {
	if err != nil {
		return nil, err
	}
	return &comms.Ack{Header: comms.NewHeader()}, nil
}

// instanceContext derives a context which is also cancelled when the
// instance shuts down, so blocked calls do not hold up the server
func instanceContext(ctx context.Context,
	instance *internal.Instance) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-instance.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

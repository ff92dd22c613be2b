///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package comms

// services.go describes the control and rank gRPC services

import (
	"context"
	"google.golang.org/grpc"
)

// Service names
const (
	ControlService = "ckptbench.Control"
	RankService    = "ckptbench.Rank"
)

type versioned interface {
	GetVersion() uint32
}

// handler is the type every service is registered with
type handler interface {
	functions() *Functions
}

// unary builds the descriptor of a call. The request version is checked
// before the handler runs.
func unary[Req versioned, Resp any](service, method string, newReq func() Req,
	pick func(*Implementation) func(context.Context, Req) (Resp,
		error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context,
			dec func(interface{}) error,
			interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}

			impl := srv.(*Implementation)
			call := func(ctx context.Context,
				req interface{}) (interface{}, error) {
				msg := req.(Req)
				if err := CheckVersion(msg.GetVersion()); err != nil {
					return nil, ToStatus(err)
				}
				resp, err := pick(impl)(ctx, msg)
				if err != nil {
					return nil, ToStatus(err)
				}
				return resp, nil
			}

			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}, call)
		},
	}
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlService,
	HandlerType: (*handler)(nil),
	Methods: []grpc.MethodDesc{
		unary(ControlService, "Handshake",
			func() *HandshakeRequest { return &HandshakeRequest{} },
			func(impl *Implementation) func(context.Context,
				*HandshakeRequest) (*HandshakeResponse, error) {
				return impl.Functions.Handshake
			}),
		unary(ControlService, "Status",
			func() *StatusRequest { return &StatusRequest{} },
			func(impl *Implementation) func(context.Context,
				*StatusRequest) (*StatusResponse, error) {
				return impl.Functions.Status
			}),
		unary(ControlService, "Run",
			func() *RunRequest { return &RunRequest{} },
			func(impl *Implementation) func(context.Context,
				*RunRequest) (*RunResponse, error) {
				return impl.Functions.Run
			}),
		unary(ControlService, "Reset",
			func() *ResetRequest { return &ResetRequest{} },
			func(impl *Implementation) func(context.Context,
				*ResetRequest) (*ResetResponse, error) {
				return impl.Functions.Reset
			}),
	},
	Metadata: "ckptbench/control",
}

var rankServiceDesc = grpc.ServiceDesc{
	ServiceName: RankService,
	HandlerType: (*handler)(nil),
	Methods: []grpc.MethodDesc{
		unary(RankService, "RegisterRank",
			func() *RegisterRankRequest { return &RegisterRankRequest{} },
			func(impl *Implementation) func(context.Context,
				*RegisterRankRequest) (*Ack, error) {
				return impl.Functions.RegisterRank
			}),
		unary(RankService, "AwaitStep",
			func() *AwaitStepRequest { return &AwaitStepRequest{} },
			func(impl *Implementation) func(context.Context,
				*AwaitStepRequest) (*AwaitStepResponse, error) {
				return impl.Functions.AwaitStep
			}),
		unary(RankService, "Arrive",
			func() *ArriveRequest { return &ArriveRequest{} },
			func(impl *Implementation) func(context.Context,
				*ArriveRequest) (*Ack, error) {
				return impl.Functions.Arrive
			}),
		unary(RankService, "ReportResult",
			func() *ReportRequest { return &ReportRequest{} },
			func(impl *Implementation) func(context.Context,
				*ReportRequest) (*Ack, error) {
				return impl.Functions.ReportResult
			}),
	},
	Metadata: "ckptbench/rank",
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package comms

// implementation.go holds the handler table served by the control and rank
// services

import (
	"context"
	jww "github.com/spf13/jwalterweatherman"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Functions are the handlers of every benchmark call. Errors returned by
// handlers are converted with ToStatus.
type Functions struct {
	// Control service
	Handshake func(ctx context.Context,
		msg *HandshakeRequest) (*HandshakeResponse, error)
	Status func(ctx context.Context,
		msg *StatusRequest) (*StatusResponse, error)
	Run func(ctx context.Context,
		msg *RunRequest) (*RunResponse, error)
	Reset func(ctx context.Context,
		msg *ResetRequest) (*ResetResponse, error)

	// Rank service
	RegisterRank func(ctx context.Context,
		msg *RegisterRankRequest) (*Ack, error)
	AwaitStep func(ctx context.Context,
		msg *AwaitStepRequest) (*AwaitStepResponse, error)
	Arrive func(ctx context.Context,
		msg *ArriveRequest) (*Ack, error)
	ReportResult func(ctx context.Context,
		msg *ReportRequest) (*Ack, error)
}

// Implementation is served by a Server.
// When a call is added to the services, add a handler for it here.
type Implementation struct {
	Functions Functions
}

func (impl *Implementation) functions() *Functions {
	return &impl.Functions
}

// NewImplementation returns an implementation where every handler refuses
// the call.
func NewImplementation() *Implementation {
	um := "UNIMPLEMENTED FUNCTION!"
	warn := func(msg string) error {
		jww.WARN.Println(msg)
		return status.Error(codes.Unimplemented, msg)
	}
	return &Implementation{
		Functions: Functions{
			Handshake: func(context.Context,
				*HandshakeRequest) (*HandshakeResponse, error) {
				return nil, warn(um)
			},
			Status: func(context.Context,
				*StatusRequest) (*StatusResponse, error) {
				return nil, warn(um)
			},
			Run: func(context.Context, *RunRequest) (*RunResponse, error) {
				return nil, warn(um)
			},
			Reset: func(context.Context,
				*ResetRequest) (*ResetResponse, error) {
				return nil, warn(um)
			},
			RegisterRank: func(context.Context,
				*RegisterRankRequest) (*Ack, error) {
				return nil, warn(um)
			},
			AwaitStep: func(context.Context,
				*AwaitStepRequest) (*AwaitStepResponse, error) {
				return nil, warn(um)
			},
			Arrive: func(context.Context, *ArriveRequest) (*Ack, error) {
				return nil, warn(um)
			},
			ReportResult: func(context.Context,
				*ReportRequest) (*Ack, error) {
				return nil, warn(um)
			},
		},
	}
}

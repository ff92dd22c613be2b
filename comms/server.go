///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package comms

// server.go serves an Implementation over gRPC together with the standard
// health service

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"net"
	"time"
)

// Server serves the control and rank services.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer registers both services and the health service on a new gRPC
// server. The control service reports NOT_SERVING until SetServing is
// called.
func NewServer(impl *Implementation, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}, opts...)

	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}

	s.grpc.RegisterService(&controlServiceDesc, impl)
	s.grpc.RegisterService(&rankServiceDesc, impl)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus(ControlService,
		healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(RankService,
		healthpb.HealthCheckResponse_SERVING)

	return s
}

// SetServing sets the health of the control service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ControlService, st)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	jww.INFO.Printf("Serving %s and %s on %s", ControlService, RankService,
		lis.Addr())
	if err := s.grpc.Serve(lis); err != nil &&
		!errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "gRPC server failed")
	}
	return nil
}

// Listen opens a TCP listener on address.
func Listen(address string) (net.Listener, error) {
	lis, err := net.Listen("tcp", address)
	return lis, errors.Wrapf(err, "could not listen on %s", address)
}

// Stop shuts the server down. In flight calls get grace to finish before
// they are cancelled.
func (s *Server) Stop(grace time.Duration) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		jww.WARN.Printf("Calls still in flight after %s, stopping", grace)
		s.grpc.Stop()
	}
}

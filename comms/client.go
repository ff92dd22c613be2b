///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package comms

// client.go contains the clients of the control and rank services

import (
	"context"
	"github.com/pkg/errors"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"time"
)

// Dial connects to a benchmark server. It does not wait for the connection
// to be established.
func Dial(ctx context.Context, address string,
	opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}, opts...)

	conn, err := grpc.DialContext(ctx, address, opts...)
	return conn, errors.Wrapf(err, "could not dial %s", address)
}

// invoke calls a benchmark method and converts the returned status
func invoke(ctx context.Context, conn *grpc.ClientConn, service,
	method string, req, resp interface{}) error {
	err := conn.Invoke(ctx, "/"+service+"/"+method, req, resp,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return errors.WithMessagef(FromStatus(err), "%s failed", method)
	}
	if v, ok := resp.(versioned); ok {
		return errors.WithMessagef(CheckVersion(v.GetVersion()),
			"%s response", method)
	}
	return nil
}

// ControlClient calls the control service.
type ControlClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewControlClient creates a control client on conn.
func NewControlClient(conn *grpc.ClientConn) *ControlClient {
	return &ControlClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}
}

// Handshake checks the protocol version and describes the cluster.
func (cc *ControlClient) Handshake(ctx context.Context,
	clientID string) (*HandshakeResponse, error) {
	resp := &HandshakeResponse{}
	err := invoke(ctx, cc.conn, ControlService, "Handshake",
		&HandshakeRequest{Header: NewHeader(), ClientID: clientID}, resp)
	return resp, err
}

// Status returns a snapshot of the cluster.
func (cc *ControlClient) Status(ctx context.Context) (*StatusResponse,
	error) {
	resp := &StatusResponse{}
	err := invoke(ctx, cc.conn, ControlService, "Status",
		&StatusRequest{Header: NewHeader()}, resp)
	return resp, err
}

// Run runs numSteps steps and blocks until they are done.
func (cc *ControlClient) Run(ctx context.Context, requestID uint64,
	numSteps int) (*RunResponse, error) {
	resp := &RunResponse{}
	err := invoke(ctx, cc.conn, ControlService, "Run",
		&RunRequest{Header: NewHeader(), RequestID: requestID,
			NumSteps: numSteps}, resp)
	return resp, err
}

// Reset revives a failed cluster.
func (cc *ControlClient) Reset(ctx context.Context) (*ResetResponse, error) {
	resp := &ResetResponse{}
	err := invoke(ctx, cc.conn, ControlService, "Reset",
		&ResetRequest{Header: NewHeader()}, resp)
	return resp, err
}

// Serving reports whether the health service marks the control service as
// serving, which it does while the cluster is ready.
func (cc *ControlClient) Serving(ctx context.Context) (bool, error) {
	resp, err := cc.health.Check(ctx,
		&healthpb.HealthCheckRequest{Service: ControlService})
	if err != nil {
		return false, errors.Wrap(err, "health check failed")
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// RankClient calls the rank service on behalf of ranks hosted in another
// process. Its method set matches the in process controller.
type RankClient struct {
	conn *grpc.ClientConn
	// bounds calls that do not wait on the cluster
	timeout time.Duration
	// server side bound of a single AwaitStep call
	pollWait time.Duration
}

// NewRankClient creates a rank client on conn.
func NewRankClient(conn *grpc.ClientConn, timeout,
	pollWait time.Duration) *RankClient {
	return &RankClient{
		conn:     conn,
		timeout:  timeout,
		pollWait: pollWait,
	}
}

func (rc *RankClient) RegisterRank(rank int) error {
	ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
	defer cancel()
	return invoke(ctx, rc.conn, RankService, "RegisterRank",
		&RegisterRankRequest{Header: NewHeader(), Rank: rank}, &Ack{})
}

// AwaitStep long polls for the step after after. It returns 0 when no step
// opened within the poll wait.
func (rc *RankClient) AwaitStep(ctx context.Context, rank int,
	after uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.pollWait+rc.timeout)
	defer cancel()

	resp := &AwaitStepResponse{}
	err := invoke(ctx, rc.conn, RankService, "AwaitStep",
		&AwaitStepRequest{Header: NewHeader(), Rank: rank, After: after,
			Wait: rc.pollWait}, resp)
	return resp.Step, err
}

// Arrive blocks on a barrier phase. The server bounds the wait.
func (rc *RankClient) Arrive(ctx context.Context, rank int, step uint64,
	phase barrier.Phase) error {
	return invoke(ctx, rc.conn, RankService, "Arrive",
		&ArriveRequest{Header: NewHeader(), Rank: rank, Step: step,
			Phase: phase}, &Ack{})
}

func (rc *RankClient) ReportResult(rank int, step uint64, d time.Duration,
	writeErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
	defer cancel()

	req := &ReportRequest{Header: NewHeader(), Rank: rank, Step: step,
		Duration: d}
	if writeErr != nil {
		req.Error = writeErr.Error()
	}
	return invoke(ctx, rc.conn, RankService, "ReportResult", req, &Ack{})
}

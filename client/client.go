///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package client drives a benchmark server: it waits for the cluster to be
// ready, runs passes of checkpoint steps and records every step report.
package client

import (
	"context"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"google.golang.org/grpc"
	"time"
)

// Params configures a Client.
type Params struct {
	ClientID string
	// Steps per pass
	NumSteps int
	// Passes overwrite the checkpoints of the previous pass
	NumPasses int
	// Sleep after every step. When set steps are requested one at a time.
	InterCheckpointSleep time.Duration
	// Bound of a single run call, 0 waits forever
	Timeout time.Duration
	// How long Setup waits for the cluster to become ready
	WaitReady time.Duration
}

// Result is one step report together with where it fell in the benchmark
type Result struct {
	Pass      int
	Step      int
	NumSteps  int
	NumPasses int
	Report    cluster.StepReport
}

// Client runs the benchmark against one server
type Client struct {
	params  Params
	control *comms.ControlClient

	requestID uint64
	cluster   *comms.HandshakeResponse
	results   []Result
}

// New creates a client on conn
func New(params Params, conn *grpc.ClientConn) (*Client, error) {
	if params.NumSteps < 1 || params.NumPasses < 1 {
		return nil, errors.Wrapf(cluster.ErrInvalidRequest,
			"need at least one step and one pass, have %d and %d",
			params.NumSteps, params.NumPasses)
	}
	return &Client{
		params:  params,
		control: comms.NewControlClient(conn),
	}, nil
}

// Setup waits until the cluster is ready and handshakes with the server.
func (c *Client) Setup(ctx context.Context) (*comms.HandshakeResponse,
	error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = c.params.WaitReady

	var b backoff.BackOff = policy
	if c.params.WaitReady <= 0 {
		b = &backoff.StopBackOff{}
	}

	op := func() error {
		serving, err := c.control.Serving(ctx)
		if err != nil {
			return err
		}
		if !serving {
			return errors.New("cluster is not serving")
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		jww.INFO.Printf("Waiting for the cluster, checking again in %s: %v",
			next, err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx),
		notify); err != nil {
		return nil, errors.Wrapf(cluster.ErrNotReady,
			"cluster not ready after %s: %v", c.params.WaitReady, err)
	}

	resp, err := c.control.Handshake(ctx, c.params.ClientID)
	if err != nil {
		return nil, err
	}
	jww.INFO.Printf("Connected to a cluster of %d ranks writing profile "+
		"%s, state %s", resp.ClusterSize, resp.Profile, resp.State)
	c.cluster = resp
	return resp, nil
}

// RunPasses runs every pass of the benchmark. It stops at the first failed
// step, the reports received up to then are kept.
func (c *Client) RunPasses(ctx context.Context) error {
	for pass := 1; pass <= c.params.NumPasses; pass++ {
		jww.INFO.Printf("Starting pass %d/%d", pass, c.params.NumPasses)
		if err := c.runPass(ctx, pass); err != nil {
			return errors.WithMessagef(err, "pass %d failed", pass)
		}
	}
	return nil
}

func (c *Client) runPass(ctx context.Context, pass int) error {
	if c.params.InterCheckpointSleep <= 0 {
		return c.run(ctx, pass, 1, c.params.NumSteps)
	}

	for step := 1; step <= c.params.NumSteps; step++ {
		jww.INFO.Printf("Starting checkpoint for step %d/%d", step,
			c.params.NumSteps)
		if err := c.run(ctx, pass, step, 1); err != nil {
			return err
		}

		select {
		case <-time.After(c.params.InterCheckpointSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// run requests steps and records their reports, the first being step
// firstStep of the pass
func (c *Client) run(ctx context.Context, pass, firstStep, steps int) error {
	if c.params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.params.Timeout)
		defer cancel()
	}

	c.requestID++
	resp, err := c.control.Run(ctx, c.requestID, steps)
	if err != nil {
		return err
	}

	for i, r := range resp.Reports {
		res := Result{
			Pass:      pass,
			Step:      firstStep + i,
			NumSteps:  c.params.NumSteps,
			NumPasses: c.params.NumPasses,
			Report:    r,
		}
		c.results = append(c.results, res)
		jww.INFO.Printf("Step %d of pass %d (cluster step %d) %s, "+
			"checkpoint time %s", res.Step, pass, r.StepID, r.Outcome(),
			r.CheckpointTime)
	}

	if resp.Outcome != comms.OutcomeOK {
		jww.ERROR.Printf("Run %d failed: %s", c.requestID, resp.Error)
	}

	switch resp.Outcome {
	case comms.OutcomeOK:
		return nil
	case comms.OutcomeStepFailed:
		return errors.Wrapf(cluster.ErrStepFailed, "run %d", c.requestID)
	case comms.OutcomeBarrierTimeout:
		return errors.Wrapf(cluster.ErrBarrierTimeout, "run %d",
			c.requestID)
	default:
		return errors.Wrapf(cluster.ErrInternalFailure,
			"unknown run outcome %q", resp.Outcome)
	}
}

// Results returns the results of every step run so far
func (c *Client) Results() []Result {
	return c.results
}

// Cluster returns the handshake of the server, nil before Setup
func (c *Client) Cluster() *comms.HandshakeResponse {
	return c.cluster
}

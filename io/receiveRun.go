///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package io

import (
	"context"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"google.golang.org/grpc/status"
)

// ReceiveRun runs the requested steps and returns their reports. The run is
// detached from the call: a client giving up does not stop the steps, which
// keep the cluster busy until they finish.
func ReceiveRun(ctx context.Context, msg *comms.RunRequest,
	instance *internal.Instance) (*comms.RunResponse, error) {
	req := cluster.StepRequest{RequestID: msg.RequestID, Steps: msg.NumSteps}
	jww.INFO.Printf("Run %d of %d steps requested", req.RequestID, req.Steps)

	select {
	case result := <-instance.RunSteps(req):
		return runResponse(result)
	case <-ctx.Done():
		jww.WARN.Printf("Client of run %d stopped waiting, the run "+
			"continues in the background", req.RequestID)
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// runResponse keeps the reports of runs that failed part way
func runResponse(result internal.RunResult) (*comms.RunResponse, error) {
	resp := &comms.RunResponse{
		Header:  comms.NewHeader(),
		Outcome: comms.OutcomeOK,
		Reports: result.Reports,
	}

	switch err := result.Err; {
	case err == nil:
		return resp, nil
	case errors.Is(err, cluster.ErrBarrierTimeout):
		resp.Outcome = comms.OutcomeBarrierTimeout
	case errors.Is(err, cluster.ErrStepFailed):
		resp.Outcome = comms.OutcomeStepFailed
	case errors.Is(err, context.Canceled):
		return nil, shuttingDown()
	default:
		return nil, err
	}

	resp.Error = result.Err.Error()
	return resp, nil
}

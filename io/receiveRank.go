///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package io

// receiveRank.go contains the handlers of the rank service, used by ranks
// hosted outside of the server process

import (
	"context"
	"github.com/cznic/mathutil"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"time"
)

// ReceiveRegisterRank adds a remote rank to the cluster. Ranks hosted by the
// server cannot be claimed by another process.
func ReceiveRegisterRank(msg *comms.RegisterRankRequest,
	instance *internal.Instance) error {
	if instance.IsLocalRank(msg.Rank) {
		return errors.Wrapf(cluster.ErrDuplicateRank, errLocalRank, msg.Rank)
	}

	if err := instance.GetController().RegisterRank(msg.Rank); err != nil {
		return err
	}
	jww.INFO.Printf("Remote rank %d registered", msg.Rank)
	return nil
}

// ReceiveAwaitStep long polls for the step after msg.After. The wait is
// bounded by the server, a zero step tells the rank to ask again.
func ReceiveAwaitStep(ctx context.Context, msg *comms.AwaitStepRequest,
	instance *internal.Instance) (*comms.AwaitStepResponse, error) {
	wait := msg.Wait
	if bound := instance.GetMaxAwaitWait(); bound > 0 {
		if wait <= 0 {
			wait = bound
		}
		wait = time.Duration(mathutil.MinInt64(int64(wait), int64(bound)))
	}
	if wait <= 0 {
		return nil, errors.Wrapf(cluster.ErrInvalidRequest,
			"cannot wait %s for a step", msg.Wait)
	}

	ctx, cancel := instanceContext(ctx, instance)
	defer cancel()
	waitCtx, waitCancel := context.WithTimeout(ctx, wait)
	defer waitCancel()

	step, err := instance.GetController().AwaitStep(waitCtx, msg.Rank,
		msg.After)
	switch {
	case err == nil:
	case errors.Is(err, cluster.ErrUnknownRank):
		return nil, err
	case ctx.Err() != nil:
		return nil, shuttingDown()
	case errors.Is(err, context.DeadlineExceeded):
		step = 0
	default:
		return nil, err
	}

	return &comms.AwaitStepResponse{Header: comms.NewHeader(), Step: step},
		nil
}

// ReceiveArrive blocks the remote rank on a barrier phase
func ReceiveArrive(ctx context.Context, msg *comms.ArriveRequest,
	instance *internal.Instance) error {
	ctx, cancel := instanceContext(ctx, instance)
	defer cancel()

	err := instance.GetController().Arrive(ctx, msg.Rank, msg.Step,
		msg.Phase)
	if err != nil && errors.Is(err, context.Canceled) {
		return shuttingDown()
	}
	return err
}

// ReceiveReportResult records the write of a remote rank
func ReceiveReportResult(msg *comms.ReportRequest,
	instance *internal.Instance) error {
	var writeErr error
	if msg.Error != "" {
		writeErr = errors.New(msg.Error)
	}
	return instance.GetController().ReportResult(msg.Rank, msg.Step,
		msg.Duration, writeErr)
}

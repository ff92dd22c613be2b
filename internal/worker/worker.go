///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package worker contains the rank side of a checkpoint step: wait for the
// step, pass the enter barrier, write the shard, report the duration and
// pass the exit barrier.
package worker

import (
	"context"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/checkpoint"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"time"
)

// Coordinator is the view a rank has of the controller. It is implemented
// in process by the controller and remotely by the rank RPC client.
type Coordinator interface {
	RegisterRank(rank int) error
	// AwaitStep returns the id of the next step after after. A zero id
	// without an error means no step was opened yet and the call should be
	// repeated.
	AwaitStep(ctx context.Context, rank int, after uint64) (uint64, error)
	Arrive(ctx context.Context, rank int, step uint64,
		phase barrier.Phase) error
	ReportResult(rank int, step uint64, d time.Duration, writeErr error) error
}

// Params configures a Worker.
type Params struct {
	Rank int
	Size int
	// WriteRetries is the number of times a failed write is retried
	WriteRetries uint64
	// RetryInterval is the first wait between write attempts
	RetryInterval time.Duration
}

// Worker is one rank of the benchmark.
type Worker struct {
	params Params
	coord  Coordinator
	writer checkpoint.Writer
	plan   checkpoint.Plan
}

// New creates the worker of a rank and computes its shard of the profile.
func New(params Params, profile checkpoint.Profile, coord Coordinator,
	writer checkpoint.Writer) (*Worker, error) {
	plan, err := profile.Plan(params.Rank, params.Size)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not plan rank %d",
			params.Rank)
	}

	if params.RetryInterval <= 0 {
		params.RetryInterval = 100 * time.Millisecond
	}

	jww.INFO.Printf("Rank %d writes %d model bytes and %d optimizer bytes "+
		"per step (stage %d, slice %d)", params.Rank, plan.ModelBytes,
		plan.OptimizerBytes, plan.Stage, plan.TensorSlice)

	return &Worker{
		params: params,
		coord:  coord,
		writer: writer,
		plan:   plan,
	}, nil
}

// Rank returns the rank of the worker.
func (w *Worker) Rank() int {
	return w.params.Rank
}

// Plan returns the shard the worker writes every step.
func (w *Worker) Plan() checkpoint.Plan {
	return w.plan
}

// Run registers the rank and takes part in every step until ctx is done.
// Step failures are logged and never stop the worker. Run returns an error
// wrapping ErrUnknownRank when the coordinator no longer knows the rank.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.coord.RegisterRank(w.params.Rank); err != nil {
		return errors.WithMessagef(err, "rank %d could not register",
			w.params.Rank)
	}

	var last uint64
	for {
		step, err := w.coord.AwaitStep(ctx, w.params.Rank, last)
		if ctx.Err() != nil {
			jww.INFO.Printf("Rank %d stopping after step %d", w.params.Rank,
				last)
			return nil
		}
		if errors.Is(err, cluster.ErrUnknownRank) {
			// the coordinator forgot the rank, registering again is up to
			// the caller
			return errors.WithMessagef(err, "rank %d is no longer "+
				"registered", w.params.Rank)
		}
		if err != nil {
			jww.WARN.Printf("Rank %d could not wait for the step after %d: "+
				"%v", w.params.Rank, last, err)
			if !sleep(ctx, w.params.RetryInterval) {
				return nil
			}
			continue
		}
		if step == 0 {
			continue
		}

		last = step
		if err = w.Step(ctx, step); err != nil {
			jww.WARN.Printf("Rank %d: %v", w.params.Rank, err)
		}
	}
}

// Step takes the rank through one checkpoint step. A failed write is
// reported to the coordinator and does not fail the step for this rank.
func (w *Worker) Step(ctx context.Context, step uint64) error {
	rank := w.params.Rank

	if err := w.coord.Arrive(ctx, rank, step,
		barrier.EnterWrite); err != nil {
		return errors.WithMessagef(err, "step %d never started", step)
	}

	d, writeErr := w.write(ctx, step)
	if writeErr != nil {
		jww.ERROR.Printf("Rank %d failed to write step %d: %v", rank, step,
			writeErr)
	} else {
		jww.DEBUG.Printf("Rank %d wrote %d bytes for step %d in %s", rank,
			w.plan.Bytes(), step, d)
	}

	if err := w.coord.ReportResult(rank, step, d, writeErr); err != nil {
		jww.WARN.Printf("Rank %d could not report step %d: %v", rank,
			step, err)
	}

	if err := w.coord.Arrive(ctx, rank, step,
		barrier.ExitWrite); err != nil {
		return errors.WithMessagef(err, "step %d did not complete", step)
	}

	return nil
}

// write puts the shard on storage, retrying failed writes. The duration
// covers every attempt.
func (w *Worker) write(ctx context.Context, step uint64) (time.Duration,
	error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.params.RetryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := w.writer.WriteShard(ctx, step, w.plan)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		jww.WARN.Printf("Rank %d write attempt %d of step %d failed, "+
			"retrying in %s: %v", w.params.Rank, attempt, step, next, err)
	}

	start := time.Now()
	err := backoff.RetryNotify(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, w.params.WriteRetries), ctx), notify)
	d := time.Since(start)

	if err != nil && !errors.Is(err, cluster.ErrWriteFailure) {
		err = errors.Wrapf(cluster.ErrWriteFailure, "%v", err)
	}
	return d, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

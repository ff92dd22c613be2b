///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package controller

// ranks.go contains the calls made by the ranks during a step

import (
	"context"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"time"
)

// AwaitStep blocks until a step newer than after is open and returns its
// id.
func (c *Controller) AwaitStep(ctx context.Context, rank int,
	after uint64) (uint64, error) {
	for {
		c.mux.Lock()
		if _, ok := c.ranks[rank]; !ok {
			c.mux.Unlock()
			return 0, errors.Wrapf(cluster.ErrUnknownRank, "rank %d", rank)
		}
		if rec := c.active; rec != nil && !rec.closed && rec.id > after {
			c.mux.Unlock()
			return rec.id, nil
		}
		opened := c.stepOpened
		c.mux.Unlock()

		select {
		case <-opened:
		case <-ctx.Done():
			return 0, errors.WithMessagef(ctx.Err(), "rank %d stopped "+
				"waiting for a step after %d", rank, after)
		}
	}
}

// Arrive takes the rank through a barrier phase of a step and updates its
// status.
func (c *Controller) Arrive(ctx context.Context, rank int, step uint64,
	phase barrier.Phase) error {
	err := c.barrier.Arrive(ctx, rank, step, phase)

	c.mux.Lock()
	defer c.mux.Unlock()

	rs, ok := c.ranks[rank]
	if !ok {
		return err
	}

	switch {
	case err == nil && phase == barrier.EnterWrite:
		rs.State = cluster.WRITING
		rs.Step = step
	case errors.Is(err, cluster.ErrBarrierTimeout) && c.timeoutCountsLocked(step):
		rs.State = cluster.ERRORED
		rs.Step = step
		rs.LastError = err.Error()
	}

	return err
}

// timeoutCountsLocked reports whether a barrier timeout of step still
// describes the rank. Timeouts of older steps, or of a step the cluster was
// reset after, are ignored. The lock must be held.
func (c *Controller) timeoutCountsLocked(step uint64) bool {
	if step != c.lastStep {
		return false
	}
	current := c.machine.Get()
	return current != cluster.READY && current != cluster.IDLE
}

// ReportResult records the write of a rank for a step. A nil writeErr means
// the write succeeded in d. Reports for the most recent step after it failed
// only update the rank status.
func (c *Controller) ReportResult(rank int, step uint64, d time.Duration,
	writeErr error) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	rs, ok := c.ranks[rank]
	if !ok {
		return errors.Wrapf(cluster.ErrUnknownRank, "rank %d", rank)
	}

	rec := c.active
	if rec == nil || rec.id != step {
		return errors.Wrapf(cluster.ErrStaleReport, "rank %d reported step "+
			"%d, the active step is %d", rank, step, c.lastStep)
	}

	if _, dup := rec.reported[rank]; dup {
		return errors.Wrapf(cluster.ErrStaleReport, "rank %d already "+
			"reported step %d", rank, step)
	}

	if rec.closed {
		if step != c.lastFailed {
			return errors.Wrapf(cluster.ErrStaleReport, "step %d is "+
				"already complete", step)
		}
		rec.reported[rank] = struct{}{}
		rs.LastDuration = d
		rs.LastError = ""
		if writeErr != nil {
			rs.LastError = writeErr.Error()
		}
		jww.INFO.Printf("Late report from rank %d for failed step %d: %s",
			rank, step, d)
		return nil
	}

	rec.reported[rank] = struct{}{}
	rs.Step = step
	rs.LastDuration = d
	if writeErr != nil {
		rec.errors[rank] = writeErr.Error()
		rs.State = cluster.ERRORED
		rs.LastError = writeErr.Error()
		jww.WARN.Printf("Rank %d failed step %d: %v", rank, step, writeErr)
	} else {
		rec.durations[rank] = d
		rs.State = cluster.DONE
		rs.LastError = ""
		jww.DEBUG.Printf("Rank %d wrote step %d in %s", rank, step, d)
	}

	return nil
}

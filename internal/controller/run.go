///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package controller

// run.go contains the step loop and the aggregation of rank results into
// step reports

import (
	"context"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"golang.org/x/exp/slices"
	"time"
)

// missingReport is recorded for a rank that never reported its write
const missingReport = "no result reported"

// stepRecord collects the results of one step until its report is built
type stepRecord struct {
	id        uint64
	requestID uint64
	durations map[int]time.Duration
	errors    map[int]string
	reported  map[int]struct{}
	metrics   *measure.Metrics
	// set once the report is built; later reports are telemetry only
	closed bool
}

func newStepRecord(id, requestID uint64, size int) *stepRecord {
	return &stepRecord{
		id:        id,
		requestID: requestID,
		durations: make(map[int]time.Duration, size),
		errors:    make(map[int]string),
		reported:  make(map[int]struct{}, size),
		metrics:   &measure.Metrics{},
	}
}

// RunSteps runs req.Steps consecutive checkpoint steps. It stops at the
// first failed step and returns the reports collected so far, the failed
// step included. The cluster is FAILED afterwards and the error wraps
// ErrStepFailed or ErrBarrierTimeout.
func (c *Controller) RunSteps(ctx context.Context,
	req cluster.StepRequest) ([]cluster.StepReport, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, errors.Wrapf(cluster.ErrBusy,
			"cannot run request %d", req.RequestID)
	}
	defer c.busy.Store(false)

	if req.Steps < 1 {
		return nil, errors.Wrapf(cluster.ErrInvalidRequest,
			"request %d asked for %d steps", req.RequestID, req.Steps)
	}

	if current := c.machine.Get(); current != cluster.READY {
		return nil, errors.Wrapf(cluster.ErrNotReady,
			"cannot run request %d, cluster is %s", req.RequestID, current)
	}

	jww.INFO.Printf("Running %d steps for request %d", req.Steps,
		req.RequestID)

	reports := make([]cluster.StepReport, 0, req.Steps)
	for i := 0; i < req.Steps; i++ {
		report, err := c.runStep(ctx, req.RequestID)
		reports = append(reports, report)
		if err != nil {
			jww.ERROR.Printf("Request %d stopped after %d/%d steps: %v",
				req.RequestID, i+1, req.Steps, err)
			return reports, err
		}
	}

	return reports, nil
}

// runStep opens the next step, waits for both barrier phases and builds the
// report
func (c *Controller) runStep(ctx context.Context,
	requestID uint64) (cluster.StepReport, error) {
	before := c.sample()

	rec, err := c.openStep(requestID)
	if err != nil {
		return c.closeStep(rec, before, err)
	}

	deadline := c.params.EnterTimeout + c.params.ExitTimeout
	stepCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// the barrier timer only starts at the first arrival, bound the wait
	// for ranks that never show up from the opening of the step
	phase, bound := barrier.EnterWrite, c.params.EnterTimeout
	enterCtx, enterCancel := context.WithTimeout(stepCtx, bound)
	err = c.barrier.Wait(enterCtx, rec.id, phase)
	enterCancel()

	if err == nil {
		rec.metrics.Measure(measure.TagEnterRelease)
		phase, bound = barrier.ExitWrite, deadline
		err = c.barrier.Wait(stepCtx, rec.id, phase)
	}
	if err == nil {
		rec.metrics.Measure(measure.TagExitRelease)
	}

	if isContextErr(err) {
		// the barrier itself has not failed, fail it for the ranks
		if ctx.Err() != nil {
			err = errors.WithMessagef(ctx.Err(), "step %d was cancelled",
				rec.id)
		} else {
			err = errors.Wrapf(cluster.ErrBarrierTimeout,
				"%s of step %d not released within %s", phase, rec.id,
				bound)
		}
		c.barrier.Abort(rec.id, err)
	}

	return c.closeStep(rec, before, err)
}

// openStep assigns the next step id, opens the barrier and publishes the
// step to the ranks waiting in AwaitStep
func (c *Controller) openStep(requestID uint64) (*stepRecord, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	step := c.lastStep + 1
	rec := newStepRecord(step, requestID, c.params.Size)
	rec.metrics.Measure(measure.TagStepOpened)

	if err := c.barrier.Open(step); err != nil {
		return rec, errors.Wrapf(cluster.ErrInternalFailure,
			"could not open step %d: %v", step, err)
	}
	c.lastStep = step
	c.active = rec

	if _, err := c.machine.Update(cluster.RUNNING); err != nil {
		return rec, errors.Wrapf(cluster.ErrInternalFailure,
			"could not start step %d: %v", step, err)
	}
	rec.metrics.Measure(measure.TagStepRunning)

	close(c.stepOpened)
	c.stepOpened = make(chan struct{})

	jww.INFO.Printf("Step %d of request %d opened", step, requestID)
	return rec, nil
}

// closeStep builds the report of the step and moves the cluster on to
// READY, or to FAILED if stepErr is set or a rank failed
func (c *Controller) closeStep(rec *stepRecord, before measure.ResourceMetric,
	stepErr error) (cluster.StepReport, error) {
	after := c.sample()

	c.mux.Lock()
	defer c.mux.Unlock()

	rec.closed = true
	report := c.buildReportLocked(rec, stepErr)
	if c.params.Sampler != nil {
		report.Resources = measure.Delta(before, after)
	}

	var err error
	switch {
	case stepErr != nil:
		err = stepErr
	case len(report.FailedRanks) > 0:
		err = errors.Wrapf(cluster.ErrStepFailed, "step %d failed on "+
			"ranks %v", rec.id, report.FailedRanks)
	}

	if err != nil {
		rec.metrics.Measure(measure.TagStepFailed)
		c.lastFailed = rec.id
		if _, updateErr := c.machine.Update(cluster.FAILED); updateErr != nil {
			jww.ERROR.Printf("Could not fail the cluster: %v", updateErr)
		}
	} else {
		err = c.completeStepLocked(rec.id)
	}

	rec.metrics.Measure(measure.TagReportBuilt)
	report.Finished = time.Now()
	report.Events = rec.metrics.GetEvents()
	c.history = append(c.history, report.Clone())

	jww.INFO.Printf("Step %d %s: max %s, min %s, mean %s, checkpoint %s",
		report.StepID, report.Outcome(), report.Max, report.Min,
		report.Mean, report.CheckpointTime)

	return report, err
}

// completeStepLocked moves the cluster through STEP_COMPLETE back to READY.
// Ranks keep their DONE state until the cluster leaves STEP_COMPLETE. The
// lock must be held.
func (c *Controller) completeStepLocked(step uint64) error {
	if _, err := c.machine.Update(cluster.STEP_COMPLETE); err != nil {
		return errors.Wrapf(cluster.ErrInternalFailure,
			"could not complete step %d: %v", step, err)
	}

	for _, rs := range c.ranks {
		rs.State = cluster.RANK_READY
	}

	if _, err := c.machine.Update(cluster.READY); err != nil {
		return errors.Wrapf(cluster.ErrInternalFailure,
			"could not ready the cluster after step %d: %v", step, err)
	}
	return nil
}

// buildReportLocked aggregates the results of the step. Ranks that reported
// an error or never reported are failed. The lock must be held.
func (c *Controller) buildReportLocked(rec *stepRecord,
	stepErr error) cluster.StepReport {
	report := cluster.StepReport{
		StepID:    rec.id,
		RequestID: rec.requestID,
		PerRank:   make(map[int]time.Duration, len(rec.durations)),
		TimedOut:  errors.Is(stepErr, cluster.ErrBarrierTimeout),
	}

	durations := make([]time.Duration, 0, len(rec.durations))
	for rank, d := range rec.durations {
		report.PerRank[rank] = d
		durations = append(durations, d)
	}

	failed := make([]int, 0, len(rec.errors))
	rankErrors := make(map[int]string, len(rec.errors))
	for rank := 0; rank < c.params.Size; rank++ {
		if msg, ok := rec.errors[rank]; ok {
			failed = append(failed, rank)
			rankErrors[rank] = msg
		} else if _, ok = rec.durations[rank]; !ok {
			failed = append(failed, rank)
			rankErrors[rank] = missingReport
		}
	}
	slices.Sort(failed)
	report.FailedRanks = failed
	if len(rankErrors) > 0 {
		report.Errors = rankErrors
	}
	report.Success = stepErr == nil && len(failed) == 0

	summary := measure.Summarize(durations)
	report.Max, report.Min, report.Mean = summary.Max, summary.Min,
		summary.Mean

	if d, ok := rec.metrics.Elapsed(measure.TagStepRunning,
		measure.TagEnterRelease); ok {
		report.BarrierWait = d
	}
	if d, ok := rec.metrics.Elapsed(measure.TagEnterRelease,
		measure.TagExitRelease); ok {
		report.CheckpointTime = d
	}

	events := rec.metrics.GetEvents()
	if len(events) > 0 {
		report.Started = events[0].Timestamp
	}

	return report
}

func (c *Controller) sample() measure.ResourceMetric {
	if c.params.Sampler == nil {
		return measure.ResourceMetric{}
	}
	m, err := c.params.Sampler.Sample()
	if err != nil {
		jww.WARN.Printf("Could not sample resources: %v", err)
	}
	return m
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

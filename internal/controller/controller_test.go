///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package controller

import (
	"context"
	"github.com/pkg/errors"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"gitlab.com/elixxir/ckptbench/internal/state"
	"reflect"
	"sync"
	"testing"
	"time"
)

// behavior decides what a simulated rank does in a step. When skip is set
// the rank never arrives.
type behavior func(rank int, step uint64) (d time.Duration, err error,
	skip bool)

func writes(d time.Duration) behavior {
	return func(int, uint64) (time.Duration, error, bool) {
		return d, nil, false
	}
}

// newTestController builds a controller with every rank registered
func newTestController(t *testing.T, size int,
	timeout time.Duration) *Controller {
	c, err := New(Params{Size: size, EnterTimeout: timeout,
		ExitTimeout: timeout}, [cluster.NUM_STATES]state.Change{})
	if err != nil {
		t.Fatalf("New failed: %+v", err)
	}
	for rank := 0; rank < size; rank++ {
		if err = c.RegisterRank(rank); err != nil {
			t.Fatalf("RegisterRank(%d) failed: %+v", rank, err)
		}
	}
	return c
}

// startRanks runs the step loop of every rank until the test ends
func startRanks(t *testing.T, c *Controller, b behavior) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	for rank := 0; rank < c.Size(); rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			var last uint64
			for {
				step, err := c.AwaitStep(ctx, rank, last)
				if err != nil {
					return
				}
				last = step

				d, writeErr, skip := b(rank, step)
				if skip {
					continue
				}
				if err = c.Arrive(ctx, rank, step,
					barrier.EnterWrite); err != nil {
					continue
				}
				_ = c.ReportResult(rank, step, d, writeErr)
				_ = c.Arrive(ctx, rank, step, barrier.ExitWrite)
			}
		}(rank)
	}
}

func TestController_RegisterRank(t *testing.T) {
	var readyCalls int
	changes := [cluster.NUM_STATES]state.Change{}
	changes[cluster.READY] = func(from cluster.ClusterState) error {
		readyCalls++
		return nil
	}

	c, err := New(Params{Size: 2, EnterTimeout: time.Second,
		ExitTimeout: time.Second}, changes)
	if err != nil {
		t.Fatalf("New failed: %+v", err)
	}

	if err = c.RegisterRank(1); err != nil {
		t.Fatalf("RegisterRank(1) failed: %+v", err)
	}
	if c.State() != cluster.IDLE {
		t.Errorf("Cluster should be %s with a missing rank, is %s",
			cluster.IDLE, c.State())
	}

	// registering again is a no-op
	if err = c.RegisterRank(1); err != nil {
		t.Errorf("Repeated RegisterRank(1) should succeed: %+v", err)
	}
	if c.Status().Registered != 1 {
		t.Errorf("Repeated registration changed the registered count to %d",
			c.Status().Registered)
	}

	if err = c.RegisterRank(2); !errors.Is(err, cluster.ErrCapacityExceeded) {
		t.Errorf("RegisterRank(2) should return %v, received %v",
			cluster.ErrCapacityExceeded, err)
	}

	if err = c.RegisterRank(0); err != nil {
		t.Fatalf("RegisterRank(0) failed: %+v", err)
	}
	if c.State() != cluster.READY {
		t.Errorf("Cluster should be %s, is %s", cluster.READY, c.State())
	}
	if readyCalls != 1 {
		t.Errorf("READY change function should run once, ran %d times",
			readyCalls)
	}

	expected := []cluster.RankStatus{
		{Rank: 0, State: cluster.RANK_READY},
		{Rank: 1, State: cluster.RANK_READY},
	}
	if status := c.Status(); !reflect.DeepEqual(expected, status.Ranks) {
		t.Errorf("Rank table does not match"+
			"\n\texpected: %+v\n\treceived: %+v", expected, status.Ranks)
	}
}

// Tests the rejections of RunSteps that never start a step.
func TestController_RunSteps_Rejected(t *testing.T) {
	c, err := New(Params{Size: 2, EnterTimeout: time.Second,
		ExitTimeout: time.Second}, [cluster.NUM_STATES]state.Change{})
	if err != nil {
		t.Fatalf("New failed: %+v", err)
	}

	_, err = c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1})
	if !errors.Is(err, cluster.ErrNotReady) {
		t.Errorf("Run from %s should return %v, received %v", cluster.IDLE,
			cluster.ErrNotReady, err)
	}

	_, err = c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 2, Steps: 0})
	if !errors.Is(err, cluster.ErrInvalidRequest) {
		t.Errorf("Run of 0 steps should return %v, received %v",
			cluster.ErrInvalidRequest, err)
	}

	if c.Status().LastStep != 0 {
		t.Errorf("Rejected runs should not open steps")
	}
}

// Tests eight ranks that all write in 2s over several steps.
func TestController_RunSteps_Healthy(t *testing.T) {
	const size = 8
	c := newTestController(t, size, 5*time.Second)
	startRanks(t, c, writes(2*time.Second))

	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 7, Steps: 3})
	if err != nil {
		t.Fatalf("RunSteps failed: %+v", err)
	}

	if len(reports) != 3 {
		t.Fatalf("Expected 3 reports, received %d", len(reports))
	}

	for i, r := range reports {
		if r.StepID != uint64(i+1) {
			t.Errorf("Report %d has step id %d", i, r.StepID)
		}
		if r.RequestID != 7 {
			t.Errorf("Report %d has request id %d", i, r.RequestID)
		}
		if !r.Success || r.TimedOut || len(r.FailedRanks) != 0 {
			t.Errorf("Report %d should be a success: %+v", i, r)
		}
		if len(r.PerRank) != size {
			t.Errorf("Report %d has %d durations", i, len(r.PerRank))
		}
		if r.Max != 2*time.Second || r.Min != 2*time.Second ||
			r.Mean != 2*time.Second {
			t.Errorf("Report %d has wrong aggregates: max %s min %s "+
				"mean %s", i, r.Max, r.Min, r.Mean)
		}
		if r.Finished.Before(r.Started) {
			t.Errorf("Report %d finished before it started", i)
		}
	}

	if c.State() != cluster.READY {
		t.Errorf("Cluster should be %s, is %s", cluster.READY, c.State())
	}
	for _, rs := range c.Status().Ranks {
		if rs.State != cluster.RANK_READY || rs.LastDuration != 2*time.Second {
			t.Errorf("Rank status not updated: %+v", rs)
		}
	}
	if len(c.History()) != 3 {
		t.Errorf("History should hold 3 reports, holds %d",
			len(c.History()))
	}
}

// Tests that a write failure of rank 3 fails the step but keeps the
// durations of the other ranks.
func TestController_RunSteps_WriteFailure(t *testing.T) {
	const size = 8
	c := newTestController(t, size, 5*time.Second)
	startRanks(t, c, func(rank int, step uint64) (time.Duration, error,
		bool) {
		if rank == 3 {
			return time.Second, errors.Wrap(cluster.ErrWriteFailure,
				"disk full"), false
		}
		return 2 * time.Second, nil, false
	})

	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 2})
	if !errors.Is(err, cluster.ErrStepFailed) {
		t.Errorf("RunSteps should return %v, received %v",
			cluster.ErrStepFailed, err)
	}

	if len(reports) != 1 {
		t.Fatalf("Run should stop after the first step, received %d "+
			"reports", len(reports))
	}

	r := reports[0]
	if r.Success || r.TimedOut {
		t.Errorf("Report should be a failure without a timeout: %+v", r)
	}
	if !reflect.DeepEqual([]int{3}, r.FailedRanks) {
		t.Errorf("Failed ranks do not match"+
			"\n\texpected: %v\n\treceived: %v", []int{3}, r.FailedRanks)
	}
	if len(r.PerRank) != size-1 {
		t.Errorf("Report should keep %d durations, has %d", size-1,
			len(r.PerRank))
	}
	if _, ok := r.Errors[3]; !ok {
		t.Errorf("Report should carry the error of rank 3")
	}

	if c.State() != cluster.FAILED {
		t.Errorf("Cluster should be %s, is %s", cluster.FAILED, c.State())
	}
	if rs := c.Status().Ranks[3]; rs.State != cluster.ERRORED ||
		rs.LastError == "" {
		t.Errorf("Rank 3 should be %s with an error: %+v", cluster.ERRORED,
			rs)
	}

	_, err = c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 2, Steps: 1})
	if !errors.Is(err, cluster.ErrNotReady) {
		t.Errorf("Run from %s should return %v, received %v",
			cluster.FAILED, cluster.ErrNotReady, err)
	}
}

// Tests that a second run is refused while the first is in flight and that
// the first is not affected.
func TestController_RunSteps_Busy(t *testing.T) {
	c := newTestController(t, 4, 5*time.Second)
	startRanks(t, c, func(int, uint64) (time.Duration, error, bool) {
		time.Sleep(100 * time.Millisecond)
		return 100 * time.Millisecond, nil, false
	})

	type result struct {
		reports []cluster.StepReport
		err     error
	}
	first := make(chan result)
	go func() {
		reports, err := c.RunSteps(context.Background(),
			cluster.StepRequest{RequestID: 1, Steps: 2})
		first <- result{reports, err}
	}()

	deadline := time.Now().Add(time.Second)
	for !c.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("First run never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 2, Steps: 1})
	if !errors.Is(err, cluster.ErrBusy) {
		t.Errorf("Concurrent run should return %v, received %v",
			cluster.ErrBusy, err)
	}

	res := <-first
	if res.err != nil {
		t.Errorf("First run failed: %+v", res.err)
	}
	if len(res.reports) != 2 {
		t.Errorf("First run should have 2 reports, has %d",
			len(res.reports))
	}
	if c.Busy() {
		t.Errorf("Controller should not be busy after the run")
	}
}

// Tests that a rank missing the second step times out the run, keeps the
// first report and the late report of the rank only reaches its status.
func TestController_RunSteps_MissingArrival(t *testing.T) {
	const size = 4
	c := newTestController(t, size, 100*time.Millisecond)
	startRanks(t, c, func(rank int, step uint64) (time.Duration, error,
		bool) {
		return time.Millisecond, nil, rank == 2 && step == 2
	})

	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 3})
	if !errors.Is(err, cluster.ErrBarrierTimeout) {
		t.Errorf("RunSteps should return %v, received %v",
			cluster.ErrBarrierTimeout, err)
	}

	if len(reports) != 2 {
		t.Fatalf("Expected the reports of 2 steps, received %d",
			len(reports))
	}
	if !reports[0].Success {
		t.Errorf("First step should have succeeded: %+v", reports[0])
	}
	if reports[1].Success || !reports[1].TimedOut {
		t.Errorf("Second step should have timed out: %+v", reports[1])
	}
	if !reflect.DeepEqual([]int{0, 1, 2, 3}, reports[1].FailedRanks) {
		t.Errorf("Every rank should have failed the second step: %v",
			reports[1].FailedRanks)
	}
	if c.State() != cluster.FAILED {
		t.Errorf("Cluster should be %s, is %s", cluster.FAILED, c.State())
	}

	// late report of the failed step
	if err = c.ReportResult(2, 2, time.Second, nil); err != nil {
		t.Errorf("Late report for the failed step should be accepted: %+v",
			err)
	}
	if rs := c.Status().Ranks[2]; rs.LastDuration != time.Second {
		t.Errorf("Late report should update the rank status: %+v", rs)
	}
	if _, ok := c.History()[1].PerRank[2]; ok {
		t.Errorf("Late report should not change the step report")
	}

	if err = c.ReportResult(2, 2, time.Second,
		nil); !errors.Is(err, cluster.ErrStaleReport) {
		t.Errorf("Duplicate report should return %v, received %v",
			cluster.ErrStaleReport, err)
	}
	if err = c.ReportResult(0, 1, time.Second,
		nil); !errors.Is(err, cluster.ErrStaleReport) {
		t.Errorf("Report for an old step should return %v, received %v",
			cluster.ErrStaleReport, err)
	}
	if err = c.ReportResult(9, 2, time.Second,
		nil); !errors.Is(err, cluster.ErrUnknownRank) {
		t.Errorf("Report of an unknown rank should return %v, received %v",
			cluster.ErrUnknownRank, err)
	}
}

// Tests that a failed cluster can be reset and keeps increasing step ids.
func TestController_Reset(t *testing.T) {
	c := newTestController(t, 2, 50*time.Millisecond)

	if _, err := c.Reset(); !errors.Is(err, cluster.ErrInvalidRequest) {
		t.Errorf("Reset of a ready cluster should return %v, received %v",
			cluster.ErrInvalidRequest, err)
	}

	startRanks(t, c, func(rank int, step uint64) (time.Duration, error,
		bool) {
		return time.Millisecond, nil, rank == 1 && step == 1
	})

	if _, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1}); err == nil {
		t.Fatalf("First run should fail")
	}

	next, err := c.Reset()
	if err != nil {
		t.Fatalf("Reset failed: %+v", err)
	}
	if next != cluster.READY || c.State() != cluster.READY {
		t.Errorf("Cluster should be %s after reset, is %s", cluster.READY,
			c.State())
	}

	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 2, Steps: 1})
	if err != nil {
		t.Fatalf("Run after reset failed: %+v", err)
	}
	if reports[0].StepID != 2 {
		t.Errorf("Step ids should keep increasing after a reset, "+
			"received %d", reports[0].StepID)
	}
}

// Tests that cancelling the run fails the step and releases the ranks.
func TestController_RunSteps_Cancelled(t *testing.T) {
	c := newTestController(t, 2, 5*time.Second)
	startRanks(t, c, func(rank int, step uint64) (time.Duration, error,
		bool) {
		return time.Millisecond, nil, rank == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(),
		50*time.Millisecond)
	defer cancel()

	reports, err := c.RunSteps(ctx, cluster.StepRequest{RequestID: 1,
		Steps: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Cancelled run should return the context error, "+
			"received %v", err)
	}
	if len(reports) != 1 || reports[0].Success {
		t.Errorf("Cancelled step should be reported as failed: %+v",
			reports)
	}
	if c.State() != cluster.FAILED {
		t.Errorf("Cluster should be %s, is %s", cluster.FAILED, c.State())
	}
}

type testSampler struct {
	calls int
}

func (ts *testSampler) Sample() (measure.ResourceMetric, error) {
	ts.calls++
	return measure.ResourceMetric{
		Time:           time.Unix(int64(ts.calls), 0),
		DiskWriteBytes: uint64(ts.calls * 1024),
	}, nil
}

// Tests that every report carries the resource usage of its step.
func TestController_RunSteps_Resources(t *testing.T) {
	ts := &testSampler{}
	c, err := New(Params{Size: 1, EnterTimeout: time.Second,
		ExitTimeout: time.Second, Sampler: ts},
		[cluster.NUM_STATES]state.Change{})
	if err != nil {
		t.Fatalf("New failed: %+v", err)
	}
	if err = c.RegisterRank(0); err != nil {
		t.Fatalf("RegisterRank failed: %+v", err)
	}
	startRanks(t, c, writes(time.Millisecond))

	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1})
	if err != nil {
		t.Fatalf("RunSteps failed: %+v", err)
	}

	expected := measure.ResourceDelta{
		Interval:       time.Second,
		DiskWriteBytes: 1024,
	}
	if !reflect.DeepEqual(expected, reports[0].Resources) {
		t.Errorf("Resource delta does not match"+
			"\n\texpected: %+v\n\treceived: %+v", expected,
			reports[0].Resources)
	}
}

// Tests that returned reports and the history share no memory with the
// controller.
func TestController_History_Copies(t *testing.T) {
	c := newTestController(t, 2, time.Second)
	startRanks(t, c, writes(time.Millisecond))

	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1})
	if err != nil {
		t.Fatalf("RunSteps failed: %+v", err)
	}

	reports[0].PerRank[0] = time.Hour
	reports[0].Events[0].Tag = "changed"
	history := c.History()
	history[0].PerRank[1] = 2 * time.Hour
	history[0].FailedRanks = append(history[0].FailedRanks[:0], 1)

	expected := map[int]time.Duration{0: time.Millisecond,
		1: time.Millisecond}
	received := c.History()[0]
	if !reflect.DeepEqual(expected, received.PerRank) {
		t.Errorf("History changed through a returned report"+
			"\n\texpected: %v\n\treceived: %v", expected, received.PerRank)
	}
	if received.Events[0].Tag != measure.TagStepOpened {
		t.Errorf("Events changed through a returned report: %s",
			received.Events[0].Tag)
	}
	if len(received.FailedRanks) != 0 {
		t.Errorf("Failed ranks changed through the history: %v",
			received.FailedRanks)
	}
}

// Tests that ranks are still DONE while the cluster is STEP_COMPLETE.
func TestController_StepComplete_RankStates(t *testing.T) {
	var c *Controller
	var observed []cluster.RankState
	changes := [cluster.NUM_STATES]state.Change{}
	changes[cluster.STEP_COMPLETE] = func(cluster.ClusterState) error {
		// runs with the controller lock held
		for rank := 0; rank < c.Size(); rank++ {
			observed = append(observed, c.ranks[rank].State)
		}
		return nil
	}

	c, err := New(Params{Size: 2, EnterTimeout: time.Second,
		ExitTimeout: time.Second}, changes)
	if err != nil {
		t.Fatalf("New failed: %+v", err)
	}
	for rank := 0; rank < 2; rank++ {
		if err = c.RegisterRank(rank); err != nil {
			t.Fatalf("RegisterRank(%d) failed: %+v", rank, err)
		}
	}
	startRanks(t, c, writes(time.Millisecond))

	if _, err = c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1}); err != nil {
		t.Fatalf("RunSteps failed: %+v", err)
	}

	expected := []cluster.RankState{cluster.DONE, cluster.DONE}
	if !reflect.DeepEqual(expected, observed) {
		t.Errorf("Rank states during %s do not match"+
			"\n\texpected: %v\n\treceived: %v", cluster.STEP_COMPLETE,
			expected, observed)
	}
	for _, rs := range c.Status().Ranks {
		if rs.State != cluster.RANK_READY {
			t.Errorf("Rank %d should be %s after the step, is %s", rs.Rank,
				cluster.RANK_READY, rs.State)
		}
	}
}

// Tests that a step nobody arrives at fails after the enter timeout rather
// than the whole step deadline.
func TestController_RunSteps_NoArrivals(t *testing.T) {
	c, err := New(Params{Size: 2, EnterTimeout: 50 * time.Millisecond,
		ExitTimeout: time.Minute}, [cluster.NUM_STATES]state.Change{})
	if err != nil {
		t.Fatalf("New failed: %+v", err)
	}
	for rank := 0; rank < 2; rank++ {
		if err = c.RegisterRank(rank); err != nil {
			t.Fatalf("RegisterRank(%d) failed: %+v", rank, err)
		}
	}

	start := time.Now()
	reports, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1})
	if !errors.Is(err, cluster.ErrBarrierTimeout) {
		t.Errorf("RunSteps should return %v, received %v",
			cluster.ErrBarrierTimeout, err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Step failed after %s, the enter timeout is 50ms", elapsed)
	}
	if len(reports) != 1 || !reports[0].TimedOut {
		t.Errorf("The timed out step should be reported: %+v", reports)
	}
	if c.State() != cluster.FAILED {
		t.Errorf("Cluster should be %s, is %s", cluster.FAILED, c.State())
	}
}

// Tests that a rank coming back from a timed out step after a reset does
// not mark itself errored.
func TestController_Arrive_AfterReset(t *testing.T) {
	c := newTestController(t, 2, 50*time.Millisecond)

	if _, err := c.RunSteps(context.Background(),
		cluster.StepRequest{RequestID: 1, Steps: 1}); err == nil {
		t.Fatalf("A step without ranks should fail")
	}
	if _, err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %+v", err)
	}

	err := c.Arrive(context.Background(), 0, 1, barrier.EnterWrite)
	if !errors.Is(err, cluster.ErrBarrierTimeout) {
		t.Errorf("Arrive should return %v, received %v",
			cluster.ErrBarrierTimeout, err)
	}

	rs := c.Status().Ranks[0]
	if rs.State != cluster.RANK_READY || rs.LastError != "" {
		t.Errorf("Rank 0 should stay %s after the reset: %+v",
			cluster.RANK_READY, rs)
	}
	if c.State() != cluster.READY {
		t.Errorf("Cluster should be %s, is %s", cluster.READY, c.State())
	}
}

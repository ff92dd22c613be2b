///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package controller runs the benchmark on the rank 0 process. It owns the
// cluster state machine and the rank status table, drives the barrier
// through each checkpoint step and aggregates the results the ranks report
// into step reports.
package controller

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"gitlab.com/elixxir/ckptbench/internal/state"
	"golang.org/x/exp/slices"
	"sync"
	"sync/atomic"
	"time"
)

// Sampler takes a resource sample at the start and the end of every step.
type Sampler interface {
	Sample() (measure.ResourceMetric, error)
}

// Params configures a Controller.
type Params struct {
	// Size is the number of ranks in the cluster
	Size int
	// EnterTimeout bounds the wait for every rank at the start of a step
	EnterTimeout time.Duration
	// ExitTimeout bounds the write of the slowest rank
	ExitTimeout time.Duration
	// Sampler is optional. When set every report carries a resource delta.
	Sampler Sampler
}

// Controller coordinates a fixed size cluster of ranks.
type Controller struct {
	params  Params
	barrier *barrier.Coordinator
	machine *state.Machine

	// set for the whole duration of a RunSteps call
	busy atomic.Bool

	mux   sync.Mutex
	ranks map[int]*cluster.RankStatus
	// lastStep is the id of the most recently opened step
	lastStep uint64
	// lastFailed is the id of the most recent failed step, 0 if none
	lastFailed uint64
	// active is the most recently opened step, kept after it closes so late
	// reports can be recognised
	active *stepRecord
	// closed and replaced every time a step is opened
	stepOpened chan struct{}
	history    []cluster.StepReport
}

// New builds a controller and its barrier. The change functions are run by
// the cluster state machine on every transition and must not call back into
// the controller.
func New(params Params,
	changes [cluster.NUM_STATES]state.Change) (*Controller, error) {
	b, err := barrier.NewCoordinator(barrier.Params{
		Size:         params.Size,
		EnterTimeout: params.EnterTimeout,
		ExitTimeout:  params.ExitTimeout,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not create the barrier")
	}

	return &Controller{
		params:     params,
		barrier:    b,
		machine:    state.NewMachine(changes),
		ranks:      make(map[int]*cluster.RankStatus, params.Size),
		stepOpened: make(chan struct{}),
	}, nil
}

// Size returns the number of ranks in the cluster.
func (c *Controller) Size() int {
	return c.params.Size
}

// State returns the current cluster state.
func (c *Controller) State() cluster.ClusterState {
	return c.machine.Get()
}

// WaitForState waits for the next state update if the cluster is not
// already in one of the expected states. See state.Machine.WaitFor.
func (c *Controller) WaitForState(timeout time.Duration,
	expected ...cluster.ClusterState) (cluster.ClusterState, error) {
	return c.machine.WaitFor(timeout, expected...)
}

// RegisterRank adds a rank to the cluster. Registering a rank twice is a
// no-op. The cluster becomes READY when the last rank registers.
func (c *Controller) RegisterRank(rank int) error {
	err := c.barrier.Register(rank)
	if errors.Is(err, cluster.ErrDuplicateRank) {
		jww.DEBUG.Printf("Rank %d registered again", rank)
		return nil
	} else if err != nil {
		return err
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	c.ranks[rank] = &cluster.RankStatus{
		Rank:  rank,
		State: cluster.RANK_READY,
	}
	jww.INFO.Printf("Rank %d registered (%d/%d)", rank, len(c.ranks),
		c.params.Size)

	if len(c.ranks) == c.params.Size && c.machine.Get() == cluster.IDLE {
		if _, err = c.machine.Update(cluster.READY); err != nil {
			return errors.Wrapf(cluster.ErrInternalFailure,
				"could not mark the cluster ready: %v", err)
		}
	}

	return nil
}

// Status returns a snapshot of the cluster. The rank list is sorted by rank
// and does not share memory with the controller.
func (c *Controller) Status() cluster.ClusterStatus {
	c.mux.Lock()
	ranks := make([]cluster.RankStatus, 0, len(c.ranks))
	for _, rs := range c.ranks {
		ranks = append(ranks, *rs)
	}
	status := cluster.ClusterStatus{
		State:      c.machine.Get(),
		Size:       c.params.Size,
		Registered: len(c.ranks),
		Waiting:    c.barrier.Waiting(),
		Busy:       c.busy.Load(),
		LastStep:   c.lastStep,
	}
	c.mux.Unlock()

	slices.SortFunc(ranks, func(a, b cluster.RankStatus) bool {
		return a.Rank < b.Rank
	})
	status.Ranks = ranks

	return status
}

// History returns a copy of every step report produced by this controller
// in order.
func (c *Controller) History() []cluster.StepReport {
	c.mux.Lock()
	defer c.mux.Unlock()

	history := make([]cluster.StepReport, len(c.history))
	for i, report := range c.history {
		history[i] = report.Clone()
	}
	return history
}

// Busy reports whether a RunSteps call is in flight.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Reset revives a FAILED cluster. Every registered rank is marked READY
// again and the cluster returns to READY, or to IDLE if ranks are still
// missing.
func (c *Controller) Reset() (cluster.ClusterState, error) {
	if c.busy.Load() {
		return c.machine.Get(), errors.Wrap(cluster.ErrBusy,
			"cannot reset while a run is in progress")
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if current := c.machine.Get(); current != cluster.FAILED {
		return current, errors.Wrapf(cluster.ErrInvalidRequest,
			"only a failed cluster can be reset, cluster is %s", current)
	}

	for _, rs := range c.ranks {
		rs.State = cluster.RANK_READY
	}

	next := cluster.READY
	if len(c.ranks) < c.params.Size {
		next = cluster.IDLE
	}

	if _, err := c.machine.Update(next); err != nil {
		return c.machine.Get(), errors.Wrapf(cluster.ErrInternalFailure,
			"could not reset the cluster: %v", err)
	}

	jww.INFO.Printf("Cluster reset to %s after step %d failed", next,
		c.lastFailed)
	return next, nil
}

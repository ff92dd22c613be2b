///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package barrier brings a fixed number of ranks to a rendezvous twice per
// checkpoint step. All ranks waiting on a phase are released at once when the
// last one arrives, or fail together when the phase timeout expires.
package barrier

import (
	"context"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"golang.org/x/exp/slices"
	"sync"
	"sync/atomic"
	"time"
)

// Params configures a Coordinator.
type Params struct {
	// Size is the number of ranks that must arrive to release a phase
	Size int
	// EnterTimeout bounds the wait at the EnterWrite barrier
	EnterTimeout time.Duration
	// ExitTimeout bounds the wait at the ExitWrite barrier. It covers the
	// write of the slowest rank.
	ExitTimeout time.Duration
}

// generation is the arrival set of one phase of one step
type generation struct {
	step    uint64
	phase   Phase
	arrived map[int]struct{}
	// closed once the generation is released or failed
	release chan struct{}
	// error returned to every waiter, set before release is closed
	err   error
	timer *time.Timer
	done  bool
}

// Coordinator is the barrier for a fixed size cluster. Only the most
// recently opened step can be arrived at.
type Coordinator struct {
	params Params

	mux        sync.Mutex
	registered map[int]struct{}
	current    uint64
	gens       [NUM_PHASES]*generation
	failed     map[uint64]error

	waiting int32
}

// NewCoordinator creates a barrier coordinator for params.Size ranks.
func NewCoordinator(params Params) (*Coordinator, error) {
	if params.Size < 1 {
		return nil, errors.Errorf("barrier size must be at least 1, "+
			"received %d", params.Size)
	}
	if params.EnterTimeout <= 0 || params.ExitTimeout <= 0 {
		return nil, errors.Errorf("barrier timeouts must be positive, "+
			"received %s and %s", params.EnterTimeout, params.ExitTimeout)
	}

	return &Coordinator{
		params:     params,
		registered: make(map[int]struct{}, params.Size),
		failed:     make(map[uint64]error),
	}, nil
}

// Size returns the number of participants.
func (c *Coordinator) Size() int {
	return c.params.Size
}

// Register adds a rank to the participants.
func (c *Coordinator) Register(rank int) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if rank < 0 || rank >= c.params.Size {
		return errors.Wrapf(cluster.ErrCapacityExceeded,
			"rank %d is outside of a cluster of %d ranks", rank, c.params.Size)
	}

	if _, ok := c.registered[rank]; ok {
		return errors.Wrapf(cluster.ErrDuplicateRank, "rank %d", rank)
	}

	c.registered[rank] = struct{}{}
	return nil
}

// Registered returns the number of registered ranks.
func (c *Coordinator) Registered() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.registered)
}

// Waiting returns the number of ranks currently blocked in Arrive.
func (c *Coordinator) Waiting() int {
	return int(atomic.LoadInt32(&c.waiting))
}

// Open starts accepting arrivals for step. Step ids must strictly increase;
// any generation of the previous step still pending is failed.
func (c *Coordinator) Open(step uint64) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if step <= c.current {
		return errors.Errorf("cannot open step %d, step %d is already "+
			"open", step, c.current)
	}

	if c.current != 0 {
		c.failLocked(c.current, errors.Wrapf(cluster.ErrStaleReport,
			"step %d was superseded by step %d", c.current, step))
	}

	c.current = step
	for p := EnterWrite; p < NUM_PHASES; p++ {
		c.gens[p] = &generation{
			step:    step,
			phase:   p,
			arrived: make(map[int]struct{}, c.params.Size),
			release: make(chan struct{}),
		}
	}

	return nil
}

// Arrive blocks until every rank has arrived at phase of step, the phase
// times out, or ctx is done. A timeout is returned to every rank that was
// waiting on the phase and to every rank arriving after it.
func (c *Coordinator) Arrive(ctx context.Context, rank int, step uint64,
	phase Phase) error {
	c.mux.Lock()

	if _, ok := c.registered[rank]; !ok {
		c.mux.Unlock()
		return errors.Wrapf(cluster.ErrUnknownRank, "rank %d", rank)
	}

	gen, err := c.generationLocked(step, phase)
	if err != nil {
		c.mux.Unlock()
		return err
	}

	gen.arrived[rank] = struct{}{}
	arrived := len(gen.arrived)

	if !gen.done {
		if gen.timer == nil {
			gen.timer = time.AfterFunc(c.timeout(phase), func() {
				c.expire(gen)
			})
		}
		if arrived == c.params.Size {
			c.releaseLocked(gen, nil)
		}
	}
	c.mux.Unlock()

	waiting := atomic.AddInt32(&c.waiting, 1)
	defer atomic.AddInt32(&c.waiting, -1)
	jww.DEBUG.Printf("Rank %d arrived at %s of step %d (%d/%d arrived, "+
		"%d waiting)", rank, phase, step, arrived, c.params.Size, waiting)

	select {
	case <-gen.release:
		return gen.err
	case <-ctx.Done():
		return errors.WithMessagef(ctx.Err(), "rank %d stopped waiting at "+
			"%s of step %d", rank, phase, step)
	}
}

// Wait blocks until phase of step is released or failed without taking part
// in it.
func (c *Coordinator) Wait(ctx context.Context, step uint64,
	phase Phase) error {
	c.mux.Lock()
	gen, err := c.generationLocked(step, phase)
	c.mux.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-gen.release:
		return gen.err
	case <-ctx.Done():
		return errors.WithMessagef(ctx.Err(), "stopped waiting at %s of "+
			"step %d", phase, step)
	}
}

// Abort fails every pending phase of step with err.
func (c *Coordinator) Abort(step uint64, err error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if step != c.current {
		return
	}
	c.failLocked(step, err)
}

// Failed returns the error a step failed with, or nil.
func (c *Coordinator) Failed(step uint64) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.failed[step]
}

func (c *Coordinator) timeout(phase Phase) time.Duration {
	if phase == EnterWrite {
		return c.params.EnterTimeout
	}
	return c.params.ExitTimeout
}

// generationLocked looks up the generation of an open step. The lock must be
// held.
func (c *Coordinator) generationLocked(step uint64,
	phase Phase) (*generation, error) {
	if phase >= NUM_PHASES {
		return nil, errors.Wrapf(cluster.ErrInvalidRequest,
			"unknown phase %d", uint8(phase))
	}

	if step == c.current && step != 0 {
		return c.gens[phase], nil
	}

	if err, ok := c.failed[step]; ok {
		return nil, err
	}

	return nil, errors.Wrapf(cluster.ErrStaleReport,
		"step %d is not open, current step is %d", step, c.current)
}

// expire fails the step if the generation is still pending when its timer
// fires
func (c *Coordinator) expire(gen *generation) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if gen.done {
		return
	}

	missing := make([]int, 0, c.params.Size)
	for rank := range c.registered {
		if _, ok := gen.arrived[rank]; !ok {
			missing = append(missing, rank)
		}
	}
	slices.Sort(missing)

	err := errors.Wrapf(cluster.ErrBarrierTimeout, "%d/%d ranks arrived at "+
		"%s of step %d within %s, missing ranks %v", len(gen.arrived),
		c.params.Size, gen.phase, gen.step, c.timeout(gen.phase), missing)
	jww.WARN.Printf("%v", err)

	c.failLocked(gen.step, err)
}

// failLocked fails every pending generation of step. The lock must be held.
func (c *Coordinator) failLocked(step uint64, err error) {
	if step != c.current {
		return
	}

	pending := false
	for _, gen := range c.gens {
		if gen != nil && !gen.done {
			c.releaseLocked(gen, err)
			pending = true
		}
	}

	if _, ok := c.failed[step]; !ok && pending {
		c.failed[step] = err
	}
}

// releaseLocked wakes every waiter of the generation. The lock must be held.
func (c *Coordinator) releaseLocked(gen *generation, err error) {
	gen.done = true
	gen.err = err
	if gen.timer != nil {
		gen.timer.Stop()
	}
	close(gen.release)
}

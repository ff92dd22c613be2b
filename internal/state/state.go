///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package state holds the cluster state machine. It defines which
// transitions between cluster states are allowable within NewMachine() and
// runs a change function every time a transition happens.
//
// Valid transitions:
//
//	IDLE          -> READY, FAILED
//	READY         -> RUNNING, FAILED
//	RUNNING       -> STEP_COMPLETE, FAILED
//	STEP_COMPLETE -> READY, FAILED
//	FAILED        -> READY, IDLE
package state

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"sync"
	"time"
)

// Change is run while the state lock is held each time the machine enters a
// state. It should operate quickly, and cannot instruct state changes itself
// without creating a deadlock.
type Change func(from cluster.ClusterState) error

// Machine is the core state machine object
type Machine struct {
	// holds the state
	state cluster.ClusterState
	// mux to ensure proper access to state
	sync.RWMutex
	// hold the functions used to change to different states
	changeList [cluster.NUM_STATES]Change
	// closed and replaced on every state change to wake waiting threads
	changed chan struct{}
	// holds valid state transitions
	stateMap [][]bool
}

// NewMachine builds the state machine in IDLE and sets valid transitions.
// Nil entries in the change list are treated as no-ops.
func NewMachine(changeList [cluster.NUM_STATES]Change) *Machine {
	m := &Machine{
		state:      cluster.IDLE,
		changeList: changeList,
		changed:    make(chan struct{}),
		stateMap:   make([][]bool, cluster.NUM_STATES),
	}

	// finish populating the stateMap
	for i := 0; i < int(cluster.NUM_STATES); i++ {
		m.stateMap[i] = make([]bool, cluster.NUM_STATES)
	}

	m.addStateTransition(cluster.IDLE, cluster.READY, cluster.FAILED)
	m.addStateTransition(cluster.READY, cluster.RUNNING, cluster.FAILED)
	m.addStateTransition(cluster.RUNNING, cluster.STEP_COMPLETE, cluster.FAILED)
	m.addStateTransition(cluster.STEP_COMPLETE, cluster.READY, cluster.FAILED)
	m.addStateTransition(cluster.FAILED, cluster.READY, cluster.IDLE)

	return m
}

// adds a state transition to the state object
func (m *Machine) addStateTransition(from cluster.ClusterState,
	to ...cluster.ClusterState) {
	for _, t := range to {
		m.stateMap[from][t] = true
	}
}

// Update moves to the next state if the transition is valid from the current
// one, runs its change function and wakes every thread waiting on a state
// update. If the change function fails the state is rolled back.
// UPDATE CANNOT BE CALLED WITHIN STATE CHANGE FUNCTIONS
func (m *Machine) Update(nextState cluster.ClusterState) (bool, error) {
	m.Lock()
	defer m.Unlock()

	// Failures tend to cascade, so ignore attempts to fail a failed cluster
	if nextState == cluster.FAILED && m.state == cluster.FAILED {
		return true, nil
	}

	if nextState >= cluster.NUM_STATES ||
		!m.stateMap[m.state][nextState] {
		return false, errors.Errorf("not a valid state change from "+
			"%s to %s", m.state, nextState)
	}

	jww.INFO.Printf("Updating cluster state from %s to %s", m.state,
		nextState)

	oldState := m.state
	m.state = nextState

	if change := m.changeList[nextState]; change != nil {
		if err := change(oldState); err != nil {
			m.state = oldState
			return false, errors.WithMessagef(err, "change to %s failed",
				nextState)
		}
	}

	close(m.changed)
	m.changed = make(chan struct{})

	return true, nil
}

// Get returns the current state under a read lock
func (m *Machine) Get() cluster.ClusterState {
	m.RLock()
	defer m.RUnlock()
	return m.state
}

// WaitFor returns immediately if the machine is in one of the expected
// states. Otherwise, if one of them is reachable from the current state, it
// waits for the next update and succeeds if that update lands in an expected
// state. It returns an error after the timeout expires.
func (m *Machine) WaitFor(timeout time.Duration,
	expected ...cluster.ClusterState) (cluster.ClusterState, error) {
	m.RLock()

	current := m.state
	for _, s := range expected {
		if s == current {
			m.RUnlock()
			return current, nil
		}
	}

	validTransition := false
	for _, s := range expected {
		if s < cluster.NUM_STATES && m.stateMap[current][s] {
			validTransition = true
		}
	}

	if !validTransition {
		m.RUnlock()
		return current, errors.Errorf("Cannot wait for state %v which "+
			"cannot be reached from the current state %s", expected, current)
	}

	// grab the channel before releasing the lock so no update is missed
	changed := m.changed
	m.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-changed:
	case <-timer.C:
		return m.Get(), errors.Errorf("Timer of %s timed out before "+
			"state update", timeout)
	}

	newState := m.Get()
	for _, s := range expected {
		if s == newState {
			return newState, nil
		}
	}

	return newState, errors.Errorf("State not updated to the correct "+
		"state: expected: %v receive: %s", expected, newState)
}

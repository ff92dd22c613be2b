///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package cluster

import (
	"fmt"
	"github.com/pkg/errors"
	"strings"
)

// ClusterState is the process wide state of the benchmark cluster. It is
// owned by the controller and only changes through its state machine.
type ClusterState uint32

const (
	IDLE = ClusterState(iota)
	READY
	RUNNING
	STEP_COMPLETE
	FAILED
	NUM_STATES
)

// Stringer to get the name of the state, primarily for error prints
func (s ClusterState) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case STEP_COMPLETE:
		return "STEP_COMPLETE"
	case FAILED:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN STATE: %d", s)
	}
}

// MarshalText encodes the state by name so the wire format does not depend
// on the ordering of the constants.
func (s ClusterState) MarshalText() ([]byte, error) {
	if s >= NUM_STATES {
		return nil, errors.Errorf("cannot marshal unknown cluster state %d",
			uint32(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state encoded by MarshalText.
func (s *ClusterState) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for i := IDLE; i < NUM_STATES; i++ {
		if i.String() == name {
			*s = i
			return nil
		}
	}
	return errors.Errorf("unknown cluster state %q", string(text))
}

// RankState is the state of a single rank within the current step.
type RankState uint32

const (
	NOT_READY = RankState(iota)
	RANK_READY
	WRITING
	DONE
	ERRORED
	NUM_RANK_STATES
)

func (r RankState) String() string {
	switch r {
	case NOT_READY:
		return "NOT_READY"
	case RANK_READY:
		return "READY"
	case WRITING:
		return "WRITING"
	case DONE:
		return "DONE"
	case ERRORED:
		return "ERRORED"
	default:
		return fmt.Sprintf("UNKNOWN RANK STATE: %d", r)
	}
}

// Finished returns true once the rank has reported for the step, whatever the
// outcome.
func (r RankState) Finished() bool {
	return r == DONE || r == ERRORED
}

// MarshalText encodes the rank state by name.
func (r RankState) MarshalText() ([]byte, error) {
	if r >= NUM_RANK_STATES {
		return nil, errors.Errorf("cannot marshal unknown rank state %d",
			uint32(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rank state encoded by MarshalText.
func (r *RankState) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for i := NOT_READY; i < NUM_RANK_STATES; i++ {
		if i.String() == name {
			*r = i
			return nil
		}
	}
	return errors.Errorf("unknown rank state %q", string(text))
}

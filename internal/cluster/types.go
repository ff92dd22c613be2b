///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package cluster holds the data model shared by every layer of the
// benchmark: cluster and rank states, the per rank status table entries,
// step requests and step reports, and the error taxonomy.
package cluster

import (
	"fmt"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"time"
)

// RankStatus is the status of one rank. Entries are created when the rank
// registers and are only ever updated in place.
type RankStatus struct {
	Rank  int       `json:"rank" yaml:"rank"`
	State RankState `json:"state" yaml:"state"`
	// Step is the last step the rank took part in
	Step uint64 `json:"step" yaml:"step"`
	// LastDuration is zero until the rank reports a write
	LastDuration time.Duration `json:"lastDuration,omitempty" yaml:"lastDuration,omitempty"`
	// LastError is empty unless the last report carried an error
	LastError string `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// StepRequest asks the controller to run Steps consecutive checkpoint steps.
type StepRequest struct {
	// RequestID is assigned by the client and increases with every request
	// it sends
	RequestID uint64 `json:"requestId"`
	Steps     int    `json:"steps"`
}

// StepReport is the aggregated outcome of one step. It is never modified
// after the controller returns it.
type StepReport struct {
	StepID    uint64 `json:"stepId" yaml:"stepId"`
	RequestID uint64 `json:"requestId" yaml:"requestId"`

	// Write durations of every rank that reported
	PerRank map[int]time.Duration `json:"perRank" yaml:"perRank"`
	Max     time.Duration         `json:"max" yaml:"max"`
	Min     time.Duration         `json:"min" yaml:"min"`
	Mean    time.Duration         `json:"mean" yaml:"mean"`

	// CheckpointTime is the time between the release of the enter barrier and
	// the release of the exit barrier
	CheckpointTime time.Duration `json:"checkpointTime" yaml:"checkpointTime"`
	// BarrierWait is the time the ranks took to gather at the enter barrier
	BarrierWait time.Duration `json:"barrierWait" yaml:"barrierWait"`

	Success     bool           `json:"success" yaml:"success"`
	TimedOut    bool           `json:"timedOut" yaml:"timedOut"`
	FailedRanks []int          `json:"failedRanks" yaml:"failedRanks"`
	Errors      map[int]string `json:"errors,omitempty" yaml:"errors,omitempty"`

	Started  time.Time `json:"started" yaml:"started"`
	Finished time.Time `json:"finished" yaml:"finished"`

	Events    []measure.Metric      `json:"events,omitempty" yaml:"events,omitempty"`
	Resources measure.ResourceDelta `json:"resources" yaml:"resources"`
}

// Clone returns a copy of the report that shares no maps or slices with it.
func (sr StepReport) Clone() StepReport {
	sr.PerRank = maps.Clone(sr.PerRank)
	sr.FailedRanks = slices.Clone(sr.FailedRanks)
	sr.Errors = maps.Clone(sr.Errors)
	sr.Events = slices.Clone(sr.Events)
	return sr
}

// Outcome is a short human readable summary of the report.
func (sr StepReport) Outcome() string {
	switch {
	case sr.Success:
		return "succeeded"
	case sr.TimedOut:
		return fmt.Sprintf("timed out, failed ranks %v", sr.FailedRanks)
	default:
		return fmt.Sprintf("failed on ranks %v", sr.FailedRanks)
	}
}

// ClusterStatus is a point in time snapshot of the controller.
type ClusterStatus struct {
	State      ClusterState `json:"state" yaml:"state"`
	Size       int          `json:"size" yaml:"size"`
	Registered int          `json:"registered" yaml:"registered"`
	// Waiting is the number of ranks currently blocked on a barrier
	Waiting  int          `json:"waiting" yaml:"waiting"`
	Busy     bool         `json:"busy" yaml:"busy"`
	LastStep uint64       `json:"lastStep" yaml:"lastStep"`
	Ranks    []RankStatus `json:"ranks" yaml:"ranks"`
}

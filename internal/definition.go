///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package internal

import (
	"gitlab.com/elixxir/ckptbench/internal/checkpoint"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"time"
)

// Definition is filled out by cmd/server.go and describes everything the
// benchmark server process needs to run.
type Definition struct {
	// Holds input flags
	Flags

	//String containing the local address and port to listen on
	Address string

	// Number of ranks in the cluster
	Size int
	// Ranks 0 to LocalRanks-1 are hosted by this process, the rest
	// register over the rank service
	LocalRanks int

	// Model profile every rank writes its shard of
	Profile checkpoint.Profile
	// Writer used by the local ranks
	Writer checkpoint.Writer

	// Bounds of the two barriers of a step
	EnterTimeout time.Duration
	ExitTimeout  time.Duration

	// Number of times a local rank retries a failed write
	WriteRetries uint64

	//Holds the ResourceMonitor object, nil disables resource sampling
	ResourceMonitor  *measure.ResourceMonitor
	ResourceInterval time.Duration

	// Upper bound of a single AwaitStep long poll
	MaxAwaitWait time.Duration

	// Function to handle the wrapping-up of metrics on shutdown
	MetricsHandler MetricsHandler
}

// Holds all input flags to the system.
type Flags struct {
	// Stop the server the first time the cluster fails
	ExitOnFailure bool
}

type MetricsHandler func(i *Instance) error

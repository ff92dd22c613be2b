///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package cluster

// errors.go contains the error taxonomy shared by the barrier, the controller
// and the RPC layer. Callers wrap these with context and classify them with
// errors.Is.

import (
	"github.com/pkg/errors"
)

var (
	ErrDuplicateRank    = errors.New("rank already registered")
	ErrCapacityExceeded = errors.New("cluster capacity exceeded")
	ErrUnknownRank      = errors.New("unknown rank")
	ErrStaleReport      = errors.New("report outside of the active step window")
	ErrNotReady         = errors.New("cluster is not ready")
	ErrBusy             = errors.New("a run is already in progress")
	ErrBarrierTimeout   = errors.New("barrier timed out")
	ErrWriteFailure     = errors.New("checkpoint write failed")
	ErrInternalFailure  = errors.New("internal failure")
	ErrStepFailed       = errors.New("step failed on one or more ranks")
	ErrInvalidRequest   = errors.New("invalid request")
)

// taxonomy lists every sentinel in the order Classify checks them
var taxonomy = []error{
	ErrDuplicateRank,
	ErrCapacityExceeded,
	ErrUnknownRank,
	ErrStaleReport,
	ErrNotReady,
	ErrBusy,
	ErrBarrierTimeout,
	ErrWriteFailure,
	ErrStepFailed,
	ErrInvalidRequest,
	ErrInternalFailure,
}

// Classify returns the taxonomy sentinel err wraps, or ErrInternalFailure if it
// wraps none of them. A nil error classifies as nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return ErrInternalFailure
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package client

import (
	"github.com/pkg/errors"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
)

// Exit codes of the client command
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitNotReady       = 2
	ExitBusy           = 3
	ExitStepFailed     = 4
	ExitBarrierTimeout = 5
)

// ExitCode classifies the error a benchmark ended with
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, cluster.ErrNotReady):
		return ExitNotReady
	case errors.Is(err, cluster.ErrBusy):
		return ExitBusy
	case errors.Is(err, cluster.ErrBarrierTimeout):
		return ExitBarrierTimeout
	case errors.Is(err, cluster.ErrStepFailed):
		return ExitStepFailed
	default:
		return ExitFailure
	}
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package io

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errShuttingDown = "Server is shutting down"
const errLocalRank = "Rank %d is hosted by the server"

// shuttingDown is returned to calls cut short by the instance shutting down
func shuttingDown() error {
	return status.Error(codes.Unavailable, errShuttingDown)
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package io

// receiveControl.go contains the handlers of the control service

import (
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal"
)

// ReceiveHandshake describes the cluster to a client. The protocol version
// was checked before the handler runs.
func ReceiveHandshake(msg *comms.HandshakeRequest,
	instance *internal.Instance) (*comms.HandshakeResponse, error) {
	ctrl := instance.GetController()
	jww.INFO.Printf("Handshake from client %q", msg.ClientID)

	return &comms.HandshakeResponse{
		Header:      comms.NewHeader(),
		ClusterSize: ctrl.Size(),
		Profile:     instance.GetProfileName(),
		State:       ctrl.State(),
	}, nil
}

// ReceiveStatus returns a snapshot of the cluster
func ReceiveStatus(_ *comms.StatusRequest,
	instance *internal.Instance) (*comms.StatusResponse, error) {
	return &comms.StatusResponse{
		Header: comms.NewHeader(),
		Status: instance.GetController().Status(),
	}, nil
}

// ReceiveReset revives a failed cluster
func ReceiveReset(_ *comms.ResetRequest,
	instance *internal.Instance) (*comms.ResetResponse, error) {
	s, err := instance.GetController().Reset()
	if err != nil {
		return nil, err
	}
	jww.INFO.Printf("Cluster reset to %s", s)
	return &comms.ResetResponse{Header: comms.NewHeader(), State: s}, nil
}

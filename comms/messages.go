///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package comms contains the wire protocol of the benchmark: the messages,
// the gRPC service descriptors of the control and rank services, their
// clients and the mapping of the error taxonomy onto gRPC statuses.
package comms

import (
	"github.com/pkg/errors"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"time"
)

// ProtocolVersion is carried by every message. Peers with a different
// version are refused.
const ProtocolVersion uint32 = 1

// Outcomes of a run that produced reports
const (
	OutcomeOK             = "OK"
	OutcomeStepFailed     = "STEP_FAILED"
	OutcomeBarrierTimeout = "BARRIER_TIMEOUT"
)

// Header is embedded in every message.
type Header struct {
	Version uint32 `json:"version"`
}

// NewHeader returns the header of the current protocol version.
func NewHeader() Header {
	return Header{Version: ProtocolVersion}
}

// GetVersion returns the protocol version of the message.
func (h Header) GetVersion() uint32 {
	return h.Version
}

type HandshakeRequest struct {
	Header
	ClientID string `json:"clientId"`
}

type HandshakeResponse struct {
	Header
	ClusterSize int                  `json:"clusterSize"`
	Profile     string               `json:"profile"`
	State       cluster.ClusterState `json:"state"`
}

type StatusRequest struct {
	Header
}

type StatusResponse struct {
	Header
	Status cluster.ClusterStatus `json:"status"`
}

type RunRequest struct {
	Header
	RequestID uint64 `json:"requestId"`
	NumSteps  int    `json:"numSteps"`
}

// RunResponse carries the reports of every step that ran. Outcome is not OK
// when the last report is of a failed step, Error then describes the
// failure.
type RunResponse struct {
	Header
	Outcome string               `json:"outcome"`
	Error   string               `json:"error,omitempty"`
	Reports []cluster.StepReport `json:"reports"`
}

type ResetRequest struct {
	Header
}

type ResetResponse struct {
	Header
	State cluster.ClusterState `json:"state"`
}

type RegisterRankRequest struct {
	Header
	Rank int `json:"rank"`
}

// AwaitStepRequest waits at most Wait for a step newer than After.
type AwaitStepRequest struct {
	Header
	Rank  int           `json:"rank"`
	After uint64        `json:"after"`
	Wait  time.Duration `json:"wait"`
}

// AwaitStepResponse has a zero Step when no step opened within the wait.
type AwaitStepResponse struct {
	Header
	Step uint64 `json:"step"`
}

type ArriveRequest struct {
	Header
	Rank  int           `json:"rank"`
	Step  uint64        `json:"step"`
	Phase barrier.Phase `json:"phase"`
}

// ReportRequest carries the write of a rank. A non empty Error means the
// write failed.
type ReportRequest struct {
	Header
	Rank     int           `json:"rank"`
	Step     uint64        `json:"step"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Ack struct {
	Header
}

// CheckVersion returns ErrVersionMismatch unless version is ProtocolVersion.
func CheckVersion(version uint32) error {
	if version != ProtocolVersion {
		return errors.Wrapf(ErrVersionMismatch, "peer speaks version %d, "+
			"expected %d", version, ProtocolVersion)
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package comms

// errors.go maps the error taxonomy onto gRPC statuses and back

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain is the domain of the ErrorInfo attached to every status
const ErrorDomain = "ckptbench"

// ErrVersionMismatch is returned when peers speak different protocol
// versions
var ErrVersionMismatch = errors.New("protocol version mismatch")

type mapping struct {
	err    error
	code   codes.Code
	reason string
}

// mappings lists the wire representation of every taxonomy error. Internal
// failures are the fallback and come last.
var mappings = []mapping{
	{cluster.ErrNotReady, codes.FailedPrecondition, "NOT_READY"},
	{cluster.ErrBusy, codes.ResourceExhausted, "BUSY"},
	{cluster.ErrBarrierTimeout, codes.Aborted, "BARRIER_TIMEOUT"},
	{cluster.ErrStepFailed, codes.Aborted, "STEP_FAILED"},
	{cluster.ErrDuplicateRank, codes.AlreadyExists, "DUPLICATE_RANK"},
	{cluster.ErrCapacityExceeded, codes.OutOfRange, "CAPACITY_EXCEEDED"},
	{cluster.ErrUnknownRank, codes.NotFound, "UNKNOWN_RANK"},
	{cluster.ErrStaleReport, codes.FailedPrecondition, "STALE_REPORT"},
	{cluster.ErrWriteFailure, codes.DataLoss, "WRITE_FAILURE"},
	{cluster.ErrInvalidRequest, codes.InvalidArgument, "INVALID_REQUEST"},
	{ErrVersionMismatch, codes.Unimplemented, "VERSION_MISMATCH"},
	{cluster.ErrInternalFailure, codes.Internal, "INTERNAL_FAILURE"},
}

func lookup(err error) mapping {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m
		}
	}
	return mappings[len(mappings)-1]
}

// Reason returns the wire reason of err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Reason
	}
	return lookup(err).reason
}

// ToStatus converts an error into a gRPC status error carrying an ErrorInfo
// with its reason. Errors that already are statuses are passed through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	m := lookup(err)
	s, detailErr := status.New(m.code, err.Error()).WithDetails(
		&errdetails.ErrorInfo{
			Reason: m.reason,
			Domain: ErrorDomain,
		})
	if detailErr != nil {
		jww.WARN.Printf("Could not attach the reason of %v: %v", err,
			detailErr)
		return status.Error(m.code, err.Error())
	}

	return s.Err()
}

// RemoteError is an error returned by the remote end of a call. It unwraps
// to the taxonomy error its reason names.
type RemoteError struct {
	Code    codes.Code
	Reason  string
	Message string
	err     error
}

func (re *RemoteError) Error() string {
	return re.Message
}

func (re *RemoteError) Unwrap() error {
	return re.err
}

// FromStatus converts a status error produced by ToStatus back into an
// error that errors.Is recognises as its taxonomy error. Errors without a
// reason are returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}

	s, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, d := range s.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		for _, m := range mappings {
			if m.reason == info.GetReason() {
				return &RemoteError{
					Code:    s.Code(),
					Reason:  m.reason,
					Message: s.Message(),
					err:     m.err,
				}
			}
		}
	}

	return err
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package conf

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
	"strconv"
	"strings"
	"time"
)

// Default worker settings
const (
	DefaultCallTimeout = 10 * time.Second
	DefaultPollWait    = 10 * time.Second
)

// WorkerParams is used by a worker process hosting remote ranks
type WorkerParams struct {
	// Address of the benchmark server
	Server string `yaml:"server"`
	// Ranks hosted by the worker
	Ranks      []int      `yaml:"ranks"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	// Bound of calls that do not wait on the cluster
	CallTimeout time.Duration `yaml:"callTimeout"`
	// Wait of a single AwaitStep long poll
	PollWait time.Duration `yaml:"pollWait"`
}

// NewWorkerParams reads the worker params from a viper object. The model is
// optional for workers, an empty model follows the server.
func NewWorkerParams(vip *viper.Viper) (*WorkerParams, error) {
	params := WorkerParams{
		Server:      vip.GetString("server"),
		CallTimeout: durationOr(vip, "callTimeout", DefaultCallTimeout),
		PollWait:    durationOr(vip, "pollWait", DefaultPollWait),
	}

	if params.Server == "" {
		return nil, errors.New("server must be set")
	}
	for _, s := range vip.GetStringSlice("workerRanks") {
		rank, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid rank %q", s)
		}
		params.Ranks = append(params.Ranks, rank)
	}
	if len(params.Ranks) == 0 {
		return nil, errors.New("a worker must host at least one rank")
	}

	slices.Sort(params.Ranks)
	for i, rank := range params.Ranks {
		if rank < 0 {
			return nil, errors.Errorf("invalid rank %d", rank)
		}
		if i > 0 && params.Ranks[i-1] == rank {
			return nil, errors.Errorf("rank %d listed twice", rank)
		}
	}

	var err error
	params.Checkpoint, err = newCheckpoint(vip)
	if err != nil {
		return nil, err
	}
	if !vip.IsSet("model") {
		params.Checkpoint.Model = ""
	}

	if params.CallTimeout <= 0 || params.PollWait <= 0 {
		return nil, errors.New("callTimeout and pollWait must be positive")
	}
	return &params, nil
}

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
	"net"
	"strconv"
	"time"
)

// Defaults of the server
const (
	DefaultPort             = 8080
	DefaultBarrierTimeout   = 2 * time.Minute
	DefaultWriteTimeout     = 30 * time.Minute
	DefaultMaxAwaitWait     = 30 * time.Second
	DefaultResourceInterval = 5 * time.Second
)

// This object is used by the server instance.
// It should be constructed using a viper object
type Params struct {
	Server     Server     `yaml:"server"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Metrics    Metrics    `yaml:"metrics"`

	ExitOnFailure bool `yaml:"exitOnFailure"`
}

// Server holds where the server listens and the ranks it hosts
type Server struct {
	ListeningAddress string `yaml:"listeningAddress"`
	Port             int    `yaml:"port"`
	// Number of ranks in the cluster
	Ranks int `yaml:"ranks"`
	// Number of ranks hosted by the server process
	LocalRanks int `yaml:"localRanks"`
}

// Address returns the address the server listens on
func (s Server) Address() string {
	return net.JoinHostPort(s.ListeningAddress, strconv.Itoa(s.Port))
}

// Timeouts of a step
type Timeouts struct {
	// Bound of the wait for every rank at the start of a step
	Barrier time.Duration `yaml:"barrier"`
	// Bound of the write of the slowest rank
	Write time.Duration `yaml:"write"`
	// Bound of a single AwaitStep long poll of a remote rank
	MaxAwaitWait time.Duration `yaml:"maxAwaitWait"`
}

// Metrics configures the resource sampling
type Metrics struct {
	// 0 disables resource sampling
	ResourceInterval time.Duration `yaml:"resourceInterval"`
}

// NewParams gets elements of the viper object
// and updates the params object. It returns params
// unless it fails to parse in which it case returns error
func NewParams(vip *viper.Viper) (*Params, error) {
	params := Params{}

	params.Server.ListeningAddress = vip.GetString("address")
	if params.Server.ListeningAddress == "" {
		params.Server.ListeningAddress = "0.0.0.0"
	}
	params.Server.Port = vip.GetInt("port")
	if params.Server.Port == 0 {
		params.Server.Port = DefaultPort
	}

	params.Server.Ranks = vip.GetInt("ranks")
	if params.Server.Ranks < 1 {
		return nil, errors.Errorf("ranks must be at least 1, is %d",
			params.Server.Ranks)
	}
	params.Server.LocalRanks = params.Server.Ranks
	if vip.IsSet("localRanks") {
		params.Server.LocalRanks = vip.GetInt("localRanks")
	}
	if params.Server.LocalRanks < 0 ||
		params.Server.LocalRanks > params.Server.Ranks {
		return nil, errors.Errorf("localRanks must be between 0 and %d, "+
			"is %d", params.Server.Ranks, params.Server.LocalRanks)
	}

	var err error
	params.Checkpoint, err = newCheckpoint(vip)
	if err != nil {
		return nil, err
	}

	params.Timeouts.Barrier = durationOr(vip, "barrierTimeout",
		DefaultBarrierTimeout)
	params.Timeouts.Write = durationOr(vip, "writeTimeout",
		DefaultWriteTimeout)
	params.Timeouts.MaxAwaitWait = durationOr(vip, "maxAwaitWait",
		DefaultMaxAwaitWait)
	if params.Timeouts.Barrier <= 0 || params.Timeouts.Write <= 0 ||
		params.Timeouts.MaxAwaitWait <= 0 {
		return nil, errors.Errorf("timeouts must be positive: %+v",
			params.Timeouts)
	}

	params.Metrics.ResourceInterval = durationOr(vip, "resourceInterval",
		DefaultResourceInterval)
	params.ExitOnFailure = vip.GetBool("exitOnFailure")

	return &params, nil
}

// durationOr returns the duration of key, or def if it is not set
func durationOr(vip *viper.Viper, key string, def time.Duration) time.Duration {
	if !vip.IsSet(key) {
		return def
	}
	return vip.GetDuration(key)
}

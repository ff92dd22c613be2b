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

// Default client settings
const (
	DefaultServerIP   = "127.0.0.1"
	DefaultResultsDir = "/tmp/checkpoint_bench"
	DefaultWaitReady  = time.Minute
)

// ClientParams is used by the benchmark client
type ClientParams struct {
	ServerIP             string        `yaml:"serverIp"`
	Port                 int           `yaml:"port"`
	ClientID             string        `yaml:"clientId"`
	NumSteps             int           `yaml:"numSteps"`
	NumPasses            int           `yaml:"numPasses"`
	InterCheckpointSleep time.Duration `yaml:"interCheckpointSleep"`
	ResultsDir           string        `yaml:"resultsDir"`
	// Bound of a single run call, 0 waits forever
	Timeout   time.Duration `yaml:"timeout"`
	WaitReady time.Duration `yaml:"waitReady"`
	Output    string        `yaml:"output"`
}

// Address returns the address of the server
func (cp ClientParams) Address() string {
	return net.JoinHostPort(cp.ServerIP, strconv.Itoa(cp.Port))
}

// NewClientParams reads the client params from a viper object
func NewClientParams(vip *viper.Viper) (*ClientParams, error) {
	params := ClientParams{
		ServerIP:             vip.GetString("serverIp"),
		Port:                 vip.GetInt("port"),
		ClientID:             vip.GetString("clientId"),
		NumSteps:             vip.GetInt("numSteps"),
		NumPasses:            vip.GetInt("numPasses"),
		InterCheckpointSleep: vip.GetDuration("interCheckpointSleep"),
		ResultsDir:           vip.GetString("resultsDir"),
		Timeout:              vip.GetDuration("timeout"),
		WaitReady:            durationOr(vip, "waitReady", DefaultWaitReady),
		Output:               vip.GetString("output"),
	}

	if params.ServerIP == "" {
		params.ServerIP = DefaultServerIP
	}
	if params.Port == 0 {
		params.Port = DefaultPort
	}
	if params.ClientID == "" {
		params.ClientID = "ckptbench-client"
	}
	if !vip.IsSet("numSteps") {
		params.NumSteps = 1
	}
	if !vip.IsSet("numPasses") {
		params.NumPasses = 1
	}
	if params.ResultsDir == "" {
		params.ResultsDir = DefaultResultsDir
	}
	if params.Output == "" {
		params.Output = "text"
	}

	if params.NumSteps < 1 || params.NumPasses < 1 {
		return nil, errors.Errorf("numSteps and numPasses must be at "+
			"least 1, are %d and %d", params.NumSteps, params.NumPasses)
	}
	if params.InterCheckpointSleep < 0 || params.Timeout < 0 {
		return nil, errors.New("durations cannot be negative")
	}
	if params.Output != "text" && params.Output != "yaml" {
		return nil, errors.Errorf("unknown output format %q", params.Output)
	}

	return &params, nil
}

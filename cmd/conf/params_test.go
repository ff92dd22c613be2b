///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package conf

import (
	"github.com/spf13/viper"
	"reflect"
	"testing"
	"time"
)

func readTestConfig(t *testing.T) *viper.Viper {
	vip := viper.New()
	vip.SetConfigFile("ckptbench.yaml")
	if err := vip.ReadInConfig(); err != nil {
		t.Fatalf("Failed to read in ckptbench.yaml into viper: %+v", err)
	}
	return vip
}

func TestNewParams_ReturnsParamsWhenGivenValidViper(t *testing.T) {
	expectedParams := &Params{
		Server: Server{
			ListeningAddress: "127.0.0.1",
			Port:             9090,
			Ranks:            8,
			LocalRanks:       6,
		},
		Checkpoint: Checkpoint{
			Model:        "megatron",
			Location:     "mem://",
			Profiles:     "profiles.yaml",
			WriteRetries: 2,
		},
		Timeouts: Timeouts{
			Barrier:      90 * time.Second,
			Write:        10 * time.Minute,
			MaxAwaitWait: 5 * time.Second,
		},
		ExitOnFailure: true,
	}

	params, err := NewParams(readTestConfig(t))
	if err != nil {
		t.Fatalf("Failed in unmarshaling from viper object: %+v", err)
	}

	if !reflect.DeepEqual(expectedParams, params) {
		t.Errorf("Params do not match"+
			"\n\texpected: %+v\n\treceived: %+v", expectedParams, params)
	}
	if params.Server.Address() != "127.0.0.1:9090" {
		t.Errorf("Wrong address: %s", params.Server.Address())
	}
}

func TestNewParams_Defaults(t *testing.T) {
	vip := viper.New()
	vip.Set("ranks", 4)

	params, err := NewParams(vip)
	if err != nil {
		t.Fatalf("NewParams failed: %+v", err)
	}

	expected := &Params{
		Server: Server{ListeningAddress: "0.0.0.0", Port: DefaultPort,
			Ranks: 4, LocalRanks: 4},
		Checkpoint: Checkpoint{Model: DefaultModel,
			Location: DefaultLocation},
		Timeouts: Timeouts{Barrier: DefaultBarrierTimeout,
			Write: DefaultWriteTimeout, MaxAwaitWait: DefaultMaxAwaitWait},
		Metrics: Metrics{ResourceInterval: DefaultResourceInterval},
	}
	if !reflect.DeepEqual(expected, params) {
		t.Errorf("Default params do not match"+
			"\n\texpected: %+v\n\treceived: %+v", expected, params)
	}
}

func TestNewParams_Invalid(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"no ranks":           {},
		"too many local":     {"ranks": 2, "localRanks": 3},
		"negative local":     {"ranks": 2, "localRanks": -1},
		"zero barrier":       {"ranks": 2, "barrierTimeout": "0s"},
		"negative retries":   {"ranks": 2, "writeRetries": -1},
		"negative long poll": {"ranks": 2, "maxAwaitWait": "-1s"},
	}

	for name, values := range tests {
		vip := viper.New()
		for k, v := range values {
			vip.Set(k, v)
		}
		if _, err := NewParams(vip); err == nil {
			t.Errorf("%s: NewParams should fail", name)
		}
	}
}

func TestNewClientParams(t *testing.T) {
	params, err := NewClientParams(readTestConfig(t))
	if err != nil {
		t.Fatalf("NewClientParams failed: %+v", err)
	}

	expected := &ClientParams{
		ServerIP:             "10.0.0.1",
		Port:                 9090,
		ClientID:             "ckptbench-client",
		NumSteps:             4,
		NumPasses:            2,
		InterCheckpointSleep: time.Second,
		ResultsDir:           "/data/results",
		Timeout:              time.Hour,
		WaitReady:            DefaultWaitReady,
		Output:               "yaml",
	}
	if !reflect.DeepEqual(expected, params) {
		t.Errorf("Client params do not match"+
			"\n\texpected: %+v\n\treceived: %+v", expected, params)
	}
	if params.Address() != "10.0.0.1:9090" {
		t.Errorf("Wrong address: %s", params.Address())
	}
}

func TestNewClientParams_Invalid(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"zero steps":      {"numSteps": 0},
		"zero passes":     {"numPasses": 0},
		"negative sleep":  {"interCheckpointSleep": "-1s"},
		"unknown output":  {"output": "xml"},
		"negative bounds": {"timeout": "-1m"},
	}

	for name, values := range tests {
		vip := viper.New()
		for k, v := range values {
			vip.Set(k, v)
		}
		if _, err := NewClientParams(vip); err == nil {
			t.Errorf("%s: NewClientParams should fail", name)
		}
	}
}

func TestNewWorkerParams(t *testing.T) {
	params, err := NewWorkerParams(readTestConfig(t))
	if err != nil {
		t.Fatalf("NewWorkerParams failed: %+v", err)
	}

	expected := &WorkerParams{
		Server: "10.0.0.1:9090",
		Ranks:  []int{6, 7},
		Checkpoint: Checkpoint{
			Model:        "megatron",
			Location:     "mem://",
			Profiles:     "profiles.yaml",
			WriteRetries: 2,
		},
		CallTimeout: DefaultCallTimeout,
		PollWait:    2 * time.Second,
	}
	if !reflect.DeepEqual(expected, params) {
		t.Errorf("Worker params do not match"+
			"\n\texpected: %+v\n\treceived: %+v", expected, params)
	}
}

func TestNewWorkerParams_Invalid(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"no server":      {"workerRanks": []string{"1"}},
		"no ranks":       {"server": "a:1"},
		"duplicate rank": {"server": "a:1", "workerRanks": []string{"1", "1"}},
		"negative rank":  {"server": "a:1", "workerRanks": []string{"-1"}},
		"not a rank":     {"server": "a:1", "workerRanks": []string{"one"}},
	}

	for name, values := range tests {
		vip := viper.New()
		for k, v := range values {
			vip.Set(k, v)
		}
		if _, err := NewWorkerParams(vip); err == nil {
			t.Errorf("%s: NewWorkerParams should fail", name)
		}
	}
}

// Tests that the model of a worker follows the server unless it is set
func TestNewWorkerParams_Model(t *testing.T) {
	vip := viper.New()
	vip.Set("server", "a:1")
	vip.Set("workerRanks", []string{"3"})

	params, err := NewWorkerParams(vip)
	if err != nil {
		t.Fatalf("NewWorkerParams failed: %+v", err)
	}
	if params.Checkpoint.Model != "" {
		t.Errorf("Model should follow the server, is %q",
			params.Checkpoint.Model)
	}
}

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
)

// Default checkpoint settings
const (
	DefaultModel    = "llama3-7b"
	DefaultLocation = "/tmp/checkpoint_bench/checkpoints"
)

// Contains the checkpoint config params shared by the server and the worker
type Checkpoint struct {
	// Name of the model profile
	Model string `yaml:"model"`
	// Directory the checkpoints are written to, or mem://
	Location string `yaml:"location"`
	// Optional yaml file of extra profiles
	Profiles string `yaml:"profiles"`
	// Number of times a failed write is retried
	WriteRetries uint64 `yaml:"writeRetries"`
}

func newCheckpoint(vip *viper.Viper) (Checkpoint, error) {
	c := Checkpoint{
		Model:        vip.GetString("model"),
		Location:     vip.GetString("checkpointLocation"),
		Profiles:     vip.GetString("profiles"),
		WriteRetries: vip.GetUint64("writeRetries"),
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Location == "" {
		c.Location = DefaultLocation
	}
	if vip.GetInt("writeRetries") < 0 {
		return Checkpoint{}, errors.Errorf("writeRetries cannot be "+
			"negative, is %d", vip.GetInt("writeRetries"))
	}
	return c, nil
}

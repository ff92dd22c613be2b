///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package checkpoint defines the model profiles the benchmark can emulate,
// the shard each rank writes for a profile and the writer that puts shards
// on storage.
package checkpoint

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
	"strings"
)

// Checkpoint types
const (
	// AllRanks has every rank write its own shard
	AllRanks = "all_ranks"
	// RankZero has rank 0 write the whole checkpoint
	RankZero = "rank_zero"
)

const (
	defaultModelBytesPerParam     = 2
	defaultOptimizerBytesPerParam = 4
)

// Profile describes the shape of a model checkpoint.
type Profile struct {
	Name      string `yaml:"name"`
	NumLayers int    `yaml:"numLayers"`
	// hidden size of the model, informational
	ModelSize int `yaml:"modelSize"`
	// parameter counts of the optimizer state groups
	OptimizationGroups []int64 `yaml:"optimizationGroups"`
	// parameter counts of the tensors of one layer
	LayerParameters     []int64 `yaml:"layerParameters"`
	TensorParallelism   int     `yaml:"tensorParallelism"`
	PipelineParallelism int     `yaml:"pipelineParallelism"`
	CheckpointType      string  `yaml:"checkpointType"`

	ModelBytesPerParam     int64 `yaml:"modelBytesPerParam"`
	OptimizerBytesPerParam int64 `yaml:"optimizerBytesPerParam"`
}

// Plan is the part of a checkpoint one rank writes.
type Plan struct {
	Rank int `json:"rank" yaml:"rank"`
	// pipeline stage and tensor slice the rank holds
	Stage       int   `json:"stage" yaml:"stage"`
	TensorSlice int   `json:"tensorSlice" yaml:"tensorSlice"`
	Layers      int   `json:"layers" yaml:"layers"`
	ModelBytes  int64 `json:"modelBytes" yaml:"modelBytes"`
	// optimizer state is sharded over every rank of the cluster
	OptimizerBytes int64 `json:"optimizerBytes" yaml:"optimizerBytes"`
}

// Bytes is the total size of the plan.
func (p Plan) Bytes() int64 {
	return p.ModelBytes + p.OptimizerBytes
}

// Empty reports whether the rank writes nothing.
func (p Plan) Empty() bool {
	return p.Bytes() == 0
}

// Validate checks that the profile can produce plans. Zero bytes per param
// are replaced with the defaults.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile has no name")
	}
	if p.NumLayers < 1 {
		return errors.Errorf("profile %s must have at least one layer",
			p.Name)
	}
	if p.TensorParallelism < 1 || p.PipelineParallelism < 1 {
		return errors.Errorf("profile %s has invalid parallelism: tensor "+
			"%d, pipeline %d", p.Name, p.TensorParallelism,
			p.PipelineParallelism)
	}
	for _, n := range append(slices.Clone(p.LayerParameters),
		p.OptimizationGroups...) {
		if n < 0 {
			return errors.Errorf("profile %s has a negative parameter "+
				"count", p.Name)
		}
	}

	switch p.CheckpointType {
	case "":
		p.CheckpointType = AllRanks
	case AllRanks, RankZero:
	default:
		return errors.Errorf("profile %s has unknown checkpoint type %q",
			p.Name, p.CheckpointType)
	}

	if p.ModelBytesPerParam == 0 {
		p.ModelBytesPerParam = defaultModelBytesPerParam
	}
	if p.OptimizerBytesPerParam == 0 {
		p.OptimizerBytesPerParam = defaultOptimizerBytesPerParam
	}

	return nil
}

// Plan returns the shard rank writes in a cluster of size ranks. Ranks are
// laid out tensor slice first: rank r holds slice r%TP of stage
// (r/TP)%PP. Layers are spread over the stages with the remainder going to
// the first ones.
func (p Profile) Plan(rank, size int) (Plan, error) {
	if size < 1 || rank < 0 || rank >= size {
		return Plan{}, errors.Errorf("rank %d is outside of a cluster of "+
			"%d ranks", rank, size)
	}

	plan := Plan{Rank: rank}
	if p.CheckpointType == RankZero && rank != 0 {
		return plan, nil
	}

	tp, pp := int64(p.TensorParallelism), int64(p.PipelineParallelism)
	if p.CheckpointType == RankZero {
		// rank 0 writes every stage and every slice
		tp, pp = 1, 1
	}

	plan.TensorSlice = int(int64(rank) % tp)
	plan.Stage = int((int64(rank) / tp) % pp)

	layers := int64(p.NumLayers) / pp
	if int64(plan.Stage) < int64(p.NumLayers)%pp {
		layers++
	}
	plan.Layers = int(layers)

	var perLayer int64
	for _, n := range p.LayerParameters {
		perLayer += n
	}
	plan.ModelBytes = layers * perLayer / tp * p.ModelBytesPerParam

	var optimizer int64
	for _, n := range p.OptimizationGroups {
		optimizer += n
	}
	shards := int64(size)
	if p.CheckpointType == RankZero {
		shards = 1
	}
	plan.OptimizerBytes = optimizer * p.OptimizerBytesPerParam / shards

	return plan, nil
}

// Registry holds profiles by name.
type Registry map[string]Profile

// Builtin returns the profiles shipped with the benchmark.
func Builtin() Registry {
	return Registry{
		"megatron": {
			Name:                "megatron",
			NumLayers:           44,
			ModelSize:           30102,
			OptimizationGroups:  []int64{1_009_254, 865_075, 793},
			LayerParameters:     []int64{1_622_016, 262_144},
			TensorParallelism:   4,
			PipelineParallelism: 2,
			CheckpointType:      AllRanks,
		},
		"llama3-405b": {
			Name:                "llama3-405b",
			NumLayers:           80,
			ModelSize:           16384,
			OptimizationGroups:  []int64{1_009_254_400, 865_075_200, 793_600},
			LayerParameters:     []int64{4_358_152_160, 704_347_824},
			TensorParallelism:   4,
			PipelineParallelism: 2,
			CheckpointType:      AllRanks,
		},
		"llama3-7b": {
			Name:                "llama3-7b",
			NumLayers:           80,
			ModelSize:           16384,
			OptimizationGroups:  []int64{10_092_544, 8_650_752, 7_936},
			LayerParameters:     []int64{43_581_521, 7_043_478},
			TensorParallelism:   4,
			PipelineParallelism: 2,
			CheckpointType:      AllRanks,
		},
		"tiny": {
			Name:                "tiny",
			NumLayers:           4,
			ModelSize:           64,
			OptimizationGroups:  []int64{4096},
			LayerParameters:     []int64{1024, 256},
			TensorParallelism:   1,
			PipelineParallelism: 1,
			CheckpointType:      AllRanks,
		},
	}
}

// Get returns the validated profile called name.
func (r Registry) Get(name string) (Profile, error) {
	p, ok := r[strings.ToLower(name)]
	if !ok {
		return Profile{}, errors.Errorf("unknown model profile %q, known "+
			"profiles are %v", name, r.Names())
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Names returns the sorted profile names.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// profileFile is the layout of a profiles yaml file
type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// ParseProfiles decodes a yaml list of profiles and adds them to the
// registry, replacing profiles with the same name.
func (r Registry) ParseProfiles(data []byte) error {
	pf := profileFile{}
	if err := yaml.UnmarshalStrict(data, &pf); err != nil {
		return errors.Wrap(err, "could not parse profiles")
	}

	for _, p := range pf.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		r[strings.ToLower(p.Name)] = p
	}
	return nil
}

// LoadProfiles reads a profiles yaml file from fs into the registry.
func (r Registry) LoadProfiles(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.Wrapf(err, "could not read profiles file %s", path)
	}
	return errors.WithMessagef(r.ParseProfiles(data), "profiles file %s",
		path)
}

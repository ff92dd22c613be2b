///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package client

// results.go writes the results of a benchmark to a CSV file and summarises
// them for the terminal

import (
	"encoding/csv"
	"fmt"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	ResultsFile     = "checkpoint_bench_results.csv"
	timestampFormat = "20060102-150405"
)

// Output formats of the summary
const (
	OutputText = "text"
	OutputYAML = "yaml"
)

var csvHeader = []string{
	"pass", "step", "num_steps", "num_passes", "step_id", "request_id",
	"success", "timed_out", "checkpoint_time", "barrier_wait", "max",
	"min", "mean", "failed_ranks", "rank_durations", "disk_write_bytes",
	"disk_read_bytes", "started",
}

// WriteResults writes the results to a CSV file in a timestamped directory
// under dir and returns the path of the file.
func WriteResults(fs afero.Fs, dir string, started time.Time,
	results []Result) (string, error) {
	runDir := filepath.Join(dir, started.Format(timestampFormat))
	if err := fs.MkdirAll(runDir, 0755); err != nil {
		return "", errors.Wrapf(err, "could not create %s", runDir)
	}

	path := filepath.Join(runDir, ResultsFile)
	f, err := fs.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err = w.Write(csvHeader); err != nil {
		return "", errors.Wrapf(err, "could not write %s", path)
	}
	for _, res := range results {
		if err = w.Write(csvRecord(res)); err != nil {
			return "", errors.Wrapf(err, "could not write %s", path)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return "", errors.Wrapf(err, "could not write %s", path)
	}

	return path, nil
}

func csvRecord(res Result) []string {
	r := res.Report

	failed := make([]string, len(r.FailedRanks))
	for i, rank := range r.FailedRanks {
		failed[i] = strconv.Itoa(rank)
	}

	return []string{
		strconv.Itoa(res.Pass),
		strconv.Itoa(res.Step),
		strconv.Itoa(res.NumSteps),
		strconv.Itoa(res.NumPasses),
		strconv.FormatUint(r.StepID, 10),
		strconv.FormatUint(r.RequestID, 10),
		strconv.FormatBool(r.Success),
		strconv.FormatBool(r.TimedOut),
		seconds(r.CheckpointTime),
		seconds(r.BarrierWait),
		seconds(r.Max),
		seconds(r.Min),
		seconds(r.Mean),
		strings.Join(failed, ";"),
		rankDurations(r.PerRank),
		strconv.FormatUint(r.Resources.DiskWriteBytes, 10),
		strconv.FormatUint(r.Resources.DiskReadBytes, 10),
		r.Started.Format(time.RFC3339Nano),
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// rankDurations lists the durations in rank order as rank:seconds
func rankDurations(perRank map[int]time.Duration) string {
	ranks := make([]int, 0, len(perRank))
	for rank := range perRank {
		ranks = append(ranks, rank)
	}
	slices.Sort(ranks)

	entries := make([]string, len(ranks))
	for i, rank := range ranks {
		entries[i] = fmt.Sprintf("%d:%s", rank, seconds(perRank[rank]))
	}
	return strings.Join(entries, ";")
}

// StepSummary is one step of a Summary
type StepSummary struct {
	Pass           int            `yaml:"pass"`
	Step           int            `yaml:"step"`
	StepID         uint64         `yaml:"stepId"`
	Outcome        string         `yaml:"outcome"`
	CheckpointTime time.Duration  `yaml:"checkpointTime"`
	Max            time.Duration  `yaml:"max"`
	Min            time.Duration  `yaml:"min"`
	Mean           time.Duration  `yaml:"mean"`
	PerRank        map[int]string `yaml:"perRank"`
}

// Summary is printed at the end of a benchmark
type Summary struct {
	Steps     int           `yaml:"steps"`
	Succeeded int           `yaml:"succeeded"`
	Mean      time.Duration `yaml:"mean"`
	Min       time.Duration `yaml:"min"`
	Max       time.Duration `yaml:"max"`
	StdDev    time.Duration `yaml:"stdDev"`
	Results   string        `yaml:"results,omitempty"`
	PerStep   []StepSummary `yaml:"perStep"`
}

// Summarize aggregates the checkpoint times of the successful steps
func Summarize(results []Result, resultsPath string) Summary {
	s := Summary{Steps: len(results), Results: resultsPath}

	var times []time.Duration
	for _, res := range results {
		r := res.Report
		if r.Success {
			times = append(times, r.CheckpointTime)
		}

		// fields and the Outcome method are copied by name
		step := StepSummary{Pass: res.Pass, Step: res.Step}
		if err := copier.Copy(&step, &r); err != nil {
			jww.WARN.Printf("Could not summarize step %d: %v", r.StepID, err)
		}
		step.PerRank = make(map[int]string, len(r.PerRank))
		for rank, d := range r.PerRank {
			step.PerRank[rank] = d.String()
		}
		s.PerStep = append(s.PerStep, step)
	}

	stats := measure.Summarize(times)
	s.Succeeded = stats.Count
	s.Mean, s.Min, s.Max, s.StdDev = stats.Mean, stats.Min, stats.Max,
		stats.StdDev
	return s
}

// Print writes the summary in the given output format
func (s Summary) Print(w io.Writer, format string) error {
	switch format {
	case OutputYAML:
		data, err := yaml.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "could not marshal the summary")
		}
		_, err = w.Write(data)
		return errors.WithStack(err)
	case OutputText, "":
		return errors.WithStack(s.printText(w))
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func (s Summary) printText(w io.Writer) error {
	for _, step := range s.PerStep {
		if _, err := fmt.Fprintf(w, "pass %d step %d (step %d): %s, "+
			"checkpoint %s, max %s, min %s, mean %s\n", step.Pass, step.Step,
			step.StepID, step.Outcome, step.CheckpointTime, step.Max,
			step.Min, step.Mean); err != nil {
			return err
		}

		ranks := make([]int, 0, len(step.PerRank))
		for rank := range step.PerRank {
			ranks = append(ranks, rank)
		}
		slices.Sort(ranks)
		for _, rank := range ranks {
			if _, err := fmt.Fprintf(w, "\trank %d: %s\n", rank,
				step.PerRank[rank]); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "%d of %d steps succeeded, checkpoint time "+
		"mean %s, min %s, max %s, stdev %s\n", s.Succeeded, s.Steps, s.Mean,
		s.Min, s.Max, s.StdDev)
	if err == nil && s.Results != "" {
		_, err = fmt.Fprintf(w, "results written to %s\n", s.Results)
	}
	return err
}

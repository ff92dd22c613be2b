///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package internal

// metrics.go contains the default metrics handler, which summarises every
// step of the process in the log when the server shuts down

import (
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"time"
)

// StepMetrics is the summary of the checkpoint times of a set of steps
type StepMetrics struct {
	Steps  int
	Failed int
	// CheckpointTimes of the successful steps in step order
	CheckpointTimes []time.Duration
	Summary         measure.Summary
	// Total bytes written to disk during the steps, when sampled
	DiskWriteBytes uint64
}

// SummarizeSteps reduces a step history to its metrics. Only successful
// steps contribute checkpoint times.
func SummarizeSteps(history []cluster.StepReport) StepMetrics {
	m := StepMetrics{Steps: len(history)}
	for _, r := range history {
		m.DiskWriteBytes += r.Resources.DiskWriteBytes
		if !r.Success {
			m.Failed++
			continue
		}
		m.CheckpointTimes = append(m.CheckpointTimes, r.CheckpointTime)
	}
	m.Summary = measure.Summarize(m.CheckpointTimes)
	return m
}

// LogMetrics is a MetricsHandler printing the METRIC lines of every step the
// process ran.
func LogMetrics(i *Instance) error {
	m := SummarizeSteps(i.GetController().History())

	jww.INFO.Printf("METRIC - steps: %d, failed: %d", m.Steps, m.Failed)
	if m.Summary.Count == 0 {
		jww.INFO.Printf("METRIC - no successful checkpoints")
		return nil
	}

	jww.INFO.Printf("METRIC - checkpoint times: %v", m.CheckpointTimes)
	jww.INFO.Printf("METRIC - mean: %s", m.Summary.Mean)
	jww.INFO.Printf("METRIC - min & max: %s, %s", m.Summary.Min,
		m.Summary.Max)
	jww.INFO.Printf("METRIC - stdev: %s", m.Summary.StdDev)
	if m.DiskWriteBytes > 0 {
		jww.INFO.Printf("METRIC - disk written: %d bytes", m.DiskWriteBytes)
	}
	return nil
}

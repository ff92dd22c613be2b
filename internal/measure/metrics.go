///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package measure records timestamps and resource usage over the life of a
// checkpoint step.
package measure

// metrics.go contains the metrics object and its methods

import (
	"sync"
	"time"
)

// Metrics structure holds the list of events recorded for a step. The RWMutex
// prevents two threads from writing to the list at the same time.
type Metrics struct {
	Events []Metric
	sync.RWMutex
}

// Metric structure holds a single measurement, which contains a tag and a
// timestamp from when the measurement was taken.
type Metric struct {
	Tag       string    `json:"tag" yaml:"tag"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Measure creates a new Metric object and appends it to the Metrics's event
// list. The Metric object is created from the specified tag and a timestamp
// created at the time of function call. The timestamp is returned.
func (ms *Metrics) Measure(tag string) time.Time {
	metric := Metric{
		Tag:       tag,
		Timestamp: time.Now(),
	}

	ms.Lock()
	ms.Events = append(ms.Events, metric)
	ms.Unlock()

	return metric.Timestamp
}

// GetEvents returns a copy of the Events array.
func (ms *Metrics) GetEvents() []Metric {
	ms.RLock()
	defer ms.RUnlock()
	metricsEvents := make([]Metric, len(ms.Events))

	copy(metricsEvents, ms.Events)

	return metricsEvents
}

// Elapsed returns the time between the first events tagged from and to. The
// boolean is false if either tag was never measured.
func (ms *Metrics) Elapsed(from, to string) (time.Duration, bool) {
	ms.RLock()
	defer ms.RUnlock()

	var start, end *Metric
	for i := range ms.Events {
		if start == nil && ms.Events[i].Tag == from {
			start = &ms.Events[i]
		}
		if end == nil && ms.Events[i].Tag == to {
			end = &ms.Events[i]
		}
	}

	if start == nil || end == nil {
		return 0, false
	}

	return end.Timestamp.Sub(start.Timestamp), true
}

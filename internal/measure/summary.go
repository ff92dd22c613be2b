///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package measure

// summary.go reduces a list of durations to the statistics reported at the
// end of a run

import (
	"github.com/cznic/mathutil"
	"math"
	"time"
)

// Summary holds the population statistics of a list of durations.
type Summary struct {
	Count  int
	Mean   time.Duration
	Min    time.Duration
	Max    time.Duration
	StdDev time.Duration
}

// Summarize computes the mean, min, max and population standard deviation
// of the durations. An empty list returns the zero Summary.
func Summarize(durations []time.Duration) Summary {
	if len(durations) == 0 {
		return Summary{}
	}

	min, max := int64(durations[0]), int64(durations[0])
	var total float64
	for _, d := range durations {
		min = mathutil.MinInt64(min, int64(d))
		max = mathutil.MaxInt64(max, int64(d))
		total += float64(d)
	}

	mean := total / float64(len(durations))

	var squares float64
	for _, d := range durations {
		diff := float64(d) - mean
		squares += diff * diff
	}

	return Summary{
		Count:  len(durations),
		Mean:   time.Duration(mean),
		Min:    time.Duration(min),
		Max:    time.Duration(max),
		StdDev: time.Duration(math.Sqrt(squares / float64(len(durations)))),
	}
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package client

import (
	"bytes"
	"encoding/csv"
	"github.com/spf13/afero"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gopkg.in/yaml.v2"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testResults() []Result {
	return []Result{
		{Pass: 1, Step: 1, NumSteps: 2, NumPasses: 1,
			Report: cluster.StepReport{
				StepID:         1,
				RequestID:      1,
				PerRank:        map[int]time.Duration{1: 2 * time.Second, 0: time.Second},
				Max:            2 * time.Second,
				Min:            time.Second,
				Mean:           1500 * time.Millisecond,
				CheckpointTime: 2 * time.Second,
				Success:        true,
			}},
		{Pass: 1, Step: 2, NumSteps: 2, NumPasses: 1,
			Report: cluster.StepReport{
				StepID:         2,
				RequestID:      1,
				PerRank:        map[int]time.Duration{0: time.Second},
				CheckpointTime: time.Second,
				FailedRanks:    []int{1, 2},
				TimedOut:       true,
			}},
	}
}

func TestWriteResults(t *testing.T) {
	fs := afero.NewMemMapFs()
	started := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)

	path, err := WriteResults(fs, "/tmp/bench", started, testResults())
	if err != nil {
		t.Fatalf("WriteResults failed: %+v", err)
	}

	expectedPath := filepath.Join("/tmp/bench", "20240301-123005",
		ResultsFile)
	if path != expectedPath {
		t.Errorf("Results written to the wrong file"+
			"\n\texpected: %v\n\treceived: %v", expectedPath, path)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("Could not read the results: %+v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("Results are not valid CSV: %+v", err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected a header and 2 rows, received %d", len(records))
	}
	if !reflect.DeepEqual(csvHeader, records[0]) {
		t.Errorf("Wrong header: %v", records[0])
	}

	row := make(map[string]string)
	for i, name := range records[1] {
		row[csvHeader[i]] = name
	}
	if row["checkpoint_time"] != "2.000000" || row["success"] != "true" ||
		row["rank_durations"] != "0:1.000000;1:2.000000" {
		t.Errorf("Unexpected first row: %v", row)
	}

	if records[2][13] != "1;2" || records[2][7] != "true" {
		t.Errorf("Unexpected second row: %v", records[2])
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(testResults(), "results.csv")

	if s.Steps != 2 || s.Succeeded != 1 {
		t.Errorf("Wrong counts: %+v", s)
	}
	if s.Mean != 2*time.Second || s.Min != 2*time.Second ||
		s.Max != 2*time.Second || s.StdDev != 0 {
		t.Errorf("Only the successful step should count: %+v", s)
	}
	first := s.PerStep[0]
	if first.Pass != 1 || first.Step != 1 || first.StepID != 1 ||
		first.Max != 2*time.Second || first.Mean != 1500*time.Millisecond ||
		first.Outcome != "succeeded" || first.PerRank[1] != "2s" {
		t.Errorf("Wrong step summary: %+v", first)
	}
	if s.PerStep[1].Outcome != "timed out, failed ranks [1 2]" {
		t.Errorf("Wrong outcome: %s", s.PerStep[1].Outcome)
	}
}

func TestSummary_Print(t *testing.T) {
	s := Summarize(testResults(), "results.csv")

	var text bytes.Buffer
	if err := s.Print(&text, OutputText); err != nil {
		t.Fatalf("Print failed: %+v", err)
	}
	for _, expected := range []string{"\trank 0: 1s\n", "\trank 1: 2s\n",
		"1 of 2 steps succeeded", "results written to results.csv"} {
		if !strings.Contains(text.String(), expected) {
			t.Errorf("Text summary is missing %q:\n%s", expected,
				text.String())
		}
	}

	var out bytes.Buffer
	if err := s.Print(&out, OutputYAML); err != nil {
		t.Fatalf("Print failed: %+v", err)
	}
	var decoded Summary
	if err := yaml.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("Summary is not valid yaml: %+v", err)
	}
	if !reflect.DeepEqual(s, decoded) {
		t.Errorf("Summary changed through yaml"+
			"\n\texpected: %+v\n\treceived: %+v", s, decoded)
	}

	if err := s.Print(&out, "xml"); err == nil {
		t.Errorf("Unknown formats should be refused")
	}
}

///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package io

import (
	"context"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal/barrier"
	"gitlab.com/elixxir/ckptbench/internal/checkpoint"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/worker"
	"sync"
	"testing"
	"time"
)

func TestReceiveRegisterRank(t *testing.T) {
	instance := mockInstance(t, 3, 1)

	err := ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 0}, instance)
	if !errors.Is(err, cluster.ErrDuplicateRank) {
		t.Errorf("Local rank should be refused with %v, received %v",
			cluster.ErrDuplicateRank, err)
	}

	if err = ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 2},
		instance); err != nil {
		t.Errorf("Remote rank failed to register: %+v", err)
	}
	// registering again is a no-op
	if err = ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 2},
		instance); err != nil {
		t.Errorf("Second registration failed: %+v", err)
	}

	err = ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 3}, instance)
	if !errors.Is(err, cluster.ErrCapacityExceeded) {
		t.Errorf("Rank 3 should be refused with %v, received %v",
			cluster.ErrCapacityExceeded, err)
	}
}

// Tests that the long poll returns an empty step once the server bound
// expires
func TestReceiveAwaitStep_NoStep(t *testing.T) {
	instance := mockInstance(t, 2, 0)
	if err := ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 1},
		instance); err != nil {
		t.Fatalf("RegisterRank failed: %+v", err)
	}

	start := time.Now()
	resp, err := ReceiveAwaitStep(context.Background(),
		&comms.AwaitStepRequest{Rank: 1, Wait: time.Hour}, instance)
	if err != nil {
		t.Fatalf("AwaitStep failed: %+v", err)
	}
	if resp.Step != 0 {
		t.Errorf("No step should be open, received step %d", resp.Step)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Wait was not bounded by the server: %s", elapsed)
	}

	_, err = ReceiveAwaitStep(context.Background(),
		&comms.AwaitStepRequest{Rank: 0, Wait: time.Millisecond}, instance)
	if !errors.Is(err, cluster.ErrUnknownRank) {
		t.Errorf("Unregistered rank should return %v, received %v",
			cluster.ErrUnknownRank, err)
	}
}

func TestReceiveReportResult_Stale(t *testing.T) {
	instance := mockInstance(t, 1, 0)
	if err := ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 0},
		instance); err != nil {
		t.Fatalf("RegisterRank failed: %+v", err)
	}

	err := ReceiveReportResult(&comms.ReportRequest{Rank: 0, Step: 1,
		Duration: time.Second}, instance)
	if !errors.Is(err, cluster.ErrStaleReport) {
		t.Errorf("Report outside of a step should return %v, received %v",
			cluster.ErrStaleReport, err)
	}
}

func TestReceiveArrive_NoStep(t *testing.T) {
	instance := mockInstance(t, 1, 0)
	if err := ReceiveRegisterRank(&comms.RegisterRankRequest{Rank: 0},
		instance); err != nil {
		t.Fatalf("RegisterRank failed: %+v", err)
	}

	err := ReceiveArrive(context.Background(), &comms.ArriveRequest{Rank: 0,
		Step: 4, Phase: barrier.EnterWrite}, instance)
	if !errors.Is(err, cluster.ErrStaleReport) {
		t.Errorf("Arrival outside of a step should return %v, received %v",
			cluster.ErrStaleReport, err)
	}
}

// Tests a cluster where one rank is hosted by another process and talks to
// the server over the rank service
func TestRemoteRank(t *testing.T) {
	instance := mockInstance(t, 2, 1)
	conn := startInstance(t, instance)

	profile, err := checkpoint.Builtin().Get("tiny")
	if err != nil {
		t.Fatalf("tiny profile missing: %+v", err)
	}
	fs := afero.NewMemMapFs()
	remote, err := worker.New(worker.Params{Rank: 1, Size: 2}, profile,
		comms.NewRankClient(conn, time.Second, 100*time.Millisecond),
		checkpoint.NewFsWriterOn(fs, 512))
	if err != nil {
		t.Fatalf("worker.New failed: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := remote.Run(ctx); err != nil {
			t.Errorf("Remote rank failed: %+v", err)
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	waitReady(t, instance)

	runCtx, runCancel := context.WithTimeout(context.Background(),
		10*time.Second)
	defer runCancel()
	resp, err := comms.NewControlClient(conn).Run(runCtx, 1, 2)
	if err != nil {
		t.Fatalf("Run failed: %+v", err)
	}
	if resp.Outcome != comms.OutcomeOK || len(resp.Reports) != 2 {
		t.Fatalf("Unexpected run response: %+v", resp)
	}
	for _, r := range resp.Reports {
		if _, ok := r.PerRank[1]; !ok {
			t.Errorf("Step %d has no duration for the remote rank: %+v",
				r.StepID, r)
		}
	}

	exists, err := afero.Exists(fs, checkpoint.ShardDir(2, 1))
	if err != nil || !exists {
		t.Errorf("Remote rank did not write step 2: %v, %+v", exists, err)
	}
}

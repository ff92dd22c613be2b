///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ckptbench/cmd/conf"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal/checkpoint"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/worker"
)

var workerKeys = map[string]string{
	"server":              "server",
	"ranks":               "workerRanks",
	"model":               "model",
	"checkpoint-location": "checkpointLocation",
	"profiles":            "profiles",
	"write-retries":       "writeRetries",
	"call-timeout":        "callTimeout",
	"poll-wait":           "pollWait",
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Hosts ranks of a benchmark server in a separate process",
	Args:  cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, workerKeys)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := conf.NewWorkerParams(viper.GetViper())
		if err != nil {
			return errors.WithMessage(err, "invalid worker config")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sig := <-ReceiveExitSignal()
			jww.INFO.Printf("Received %s, stopping the ranks", sig)
			cancel()
		}()

		exitCode, err = StartWorker(ctx, params)
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)

	flags := workerCmd.Flags()
	flags.StringP("server", "s", "", "Address of the benchmark server")
	flags.StringSliceP("ranks", "r", nil, "Ranks hosted by the worker")
	flags.StringP("model", "m", "",
		"Model profile the ranks checkpoint (default the server's)")
	flags.String("checkpoint-location", conf.DefaultLocation,
		"Directory checkpoints are written to, mem:// writes to memory")
	flags.String("profiles", "", "Yaml file of additional model profiles")
	flags.Uint64("write-retries", 0,
		"Number of times a rank retries a failed write")
	flags.Duration("call-timeout", conf.DefaultCallTimeout,
		"Bound of calls to the server that do not wait on the cluster")
	flags.Duration("poll-wait", conf.DefaultPollWait,
		"Wait of a single step poll")
}

// handshake waits for the server to answer and returns the cluster it hosts
func handshake(ctx context.Context, control *comms.ControlClient,
	callTimeout time.Duration) (*comms.HandshakeResponse, error) {
	var resp *comms.HandshakeResponse
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		var err error
		resp, err = control.Handshake(callCtx, "ckptbench-worker")
		if errors.Is(err, comms.ErrVersionMismatch) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		jww.INFO.Printf("Server not reachable, trying again in %s: %v",
			next, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	return resp, err
}

// runRank runs a remote rank until ctx is done. Registration is retried
// until the server accepts the rank or refuses it for good.
func runRank(ctx context.Context, w *worker.Worker) error {
	op := func() error {
		err := w.Run(ctx)
		if errors.Is(err, cluster.ErrDuplicateRank) ||
			errors.Is(err, cluster.ErrCapacityExceeded) ||
			errors.Is(err, cluster.ErrInvalidRequest) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		jww.WARN.Printf("Rank %d retrying in %s: %v", w.Rank(), next, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// StartWorker connects to the server and runs the ranks of params until ctx
// is done. It returns the exit code of the process.
func StartWorker(ctx context.Context, params *conf.WorkerParams) (int,
	error) {
	conn, err := comms.Dial(ctx, params.Server)
	if err != nil {
		return 1, err
	}
	defer conn.Close()

	resp, err := handshake(ctx, comms.NewControlClient(conn),
		params.CallTimeout)
	if err != nil {
		return 1, errors.WithMessagef(err, "could not reach %s",
			params.Server)
	}
	jww.INFO.Printf("Joining a cluster of %d ranks writing profile %s",
		resp.ClusterSize, resp.Profile)

	c := params.Checkpoint
	if c.Model == "" {
		c.Model = resp.Profile
	} else if c.Model != resp.Profile {
		return 1, errors.Wrapf(cluster.ErrInvalidRequest, "worker model %s "+
			"does not match the server's %s", c.Model, resp.Profile)
	}
	profile, err := loadProfile(c)
	if err != nil {
		return 1, err
	}

	writer, err := checkpoint.NewFsWriter(c.Location)
	if err != nil {
		return 1, err
	}

	rc := comms.NewRankClient(conn, params.CallTimeout, params.PollWait)
	workers := make([]*worker.Worker, 0, len(params.Ranks))
	for _, rank := range params.Ranks {
		w, err := worker.New(worker.Params{
			Rank:         rank,
			Size:         resp.ClusterSize,
			WriteRetries: c.WriteRetries,
		}, profile, rc, writer)
		if err != nil {
			return 1, err
		}
		workers = append(workers, w)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(workers))
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := runRank(ctx, w); err != nil {
				jww.ERROR.Printf("Rank %d stopped: %+v", w.Rank(), err)
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	if err = <-errs; err != nil {
		return 1, nil
	}
	return 0, nil
}

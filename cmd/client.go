///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ckptbench/client"
	"gitlab.com/elixxir/ckptbench/cmd/conf"
	"gitlab.com/elixxir/ckptbench/comms"
)

var clientKeys = map[string]string{
	"server-ip":              "serverIp",
	"port":                   "port",
	"client-id":              "clientId",
	"num-steps":              "numSteps",
	"num-passes":             "numPasses",
	"inter-checkpoint-sleep": "interCheckpointSleep",
	"results-dir":            "resultsDir",
	"timeout":                "timeout",
	"wait-ready":             "waitReady",
	"output":                 "output",
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Runs checkpoint steps on a benchmark server and records them",
	Args:  cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, clientKeys)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := conf.NewClientParams(viper.GetViper())
		if err != nil {
			return errors.WithMessage(err, "invalid client config")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sig := <-ReceiveExitSignal()
			jww.INFO.Printf("Received %s, stopping the benchmark", sig)
			cancel()
		}()

		exitCode = RunClient(ctx, params, afero.NewOsFs())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)

	flags := clientCmd.Flags()
	flags.String("server-ip", conf.DefaultServerIP,
		"Address of the benchmark server")
	flags.IntP("port", "p", conf.DefaultPort, "Port of the benchmark server")
	flags.String("client-id", "ckptbench-client", "Name of the client")
	flags.IntP("num-steps", "n", 1, "Number of checkpoint steps per pass")
	flags.Int("num-passes", 1, "Number of passes")
	flags.Duration("inter-checkpoint-sleep", 0,
		"Sleep between steps, steps are requested one at a time when set")
	flags.String("results-dir", conf.DefaultResultsDir,
		"Directory the results are written to")
	flags.Duration("timeout", 0, "Bound of a single run, 0 waits forever")
	flags.Duration("wait-ready", conf.DefaultWaitReady,
		"How long to wait for the cluster to become ready")
	flags.StringP("output", "o", client.OutputText,
		"Format of the summary, text or yaml")
}

// RunClient runs the benchmark described by params and writes its results
// to fs. It returns the exit code of the process.
func RunClient(ctx context.Context, params *conf.ClientParams,
	fs afero.Fs) int {
	started := time.Now()

	conn, err := comms.Dial(ctx, params.Address())
	if err != nil {
		jww.ERROR.Printf("%+v", err)
		return client.ExitFailure
	}
	defer conn.Close()

	c, err := client.New(client.Params{
		ClientID:             params.ClientID,
		NumSteps:             params.NumSteps,
		NumPasses:            params.NumPasses,
		InterCheckpointSleep: params.InterCheckpointSleep,
		Timeout:              params.Timeout,
		WaitReady:            params.WaitReady,
	}, conn)
	if err != nil {
		jww.ERROR.Printf("%+v", err)
		return client.ExitCode(err)
	}

	if _, err = c.Setup(ctx); err != nil {
		jww.ERROR.Printf("%v", err)
		return client.ExitCode(err)
	}

	runErr := c.RunPasses(ctx)
	if runErr != nil {
		jww.ERROR.Printf("Benchmark failed: %v", runErr)
	}

	// reports received before a failure are kept
	var path string
	var writeErr error
	if len(c.Results()) > 0 {
		path, writeErr = client.WriteResults(fs, params.ResultsDir, started,
			c.Results())
		if writeErr != nil {
			jww.ERROR.Printf("Could not write the results: %+v", writeErr)
		}
	}

	summary := client.Summarize(c.Results(), path)
	if err = summary.Print(os.Stdout, params.Output); err != nil {
		jww.ERROR.Printf("%+v", err)
	}

	if runErr == nil && writeErr != nil {
		return client.ExitFailure
	}
	return client.ExitCode(runErr)
}

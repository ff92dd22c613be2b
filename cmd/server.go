///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ckptbench/cmd/conf"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal"
	"gitlab.com/elixxir/ckptbench/internal/checkpoint"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/measure"
	"gitlab.com/elixxir/ckptbench/io"
	"gopkg.in/yaml.v2"
)

// Time in flight calls get to finish when the server stops
const shutdownGrace = 5 * time.Second

var pprofEnabled bool

var serverKeys = map[string]string{
	"ranks":               "ranks",
	"local-ranks":         "localRanks",
	"model":               "model",
	"checkpoint-location": "checkpointLocation",
	"profiles":            "profiles",
	"address":             "address",
	"port":                "port",
	"barrier-timeout":     "barrierTimeout",
	"write-timeout":       "writeTimeout",
	"max-await-wait":      "maxAwaitWait",
	"write-retries":       "writeRetries",
	"resource-interval":   "resourceInterval",
	"exit-on-failure":     "exitOnFailure",
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Runs the benchmark server and its local ranks",
	Args:  cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, serverKeys)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := conf.NewParams(viper.GetViper())
		if err != nil {
			return errors.WithMessage(err, "invalid server config")
		}

		if pprofEnabled {
			go func() {
				jww.INFO.Printf("Serving pprof on localhost:8087")
				jww.ERROR.Println(http.ListenAndServe("localhost:8087", nil))
			}()
		}

		exitCode, err = StartServer(params)
		return err
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	flags := serverCmd.Flags()
	flags.IntP("ranks", "n", 0, "Number of ranks in the cluster")
	flags.Int("local-ranks", 0,
		"Number of ranks hosted by the server (default all of them)")
	flags.StringP("model", "m", conf.DefaultModel,
		"Model profile the ranks checkpoint")
	flags.String("checkpoint-location", conf.DefaultLocation,
		"Directory checkpoints are written to, mem:// writes to memory")
	flags.String("profiles", "", "Yaml file of additional model profiles")
	flags.String("address", "0.0.0.0", "Address to listen on")
	flags.IntP("port", "p", conf.DefaultPort, "Port to listen on")
	flags.Duration("barrier-timeout", conf.DefaultBarrierTimeout,
		"Bound of the wait for every rank at the start of a step")
	flags.Duration("write-timeout", conf.DefaultWriteTimeout,
		"Bound of the wait for every rank to finish writing")
	flags.Duration("max-await-wait", conf.DefaultMaxAwaitWait,
		"Upper bound of a single step poll of a remote rank")
	flags.Uint64("write-retries", 0,
		"Number of times a rank retries a failed write")
	flags.Duration("resource-interval", conf.DefaultResourceInterval,
		"Interval of resource sampling, 0 disables it")
	flags.Bool("exit-on-failure", false,
		"Stop the server the first time the cluster fails")
	flags.BoolVar(&pprofEnabled, "pprof", false,
		"Serve pprof on localhost:8087")

}

// loadProfile finds the model profile in the builtin profiles and the
// optional profiles file
func loadProfile(c conf.Checkpoint) (checkpoint.Profile, error) {
	registry := checkpoint.Builtin()
	if c.Profiles != "" {
		if err := registry.LoadProfiles(afero.NewOsFs(),
			c.Profiles); err != nil {
			return checkpoint.Profile{}, err
		}
	}
	return registry.Get(c.Model)
}

// newDefinition builds the definition of the server from its params
func newDefinition(params *conf.Params) (*internal.Definition, error) {
	profile, err := loadProfile(params.Checkpoint)
	if err != nil {
		return nil, err
	}

	def := &internal.Definition{
		Flags:            internal.Flags{ExitOnFailure: params.ExitOnFailure},
		Address:          params.Server.Address(),
		Size:             params.Server.Ranks,
		LocalRanks:       params.Server.LocalRanks,
		Profile:          profile,
		EnterTimeout:     params.Timeouts.Barrier,
		ExitTimeout:      params.Timeouts.Write,
		WriteRetries:     params.Checkpoint.WriteRetries,
		ResourceInterval: params.Metrics.ResourceInterval,
		MaxAwaitWait:     params.Timeouts.MaxAwaitWait,
		MetricsHandler:   internal.LogMetrics,
	}

	if def.LocalRanks > 0 {
		def.Writer, err = checkpoint.NewFsWriter(params.Checkpoint.Location)
		if err != nil {
			return nil, err
		}
	}

	if def.ResourceInterval > 0 {
		def.ResourceMonitor = measure.NewResourceMonitor()
	}

	return def, nil
}

// StartServer runs the benchmark server until it receives an exit signal,
// or until the cluster fails when ExitOnFailure is set. It returns the exit
// code of the process.
func StartServer(params *conf.Params) (int, error) {
	if out, err := yaml.Marshal(params); err == nil {
		jww.INFO.Printf("Starting the benchmark server with params:\n%s",
			out)
	}

	def, err := newDefinition(params)
	if err != nil {
		return 1, err
	}

	instance, err := internal.CreateInstance(def, io.NewImplementation)
	if err != nil {
		return 1, err
	}

	lis, err := comms.Listen(def.Address)
	if err != nil {
		return 1, err
	}
	instance.Start(lis)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if def.LocalRanks == def.Size {
			return
		}
		err := instance.GetReadySignal().Receive(ctx, 30*time.Second,
			"the remote ranks to register")
		if err == nil {
			jww.INFO.Printf("All %d ranks registered", def.Size)
		}
	}()

	ReceiveSignal(func() {
		st := instance.GetController().Status()
		jww.INFO.Printf("Cluster status: state %s, %d of %d ranks "+
			"registered, last step %d", st.State, st.Registered, st.Size,
			st.LastStep)
	}, syscall.SIGUSR1)

	var failed <-chan struct{}
	if def.ExitOnFailure {
		failed = instance.GetFailedSignal().Done()
	}

	stop := ReceiveExitSignal()
	select {
	case sig := <-stop:
		jww.INFO.Printf("Received %s, stopping the server", sig)
	case <-instance.Done():
		jww.ERROR.Printf("Server stopped unexpectedly")
	case <-failed:
		jww.ERROR.Printf("Cluster failed, stopping the server")
	}

	if err = instance.Shutdown(shutdownGrace); err != nil {
		jww.ERROR.Printf("Failed to wrap up metrics: %+v", err)
	}

	if instance.GetController().State() == cluster.FAILED {
		return 1, nil
	}
	return 0, nil
}

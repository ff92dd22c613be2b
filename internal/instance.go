///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package internal

// instance.go contains the logic for the internal.Instance object along with
// constructors and it's methods

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/comms"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"gitlab.com/elixxir/ckptbench/internal/controller"
	"gitlab.com/elixxir/ckptbench/internal/state"
	"gitlab.com/elixxir/ckptbench/internal/worker"
	"net"
	"sync"
	"time"
)

// RunResult is the outcome of a run started with Instance.RunSteps
type RunResult struct {
	Reports []cluster.StepReport
	Err     error
}

// Holds long-lived server state
type Instance struct {
	definition *Definition
	controller *controller.Controller
	network    *comms.Server
	workers    []*worker.Worker

	// fired the first time the cluster becomes ready
	readySignal *FirstTime
	// fired the first time the cluster fails
	failedSignal *FirstTime

	// cancelled on shutdown, everything the instance starts runs under it
	ctx    context.Context
	cancel context.CancelFunc

	// tracks local workers and detached runs
	workerWG sync.WaitGroup
	runWG    sync.WaitGroup

	shutdownOnce sync.Once
}

// CreateInstance builds the controller, the local ranks and the RPC server
// of a benchmark server. To kick the server off call Start.
func CreateInstance(def *Definition,
	makeImplementation func(*Instance) *comms.Implementation) (*Instance,
	error) {
	if def.Size < 1 {
		return nil, errors.Wrapf(cluster.ErrInvalidRequest,
			"cluster size must be at least 1, is %d", def.Size)
	}
	if def.LocalRanks < 0 || def.LocalRanks > def.Size {
		return nil, errors.Wrapf(cluster.ErrInvalidRequest,
			"cannot host %d of %d ranks locally", def.LocalRanks, def.Size)
	}
	if def.LocalRanks > 0 && def.Writer == nil {
		return nil, errors.Wrap(cluster.ErrInvalidRequest,
			"local ranks need a checkpoint writer")
	}

	instance := &Instance{
		definition:   def,
		readySignal:  NewFirstTime(),
		failedSignal: NewFirstTime(),
	}
	instance.ctx, instance.cancel = context.WithCancel(context.Background())

	// the change functions below reach the network, so it must exist first
	instance.network = comms.NewServer(makeImplementation(instance))

	var sampler controller.Sampler
	if def.ResourceMonitor != nil {
		sampler = def.ResourceMonitor
	}

	var err error
	instance.controller, err = controller.New(controller.Params{
		Size:         def.Size,
		EnterTimeout: def.EnterTimeout,
		ExitTimeout:  def.ExitTimeout,
		Sampler:      sampler,
	}, instance.changeList())
	if err != nil {
		instance.cancel()
		return nil, errors.WithMessage(err, "Could not create the controller")
	}

	for rank := 0; rank < def.LocalRanks; rank++ {
		w, err := worker.New(worker.Params{
			Rank:         rank,
			Size:         def.Size,
			WriteRetries: def.WriteRetries,
		}, def.Profile, instance.controller, def.Writer)
		if err != nil {
			instance.cancel()
			return nil, errors.WithMessagef(err,
				"Could not create local rank %d", rank)
		}
		instance.workers = append(instance.workers, w)
	}

	return instance, nil
}

// changeList keeps the health of the control service and the signals of the
// instance in line with the cluster state. The functions run under the
// state lock and must not call back into the controller.
func (i *Instance) changeList() [cluster.NUM_STATES]state.Change {
	var changes [cluster.NUM_STATES]state.Change

	notServing := func(from cluster.ClusterState) error {
		i.network.SetServing(false)
		return nil
	}

	changes[cluster.IDLE] = notServing
	changes[cluster.READY] = func(from cluster.ClusterState) error {
		i.network.SetServing(true)
		i.readySignal.Send()
		return nil
	}
	changes[cluster.RUNNING] = notServing
	changes[cluster.STEP_COMPLETE] = notServing
	changes[cluster.FAILED] = func(from cluster.ClusterState) error {
		i.network.SetServing(false)
		jww.ERROR.Printf("Cluster failed while %s", from)
		i.failedSignal.Send()
		return nil
	}

	return changes
}

// Start serves the control and rank services on lis and starts the local
// ranks. It returns immediately.
func (i *Instance) Start(lis net.Listener) {
	go func() {
		if err := i.network.Serve(lis); err != nil {
			jww.ERROR.Printf("%+v", err)
			i.cancel()
		}
	}()

	if rm := i.definition.ResourceMonitor; rm != nil &&
		i.definition.ResourceInterval > 0 {
		go rm.Start(i.ctx, i.definition.ResourceInterval)
	}

	for _, w := range i.workers {
		i.workerWG.Add(1)
		go func(w *worker.Worker) {
			defer i.workerWG.Done()
			if err := w.Run(i.ctx); err != nil {
				jww.ERROR.Printf("Local rank %d stopped: %+v", w.Rank(), err)
			}
		}(w)
	}

	jww.INFO.Printf("Benchmark server started with %d of %d ranks local",
		len(i.workers), i.definition.Size)
}

// RunSteps runs a step request detached from the caller. The result is
// delivered on the returned channel once the run finishes, even if nobody
// is waiting for it anymore. Only shutdown cancels the run.
func (i *Instance) RunSteps(req cluster.StepRequest) <-chan RunResult {
	result := make(chan RunResult, 1)

	i.runWG.Add(1)
	go func() {
		defer i.runWG.Done()
		reports, err := i.controller.RunSteps(i.ctx, req)
		result <- RunResult{Reports: reports, Err: err}
	}()

	return result
}

// Shutdown stops the server. In flight calls get grace to finish, then the
// local ranks and running steps are cancelled and the metrics handler runs.
func (i *Instance) Shutdown(grace time.Duration) error {
	var err error
	i.shutdownOnce.Do(func() {
		jww.INFO.Printf("Shutting down the benchmark server")

		// stop the ranks first so blocked rank calls return
		i.cancel()
		i.network.Stop(grace)
		i.runWG.Wait()
		i.workerWG.Wait()

		if i.definition.MetricsHandler != nil {
			err = i.definition.MetricsHandler(i)
		}
	})
	return err
}

// Done is closed once the instance starts shutting down or its server fails.
func (i *Instance) Done() <-chan struct{} {
	return i.ctx.Done()
}

func (i *Instance) GetDefinition() *Definition {
	return i.definition
}

func (i *Instance) GetController() *controller.Controller {
	return i.controller
}

func (i *Instance) GetNetwork() *comms.Server {
	return i.network
}

// GetLocalRanks returns the number of ranks hosted by this process
func (i *Instance) GetLocalRanks() int {
	return len(i.workers)
}

// IsLocalRank reports whether rank is hosted by this process
func (i *Instance) IsLocalRank(rank int) bool {
	return rank >= 0 && rank < len(i.workers)
}

func (i *Instance) GetProfileName() string {
	return i.definition.Profile.Name
}

func (i *Instance) GetMaxAwaitWait() time.Duration {
	return i.definition.MaxAwaitWait
}

func (i *Instance) GetReadySignal() *FirstTime {
	return i.readySignal
}

func (i *Instance) GetFailedSignal() *FirstTime {
	return i.failedSignal
}

// String adheres to the stringer interface
func (i *Instance) String() string {
	return fmt.Sprintf("ckptbench(%s, %d ranks, %s)", i.definition.Address,
		i.definition.Size, i.definition.Profile.Name)
}

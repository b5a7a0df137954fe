package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/internal/sampling-agent/sampler"
	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/constants"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// WorkerAgent runs one shard on behalf of a fanned-out sample run
type WorkerAgent struct {
	agent *sampler.SamplingAgent
	spec  string
}

// Name returns the name of the agent
func (w *WorkerAgent) Name() string {
	return constants.WorkerCommand
}

// ShortDescription returns a short description of the agent
func (w *WorkerAgent) ShortDescription() string {
	return "Run a single sampling shard"
}

// LongDescription returns a detailed description of the agent
func (w *WorkerAgent) LongDescription() string {
	return "Samples the dataset shard described by --spec. Started by the sample command, one per device group."
}

// ConfigureCommand configures the agent command
func (w *WorkerAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Hidden = true
	cmd.Flags().StringVar(&w.spec, "spec", "", "JSON encoded worker spec")
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, w, w.Start)
	}
}

// FxModules returns the fx modules needed by this agent
func (w *WorkerAgent) FxModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		logging.ModuleNamed(constants.AnotherLogConfigKey),
		sampler.Module,
		fx.Populate(&w.agent),
	}
}

// Start decodes the worker spec and runs its shard
func (w *WorkerAgent) Start(ctx context.Context) error {
	spec, err := w.workerSpec()
	if err != nil {
		return err
	}
	return w.agent.RunWorker(ctx, spec)
}

func (w *WorkerAgent) workerSpec() (sampler.WorkerSpec, error) {
	encoded := w.spec
	if encoded == "" {
		encoded = os.Getenv(constants.WorkerSpecEnvVarKey)
	}
	if encoded == "" {
		return sampler.WorkerSpec{}, errors.New("no worker spec provided")
	}
	return sampler.DecodeWorkerSpec(encoded)
}

// NewWorkerAgent creates a new worker agent
func NewWorkerAgent() *WorkerAgent {
	return &WorkerAgent{}
}

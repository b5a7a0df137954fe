package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/internal/sampling-agent/sampler"
	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/constants"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// MergeAgent concatenates the per-worker outputs of a previous sample run
type MergeAgent struct {
	agent *sampler.SamplingAgent
}

// Name returns the name of the agent
func (m *MergeAgent) Name() string {
	return "merge"
}

// ShortDescription returns a short description of the agent
func (m *MergeAgent) ShortDescription() string {
	return "Merge per-worker sampling outputs"
}

// LongDescription returns a detailed description of the agent
func (m *MergeAgent) LongDescription() string {
	return "Concatenates <prefix>_proc_<i>_sampling.jsonl files, in shard order, into <prefix>_sampling.jsonl " +
		"using the same sampler configuration as the sample run."
}

// ConfigureCommand configures the agent command
func (m *MergeAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Flags().Int("num-processes", 0, "number of worker groups the devices are split into, overrides sampler.num_processes")
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, m, m.Start)
	}
}

// BindFlags lets command line flags override the sampler section
func (m *MergeAgent) BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	setIfChanged(v, flags, "num-processes", sampler.ConfigKey+".num_processes")
}

// FxModules returns the fx modules needed by this agent
func (m *MergeAgent) FxModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		logging.ModuleNamed(constants.AnotherLogConfigKey),
		sampler.Module,
		fx.Populate(&m.agent),
	}
}

// Start merges the worker outputs
func (m *MergeAgent) Start(context.Context) error {
	output, n, err := m.agent.Merge()
	if err != nil {
		return err
	}
	m.agent.Logger.WithField("output", output).Infof("Merged %d preference pairs", n)
	return nil
}

// NewMergeAgent creates a new merge agent
func NewMergeAgent() *MergeAgent {
	return &MergeAgent{}
}

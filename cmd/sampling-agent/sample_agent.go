package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/internal/sampling-agent/sampler"
	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/constants"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// SampleAgent implements the AgentModule interface for the rejection sampler
type SampleAgent struct {
	agent *sampler.SamplingAgent
	merge bool
}

// Name returns the name of the agent
func (s *SampleAgent) Name() string {
	return constants.SampleCommand
}

// ShortDescription returns a short description of the agent
func (s *SampleAgent) ShortDescription() string {
	return "Run best-of-N rejection sampling"
}

// LongDescription returns a detailed description of the agent
func (s *SampleAgent) LongDescription() string {
	return "Generates N candidate responses per prompt, scores them with outcome and process reward models, " +
		"and writes chosen/rejected preference pairs. Launches one worker per device group when " +
		"sampler.num_processes splits the visible devices."
}

// ConfigureCommand configures the agent command
func (s *SampleAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&s.merge, "merge", false, "merge per-worker outputs into one file once all workers finish")
	cmd.Flags().Int("num-processes", 0, "number of worker groups the devices are split into, overrides sampler.num_processes")
	cmd.Flags().Bool("override", false, "regenerate outputs that already exist")
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, s, s.Start)
	}
}

// BindFlags lets command line flags override the sampler section
func (s *SampleAgent) BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	setIfChanged(v, flags, "num-processes", sampler.ConfigKey+".num_processes")
	setIfChanged(v, flags, "override", sampler.ConfigKey+".override_exist_file")
}

// FxModules returns the fx modules needed by this agent
func (s *SampleAgent) FxModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		logging.ModuleNamed(constants.AnotherLogConfigKey),
		sampler.Module,
		fx.Populate(&s.agent),
	}
}

// Start samples in-process or fans out to worker subprocesses
func (s *SampleAgent) Start(ctx context.Context) error {
	launcher, err := workerLauncher()
	if err != nil {
		return err
	}
	if err := s.agent.Start(ctx, launcher); err != nil {
		return err
	}
	if !s.merge {
		return nil
	}

	output, n, err := s.agent.Merge()
	if err != nil {
		return fmt.Errorf("merging worker outputs: %w", err)
	}
	s.agent.Logger.WithField("output", output).Infof("Merged %d preference pairs", n)
	return nil
}

// workerLauncher re-executes this binary's worker command with the same
// configuration file.
func workerLauncher() (*sampler.ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate sampling-agent executable: %w", err)
	}
	args := []string{constants.WorkerCommand, "--config", configFilePath}
	if debug {
		args = append(args, "--debug")
	}
	return &sampler.ExecLauncher{
		Executable: exe,
		Args:       args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}, nil
}

// NewSampleAgent creates a new sample agent
func NewSampleAgent() *SampleAgent {
	return &SampleAgent{}
}

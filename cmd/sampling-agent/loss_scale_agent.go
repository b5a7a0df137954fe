package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/internal/sampling-agent/annotator"
	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/constants"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// LossScaleAgent annotates agent SFT datasets with per-part loss weights
type LossScaleAgent struct {
	agent *annotator.Annotator
}

// Name returns the name of the agent
func (l *LossScaleAgent) Name() string {
	return "loss-scale"
}

// ShortDescription returns a short description of the agent
func (l *LossScaleAgent) ShortDescription() string {
	return "Annotate an SFT dataset with agent loss scales"
}

// LongDescription returns a detailed description of the agent
func (l *LossScaleAgent) LongDescription() string {
	return "Splits each record's final assistant turn on ReAct keywords (Thought, Action, Action Input, " +
		"Observation, Final Answer) and writes the parts and their loss weights under \"loss_scale\"."
}

// ConfigureCommand configures the agent command
func (l *LossScaleAgent) ConfigureCommand(cmd *cobra.Command) {
	cmd.Flags().String("input", "", "input JSON-lines dataset, overrides loss_scale.input")
	cmd.Flags().String("output", "", "output path, overrides loss_scale.output")
	cmd.Run = func(cmd *cobra.Command, args []string) {
		runAgentCommand(cmd, l, l.Start)
	}
}

// BindFlags lets command line flags override the loss_scale section
func (l *LossScaleAgent) BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	setIfChanged(v, flags, "input", annotator.ConfigKey+".input")
	setIfChanged(v, flags, "output", annotator.ConfigKey+".output")
}

// FxModules returns the fx modules needed by this agent
func (l *LossScaleAgent) FxModules() []fx.Option {
	return []fx.Option{
		afero.Module,
		logging.Module,
		logging.ModuleNamed(constants.AnotherLogConfigKey),
		annotator.Module,
		fx.Populate(&l.agent),
	}
}

// Start annotates the configured dataset
func (l *LossScaleAgent) Start(context.Context) error {
	_, err := l.agent.Run()
	return err
}

// NewLossScaleAgent creates a new loss scale agent
func NewLossScaleAgent() *LossScaleAgent {
	return &LossScaleAgent{}
}

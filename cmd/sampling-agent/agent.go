package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sgl-project/sampling-agent/pkg/logging"
)

var configFilePath string
var debug bool

// AgentModule represents a module that can be run by the agent framework
type AgentModule interface {
	Name() string
	ShortDescription() string
	LongDescription() string
	FxModules() []fx.Option

	// ConfigureCommand Allow agents to configure their commands (add subcommands, custom flags, etc.)
	ConfigureCommand(*cobra.Command)

	// Start is the default action when no subcommand is specified
	Start(ctx context.Context) error
}

// CreateAgentCommand creates a cobra command for an agent module
func CreateAgentCommand(module AgentModule) *cobra.Command {
	cmd := &cobra.Command{
		Use:   module.Name(),
		Short: module.ShortDescription(),
		Long:  module.LongDescription(),
	}

	// Add common flags to persistent flags so they're available to subcommands
	cmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")

	module.ConfigureCommand(cmd)

	return cmd
}

// runAgentCommand runs a specific command action for an agent. The context
// handed to action is cancelled when the fx app stops, e.g. on SIGTERM.
func runAgentCommand(cmd *cobra.Command, module AgentModule, action func(context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	options := []fx.Option{
		configProvider(cmd, module),
		logging.UseLoggingInterface,
	}

	// Add module-specific options
	options = append(options, module.FxModules()...)

	options = append(options, fx.Invoke(func(lc fx.Lifecycle, l *zap.Logger, sh fx.Shutdowner) {
		lc.Append(
			fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := action(ctx); err != nil {
							l.Error(module.Name()+" encountered an error during execution", zap.Error(err))
							_ = l.Sync()
							os.Exit(1)
						}
						if err := sh.Shutdown(); err != nil {
							l.Error("Failed to shutdown "+module.Name(), zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
	}))

	app := fx.New(fx.Options(options...))
	if err := app.Err(); err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(1)
	}
	app.Run()
	_ = app.Stop(context.Background())
}

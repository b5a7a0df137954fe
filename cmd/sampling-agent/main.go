package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgl-project/sampling-agent/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "sampling-agent",
	Short:   "Run Sampling Agent",
	Long:    "Sampling Agent builds preference datasets by best-of-N rejection sampling against outcome and process reward models.",
	Version: fmt.Sprintf("gitVersion=%s, gitCommit=%s", version.GitVersion, version.GitCommit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Register all agent commands
	rootCmd.AddCommand(CreateAgentCommand(NewSampleAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewWorkerAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewMergeAgent()))
	rootCmd.AddCommand(CreateAgentCommand(NewLossScaleAgent()))
}

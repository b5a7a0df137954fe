package constants

// Sampling agent environment
const (
	AgentAppName = "SAMPLING_AGENT"

	// AnotherLogConfigKey is the logging section read by the named logger
	// that sampler components write to.
	AnotherLogConfigKey = "another_log"

	// WorkerSpecEnvVarKey carries the encoded worker spec when a child is
	// started without the --spec flag.
	WorkerSpecEnvVarKey = AgentAppName + "_" + "WORKER_SPEC"
)

// Subcommands re-invoked by the fan-out launcher
const (
	SampleCommand = "sample"
	WorkerCommand = "worker"
)

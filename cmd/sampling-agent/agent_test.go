package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/sgl-project/sampling-agent/internal/sampling-agent/sampler"
	"github.com/sgl-project/sampling-agent/pkg/afero"
)

// MockAgentModule is a mock implementation of the AgentModule interface for testing
type MockAgentModule struct {
	mock.Mock
}

func (m *MockAgentModule) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAgentModule) ShortDescription() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAgentModule) LongDescription() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAgentModule) FxModules() []fx.Option {
	args := m.Called()
	return args.Get(0).([]fx.Option)
}

func (m *MockAgentModule) ConfigureCommand(cmd *cobra.Command) {
	m.Called(cmd)
}

func (m *MockAgentModule) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestCreateAgentCommand(t *testing.T) {
	mockModule := new(MockAgentModule)
	mockModule.On("Name").Return("mock-agent")
	mockModule.On("ShortDescription").Return("Mock Agent Short Description")
	mockModule.On("LongDescription").Return("Mock Agent Long Description")
	mockModule.On("ConfigureCommand", mock.AnythingOfType("*cobra.Command")).Run(func(args mock.Arguments) {
		cmd := args.Get(0).(*cobra.Command)
		cmd.Run = func(cmd *cobra.Command, args []string) {}
	})

	cmd := CreateAgentCommand(mockModule)

	assert.Equal(t, "mock-agent", cmd.Use)
	assert.Equal(t, "Mock Agent Short Description", cmd.Short)
	assert.Equal(t, "Mock Agent Long Description", cmd.Long)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	debugFlag := cmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, debugFlag)
	assert.Equal(t, "d", debugFlag.Shorthand)

	mockModule.AssertCalled(t, "ConfigureCommand", mock.AnythingOfType("*cobra.Command"))
	assert.NotNil(t, cmd.Run)
}

func TestRootCommandRegistersAgents(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = c.Hidden
	}
	assert.Contains(t, names, "sample")
	assert.Contains(t, names, "merge")
	assert.Contains(t, names, "loss-scale")
	require.Contains(t, names, "worker")
	assert.True(t, names["worker"], "worker command should be hidden")
}

func TestNewViper_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loss_scale:\n  input: from-file.jsonl\n  output: out.jsonl\n"), 0o644))

	agent := NewLossScaleAgent()
	cmd := CreateAgentCommand(agent)
	// flag registration resets configFilePath to its default
	configFilePath = path
	t.Cleanup(func() { configFilePath = "" })
	require.NoError(t, cmd.ParseFlags([]string{"--input", "from-flag.jsonl"}))

	v, err := newViper(cmd.Flags(), agent)
	require.NoError(t, err)
	assert.Equal(t, "from-flag.jsonl", v.GetString("loss_scale.input"))
	assert.Equal(t, "out.jsonl", v.GetString("loss_scale.output"))
}

func TestNewViper_NumProcessesFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampler:\n  num_processes: 1\n"), 0o644))

	agent := NewSampleAgent()
	cmd := CreateAgentCommand(agent)
	// flag registration resets configFilePath to its default
	configFilePath = path
	t.Cleanup(func() { configFilePath = "" })
	require.NoError(t, cmd.ParseFlags([]string{"--num-processes", "4", "--override"}))

	v, err := newViper(cmd.Flags(), agent)
	require.NoError(t, err)
	assert.Equal(t, 4, v.GetInt("sampler.num_processes"))
	assert.True(t, v.GetBool("sampler.override_exist_file"))
}

func TestNewViper_RequiresConfigFile(t *testing.T) {
	agent := NewMergeAgent()
	cmd := CreateAgentCommand(agent)
	configFilePath = ""
	_, err := newViper(cmd.Flags(), agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config file provided")
}

func TestWorkerAgent_SpecFromEnv(t *testing.T) {
	w := NewWorkerAgent()
	_, err := w.workerSpec()
	require.Error(t, err)

	t.Setenv("SAMPLING_AGENT_WORKER_SPEC", `{"shard_index":1,"shard_count":2,"devices":["2","3"],"file_prefix":"run_proc_1"}`)
	spec, err := w.workerSpec()
	require.NoError(t, err)
	assert.Equal(t, 1, spec.ShardIndex)
	assert.Equal(t, []string{"2", "3"}, spec.Devices)
}

func TestSampleAgent_OverrideReachesWorkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	config := "sampler:\n  override_exist_file: false\n  num_processes: 2\n  devices: [\"0\", \"1\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))

	agent := NewSampleAgent()
	cmd := CreateAgentCommand(agent)
	configFilePath = path
	t.Cleanup(func() { configFilePath = "" })
	require.NoError(t, cmd.ParseFlags([]string{"--override"}))

	v, err := newViper(cmd.Flags(), agent)
	require.NoError(t, err)
	cfg, err := sampler.NewSamplerConfig(sampler.WithViper(v))
	require.NoError(t, err)
	require.True(t, cfg.OverrideExistFile)

	specs, err := sampler.NewSamplingAgent(cfg, afero.NewMemMapFs(), sampler.Engines{}, nil).WorkerSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	launcher, err := workerLauncher()
	require.NoError(t, err)
	assert.Equal(t, []string{"worker", "--config", path}, launcher.Args)

	for _, spec := range specs {
		encoded, err := spec.Encode()
		require.NoError(t, err)
		decoded, err := sampler.DecodeWorkerSpec(encoded)
		require.NoError(t, err)
		assert.True(t, decoded.OverrideExistFile, "worker %d", spec.ShardIndex)
	}
}

func TestNumProcessesFlagUsage(t *testing.T) {
	for _, module := range []AgentModule{NewSampleAgent(), NewMergeAgent()} {
		cmd := CreateAgentCommand(module)
		flag := cmd.Flags().Lookup("num-processes")
		require.NotNil(t, flag, module.Name())
		assert.Contains(t, flag.Usage, "number of worker groups")
	}
}

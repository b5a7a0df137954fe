package sampler

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/inference"
	"github.com/sgl-project/sampling-agent/pkg/logging"
	"github.com/sgl-project/sampling-agent/pkg/metrics"
	"github.com/sgl-project/sampling-agent/pkg/objectstore"
	"github.com/sgl-project/sampling-agent/pkg/reward"
)

// SamplingAgent owns the engines and I/O shared by every shard a process
// runs.
type SamplingAgent struct {
	Config *Config
	Logger logging.Interface

	fs        afero.Fs
	generator inference.Engine
	orm       inference.Engine
	prm       inference.Engine
	loader    DatasetLoader
	uploader  Uploader
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
}

// Engines groups the three inference clients a sampler needs.
type Engines struct {
	Generator inference.Engine
	ORM       inference.Engine
	PRM       inference.Engine
}

// NewEngines resolves the configured generator and scorers.
func NewEngines(config *Config) (Engines, error) {
	genCfg := config.Engine
	genCfg.Logger = config.AnotherLogger
	generator, err := inference.New(&genCfg)
	if err != nil {
		return Engines{}, fmt.Errorf("generator engine: %w", err)
	}
	orm, err := reward.NewScorer(config.ORM, config.AnotherLogger)
	if err != nil {
		return Engines{}, fmt.Errorf("outcome reward model: %w", err)
	}
	prm, err := reward.NewScorer(config.PRM, config.AnotherLogger)
	if err != nil {
		return Engines{}, fmt.Errorf("process reward model: %w", err)
	}
	return Engines{Generator: generator, ORM: orm, PRM: prm}, nil
}

// NewSamplingAgent wires engines, storage and metrics for config.
func NewSamplingAgent(config *Config, fs afero.Fs, engines Engines, store *objectstore.Store) *SamplingAgent {
	logger := config.AnotherLogger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := prometheus.NewRegistry()

	a := &SamplingAgent{
		Config:    config,
		Logger:    logger,
		fs:        fs,
		generator: engines.Generator,
		orm:       engines.ORM,
		prm:       engines.PRM,
		registry:  registry,
		metrics:   metrics.NewMetrics(registry),
	}
	// A nil *Store must not end up inside a non-nil interface.
	if store != nil {
		a.loader = dataset.NewLoader(fs, store)
		a.uploader = store
	} else {
		a.loader = dataset.NewLoader(fs, nil)
	}
	return a
}

// NewDriver builds the driver for the shard described by spec. An override
// requested in the spec applies even when the config file disables it.
func (a *SamplingAgent) NewDriver(spec WorkerSpec) *Driver {
	cfg := *a.Config
	cfg.FilePrefix = spec.FilePrefix
	cfg.OverrideExistFile = cfg.OverrideExistFile || spec.OverrideExistFile
	s := NewSampler(&cfg, spec.Shard(), a.generator, a.orm, a.prm, a.metrics, a.Logger)
	return NewDriver(s, a.fs, a.loader, a.uploader)
}

// RunWorker runs the single shard described by spec in this process. Metrics
// are served on the spec's address, not the config file's, so fanned-out
// workers never compete for one port.
func (a *SamplingAgent) RunWorker(ctx context.Context, spec WorkerSpec) error {
	a.serveMetrics(ctx, spec.MetricsAddress)
	if err := a.NewDriver(spec).Run(ctx); err != nil {
		return fmt.Errorf("shard %d: %w", spec.ShardIndex, err)
	}
	return nil
}

// Devices returns the configured devices, falling back to the visible
// devices of this process.
func (a *SamplingAgent) Devices() []string {
	if len(a.Config.Devices) > 0 {
		return a.Config.Devices
	}
	return DevicesFromEnv()
}

// Start checks the device precondition, then samples in-process for a single
// process group or launches one worker per group and waits for all of them.
func (a *SamplingAgent) Start(ctx context.Context, launcher Launcher) error {
	specs, err := a.WorkerSpecs()
	if err != nil {
		return err
	}

	if len(specs) == 1 {
		spec := specs[0]
		spec.FilePrefix = a.Config.FilePrefix
		return a.RunWorker(ctx, spec)
	}
	if launcher == nil {
		return fmt.Errorf("%d processes requested but no worker launcher is available", len(specs))
	}
	return FanOut(ctx, launcher, specs, a.Logger)
}

// WorkerSpecs plans one spec per device group and attaches the override flag
// and a per-worker metrics address.
func (a *SamplingAgent) WorkerSpecs() ([]WorkerSpec, error) {
	specs, err := PlanWorkers(a.Devices(), a.Config.NumProcesses, a.Config.FilePrefix)
	if err != nil {
		return nil, err
	}
	for i := range specs {
		specs[i].OverrideExistFile = a.Config.OverrideExistFile
		if specs[i].MetricsAddress, err = WorkerMetricsAddress(a.Config.MetricsAddress, i); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

func (a *SamplingAgent) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, a.registry, a.Logger); err != nil {
			a.Logger.WithError(err).Warn("Metrics server stopped")
		}
	}()
}

// Merge concatenates the per-worker outputs of a fanned-out run into the
// run's primary output file, in shard order. A single-group run already
// writes the primary file, so nothing is merged.
func (a *SamplingAgent) Merge() (string, int, error) {
	output := dataset.OutputPath(a.Config.OutputDir, a.Config.FilePrefix)
	specs, err := PlanWorkers(a.Devices(), a.Config.NumProcesses, a.Config.FilePrefix)
	if err != nil {
		return output, 0, err
	}
	if len(specs) == 1 {
		return output, 0, nil
	}

	inputs := make([]string, 0, len(specs))
	for _, spec := range specs {
		inputs = append(inputs, dataset.OutputPath(a.Config.OutputDir, spec.FilePrefix))
	}
	n, err := dataset.Merge(a.fs, inputs, output, a.Logger)
	return output, n, err
}

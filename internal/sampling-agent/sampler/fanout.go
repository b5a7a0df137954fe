package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// VisibleDevicesEnv is the accelerator-visibility variable set on each worker.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

// WorkerSpec is everything a child worker needs beyond the shared config
// file. It is passed to the child as a JSON argument.
type WorkerSpec struct {
	ShardIndex int      `json:"shard_index"`
	ShardCount int      `json:"shard_count"`
	Devices    []string `json:"devices"`
	FilePrefix string   `json:"file_prefix"`

	// Run-wide settings the parent resolved from flags and the config file.
	// A child reads only the file, so these must travel with the spec.
	OverrideExistFile bool   `json:"override_exist_file,omitempty"`
	MetricsAddress    string `json:"metrics_address,omitempty"`
}

func (w WorkerSpec) Shard() Shard {
	return Shard{Index: w.ShardIndex, Count: w.ShardCount}
}

// Encode renders the spec for the command line.
func (w WorkerSpec) Encode() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeWorkerSpec parses and sanity-checks a spec produced by Encode.
func DecodeWorkerSpec(s string) (WorkerSpec, error) {
	var w WorkerSpec
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return WorkerSpec{}, fmt.Errorf("invalid worker spec: %w", err)
	}
	if w.ShardCount < 1 || w.ShardIndex < 0 || w.ShardIndex >= w.ShardCount {
		return WorkerSpec{}, fmt.Errorf("invalid worker spec: shard %d of %d", w.ShardIndex, w.ShardCount)
	}
	if w.FilePrefix == "" {
		return WorkerSpec{}, fmt.Errorf("invalid worker spec: empty file prefix")
	}
	return w, nil
}

// DevicesFromEnv reads the visible device list from the environment.
func DevicesFromEnv() []string {
	var devices []string
	for _, d := range strings.Split(os.Getenv(VisibleDevicesEnv), ",") {
		if d = strings.TrimSpace(d); d != "" {
			devices = append(devices, d)
		}
	}
	return devices
}

// PlanWorkers splits devices into nproc contiguous groups, one per worker.
// It fails before anything is launched when the devices cannot be split
// evenly.
func PlanWorkers(devices []string, nproc int, filePrefix string) ([]WorkerSpec, error) {
	if nproc < 1 {
		return nil, fmt.Errorf("process count must be positive, got %d", nproc)
	}
	if len(devices) == 0 || len(devices)%nproc != 0 {
		return nil, fmt.Errorf("need at least one device and a device count divisible by %d processes, got %d devices", nproc, len(devices))
	}

	perProc := len(devices) / nproc
	specs := make([]WorkerSpec, nproc)
	for i := range specs {
		specs[i] = WorkerSpec{
			ShardIndex: i,
			ShardCount: nproc,
			Devices:    append([]string(nil), devices[i*perProc:(i+1)*perProc]...),
			FilePrefix: dataset.WorkerPrefix(filePrefix, i),
		}
	}
	return specs, nil
}

// WorkerMetricsAddress offsets the port of base by the worker index so every
// worker serves its own /metrics endpoint. An empty base disables metrics and
// port 0 is passed through unchanged.
func WorkerMetricsAddress(base string, index int) (string, error) {
	if base == "" {
		return "", nil
	}
	host, port, err := net.SplitHostPort(base)
	if err != nil {
		return "", fmt.Errorf("invalid metrics address %q: %w", base, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p+index > 65535 {
		return "", fmt.Errorf("invalid metrics port in %q for worker %d", base, index)
	}
	if p == 0 {
		return base, nil
	}
	return net.JoinHostPort(host, strconv.Itoa(p+index)), nil
}

// Launcher runs one worker to completion.
type Launcher interface {
	Launch(ctx context.Context, spec WorkerSpec) error
}

// ExecLauncher re-executes a binary's worker subcommand in a child process.
type ExecLauncher struct {
	Executable string
	// Args precede the spec, e.g. ["worker", "--config", path].
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ExecLauncher) Launch(ctx context.Context, spec WorkerSpec) error {
	encoded, err := spec.Encode()
	if err != nil {
		return err
	}
	args := append(append([]string{}, l.Args...), "--spec", encoded)

	cmd := exec.CommandContext(ctx, l.Executable, args...)
	cmd.Env = append(os.Environ(), VisibleDevicesEnv+"="+strings.Join(spec.Devices, ","))
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	return cmd.Run()
}

// FanOut launches every spec concurrently and waits for all of them. A
// failing worker does not stop its siblings; all failures are reported
// together.
func FanOut(ctx context.Context, launcher Launcher, specs []WorkerSpec, logger logging.Interface) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, spec := range specs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := logging.ForShard(logger, spec.ShardIndex).WithField("devices", spec.Devices)
			log.Info("Starting worker")
			if err := launcher.Launch(ctx, spec); err != nil {
				log.WithError(err).Error("Worker failed")
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("worker %d: %w", spec.ShardIndex, err))
				mu.Unlock()
				return
			}
			log.Info("Worker finished")
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

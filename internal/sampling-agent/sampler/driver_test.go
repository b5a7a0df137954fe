package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/inference"
	"github.com/sgl-project/sampling-agent/pkg/logging"
	"github.com/sgl-project/sampling-agent/pkg/metrics"
	"github.com/sgl-project/sampling-agent/pkg/reward"
)

type fakeUploader struct {
	uploads map[string]string
	err     error
}

func (u *fakeUploader) UploadFile(_ context.Context, fs afero.Fs, path, uri string) error {
	if u.err != nil {
		return u.err
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	u.uploads[uri] = string(data)
	return nil
}

func writeDataset(fs afero.Fs, path string, n int) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"messages":[{"role":"user","content":"q%d"},{"role":"assistant","content":null}],"ground_truth":["gt%d"]}`+"\n", i, i)
	}
	Expect(afero.ReplaceFile(fs, path, []byte(b.String()), 0o644, nil)).To(Succeed())
}

func readPairs(fs afero.Fs, path string) []dataset.PreferencePair {
	data, err := afero.ReadFile(fs, path)
	Expect(err).NotTo(HaveOccurred())
	var pairs []dataset.PreferencePair
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var p dataset.PreferencePair
		Expect(json.Unmarshal([]byte(line), &p)).To(Succeed())
		pairs = append(pairs, p)
	}
	return pairs
}

var _ = Describe("Driver", func() {
	var (
		fs        afero.Fs
		cfg       *Config
		generator *funcEngine
		orm       *funcEngine
		prm       *funcEngine
		uploader  *fakeUploader
	)

	newDriver := func(shard Shard) *Driver {
		s := NewSampler(cfg, shard, generator, orm, prm, metrics.NewMetrics(prometheus.NewRegistry()), logging.Discard())
		return NewDriver(s, fs, dataset.NewLoader(fs, nil), uploader)
	}

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		cfg = testConfig()
		writeDataset(fs, cfg.Dataset, 5)

		// The first candidate of every prompt is right, the second wrong.
		generator = indexedEngine("right", "wrong")
		orm = &funcEngine{reply: func(_ int, req inference.InferRequest) string {
			if last := req.Messages[len(req.Messages)-1].Text(); last == "wrong" {
				return "0"
			}
			return "1"
		}}
		prm = &funcEngine{reply: func(_ int, req inference.InferRequest) string {
			if req.Messages[len(req.Messages)-1].Text() == "right" {
				return "0.9"
			}
			return "0.4"
		}}
		uploader = &fakeUploader{uploads: map[string]string{}}
	})

	It("writes one pair per record in dataset order", func() {
		d := newDriver(Shard{Index: 0, Count: 1})
		Expect(d.Run(context.Background())).To(Succeed())

		pairs := readPairs(fs, "/out/run_sampling.jsonl")
		Expect(pairs).To(HaveLen(5))
		for i, p := range pairs {
			Expect(p.Messages).To(HaveLen(2))
			Expect(p.Messages[0].Text()).To(Equal(fmt.Sprintf("q%d", i)))
			Expect(p.Chosen()).To(Equal("right"))
			Expect(p.RejectedResponse).To(Equal("wrong"))
		}
		Expect(generator.callCount()).To(Equal(5))
	})

	It("samples only its own contiguous shard", func() {
		d := newDriver(Shard{Index: 1, Count: 2})
		Expect(d.Run(context.Background())).To(Succeed())

		pairs := readPairs(fs, d.OutputPath())
		Expect(pairs).To(HaveLen(3))
		Expect(pairs[0].Messages[0].Text()).To(Equal("q2"))
		Expect(pairs[2].Messages[0].Text()).To(Equal("q4"))
	})

	It("caps the number of sub-batches", func() {
		cfg.BatchSize = 2
		cfg.NumBatches = 2
		d := newDriver(Shard{Index: 0, Count: 1})
		Expect(d.Run(context.Background())).To(Succeed())

		Expect(readPairs(fs, d.OutputPath())).To(HaveLen(4))
		Expect(generator.callCount()).To(Equal(2))
		Expect(generator.calls[0]).To(HaveLen(4))
	})

	It("leaves an existing output untouched", func() {
		Expect(afero.ReplaceFile(fs, "/out/run_sampling.jsonl", []byte("previous\n"), 0o644, nil)).To(Succeed())

		d := newDriver(Shard{Index: 0, Count: 1})
		Expect(d.Run(context.Background())).To(Succeed())
		Expect(d.Run(context.Background())).To(Succeed())

		data, err := afero.ReadFile(fs, "/out/run_sampling.jsonl")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("previous\n"))
		Expect(generator.callCount()).To(BeZero())
	})

	It("rewrites an existing output when asked to", func() {
		Expect(afero.ReplaceFile(fs, "/out/run_sampling.jsonl", []byte("previous\n"), 0o644, nil)).To(Succeed())
		cfg.OverrideExistFile = true

		d := newDriver(Shard{Index: 0, Count: 1})
		Expect(d.Run(context.Background())).To(Succeed())

		pairs := readPairs(fs, "/out/run_sampling.jsonl")
		Expect(pairs).To(HaveLen(5))
	})

	It("aborts the worker when no candidate earns an outcome reward", func() {
		orm = indexedEngine("0")
		d := newDriver(Shard{Index: 0, Count: 1})

		err := d.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, reward.ErrNoPositiveOutcome)).To(BeTrue())

		exists, _ := afero.Exists(fs, d.OutputPath())
		Expect(exists).To(BeFalse())
	})

	It("uploads the finished file", func() {
		cfg.UploadURI = "s3://bucket/runs/"
		d := newDriver(Shard{Index: 0, Count: 1})
		Expect(d.Run(context.Background())).To(Succeed())

		Expect(uploader.uploads).To(HaveKey("s3://bucket/runs/run_sampling.jsonl"))
		Expect(strings.Count(uploader.uploads["s3://bucket/runs/run_sampling.jsonl"], "\n")).To(Equal(5))
	})

	It("reports upload failures", func() {
		cfg.UploadURI = "s3://bucket/runs"
		uploader.err = errors.New("denied")
		d := newDriver(Shard{Index: 0, Count: 1})
		Expect(d.Run(context.Background())).To(MatchError(ContainSubstring("denied")))
	})
})

var _ = Describe("SamplingAgent", func() {
	var (
		fs    afero.Fs
		cfg   *Config
		agent *SamplingAgent
	)

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		cfg = testConfig()
		writeDataset(fs, cfg.Dataset, 4)
		agent = NewSamplingAgent(cfg, fs, Engines{
			Generator: indexedEngine("right", "wrong"),
			ORM:       wrongScoresZero(),
			PRM:       wrongScoresZero(),
		}, nil)
	})

	It("runs in-process with the run prefix for a single process group", func() {
		Expect(agent.Start(context.Background(), nil)).To(Succeed())
		Expect(readPairs(fs, "/out/run_sampling.jsonl")).To(HaveLen(4))
	})

	It("fails before launching anything when devices do not divide", func() {
		cfg.Devices = []string{"0", "1", "2"}
		cfg.NumProcesses = 2
		launcher := &mockLauncher{}
		Expect(agent.Start(context.Background(), launcher)).To(MatchError(ContainSubstring("divisible")))
		launcher.AssertNotCalled(GinkgoT(), "Launch")
	})

	It("hands each worker a disjoint shard and device range", func() {
		cfg.Devices = []string{"0", "1", "2", "3"}
		cfg.NumProcesses = 2
		launcher := &inProcessLauncher{agent: agent}
		Expect(agent.Start(context.Background(), launcher)).To(Succeed())

		first := readPairs(fs, "/out/run_proc_0_sampling.jsonl")
		second := readPairs(fs, "/out/run_proc_1_sampling.jsonl")
		Expect(first).To(HaveLen(2))
		Expect(second).To(HaveLen(2))
		Expect(first[0].Messages[0].Text()).To(Equal("q0"))
		Expect(second[0].Messages[0].Text()).To(Equal("q2"))
		Expect(launcher.devices).To(ConsistOf([]string{"0", "1"}, []string{"2", "3"}))
	})

	It("merges worker outputs in shard order", func() {
		cfg.Devices = []string{"0", "1", "2", "3"}
		cfg.NumProcesses = 2
		Expect(agent.Start(context.Background(), &inProcessLauncher{agent: agent})).To(Succeed())

		out, n, err := agent.Merge()
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("/out/run_sampling.jsonl"))
		Expect(n).To(Equal(4))

		var prompts []string
		for _, p := range readPairs(fs, out) {
			prompts = append(prompts, p.Messages[0].Text())
		}
		Expect(prompts).To(Equal([]string{"q0", "q1", "q2", "q3"}))
	})

	It("regenerates stale worker outputs when the parent asked for an override", func() {
		cfg.Devices = []string{"0", "1", "2", "3"}
		cfg.NumProcesses = 2
		cfg.OverrideExistFile = true
		for _, out := range []string{"/out/run_proc_0_sampling.jsonl", "/out/run_proc_1_sampling.jsonl"} {
			Expect(afero.ReplaceFile(fs, out, []byte("stale\n"), 0644, nil)).To(Succeed())
		}

		// Children only see the config file, where the override is off.
		childCfg := *cfg
		childCfg.OverrideExistFile = false
		child := NewSamplingAgent(&childCfg, fs, Engines{
			Generator: indexedEngine("right", "wrong"),
			ORM:       wrongScoresZero(),
			PRM:       wrongScoresZero(),
		}, nil)

		Expect(agent.Start(context.Background(), &encodingLauncher{child: child})).To(Succeed())
		Expect(readPairs(fs, "/out/run_proc_0_sampling.jsonl")).To(HaveLen(2))
		Expect(readPairs(fs, "/out/run_proc_1_sampling.jsonl")).To(HaveLen(2))
	})

	It("keeps existing worker outputs without an override", func() {
		cfg.Devices = []string{"0", "1"}
		cfg.NumProcesses = 2
		Expect(afero.ReplaceFile(fs, "/out/run_proc_0_sampling.jsonl", []byte("stale\n"), 0644, nil)).To(Succeed())

		Expect(agent.Start(context.Background(), &encodingLauncher{child: agent})).To(Succeed())
		data, err := afero.ReadFile(fs, "/out/run_proc_0_sampling.jsonl")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("stale\n"))
		Expect(readPairs(fs, "/out/run_proc_1_sampling.jsonl")).To(HaveLen(2))
	})

	It("gives every worker its own metrics port", func() {
		cfg.Devices = []string{"0", "1", "2", "3"}
		cfg.NumProcesses = 4
		cfg.MetricsAddress = "127.0.0.1:9400"

		specs, err := agent.WorkerSpecs()
		Expect(err).NotTo(HaveOccurred())
		var addrs []string
		for _, spec := range specs {
			addrs = append(addrs, spec.MetricsAddress)
		}
		Expect(addrs).To(Equal([]string{"127.0.0.1:9400", "127.0.0.1:9401", "127.0.0.1:9402", "127.0.0.1:9403"}))
	})

	It("rejects a metrics address without a port before launching", func() {
		cfg.Devices = []string{"0", "1"}
		cfg.NumProcesses = 2
		cfg.MetricsAddress = "localhost"
		launcher := &mockLauncher{}
		Expect(agent.Start(context.Background(), launcher)).To(MatchError(ContainSubstring("invalid metrics address")))
		launcher.AssertNotCalled(GinkgoT(), "Launch")
	})

	It("has nothing to merge for a single process group", func() {
		_, n, err := agent.Merge()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})

// wrongScoresZero rates "wrong" 0 and every other response 1.
func wrongScoresZero() *funcEngine {
	return &funcEngine{reply: func(_ int, req inference.InferRequest) string {
		if req.Messages[len(req.Messages)-1].Text() == "wrong" {
			return "0"
		}
		return "1"
	}}
}

// inProcessLauncher runs workers as goroutines against the same agent.
type inProcessLauncher struct {
	agent   *SamplingAgent
	mu      sync.Mutex
	devices [][]string
}

func (l *inProcessLauncher) Launch(ctx context.Context, spec WorkerSpec) error {
	l.mu.Lock()
	l.devices = append(l.devices, spec.Devices)
	l.mu.Unlock()
	return l.agent.RunWorker(ctx, spec)
}

// encodingLauncher hands each spec to child the way ExecLauncher does: through
// its encoded command line form.
type encodingLauncher struct {
	child *SamplingAgent
}

func (l *encodingLauncher) Launch(ctx context.Context, spec WorkerSpec) error {
	encoded, err := spec.Encode()
	if err != nil {
		return err
	}
	decoded, err := DecodeWorkerSpec(encoded)
	if err != nil {
		return err
	}
	return l.child.RunWorker(ctx, decoded)
}

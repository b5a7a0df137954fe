package sampler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// DatasetLoader reads the full dataset.
type DatasetLoader interface {
	Load(ctx context.Context, uri string) ([]dataset.Record, error)
}

// Uploader copies a finished output file to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, fs afero.Fs, path, uri string) error
}

// Driver runs one worker: it owns a Sampler, the worker's output file and the
// I/O around it.
type Driver struct {
	sampler  *Sampler
	fs       afero.Fs
	loader   DatasetLoader
	uploader Uploader
	logger   logging.Interface
}

// NewDriver wires a sampler to its I/O. uploader may be nil when no upload
// URI is configured.
func NewDriver(s *Sampler, fs afero.Fs, loader DatasetLoader, uploader Uploader) *Driver {
	return &Driver{
		sampler:  s,
		fs:       fs,
		loader:   loader,
		uploader: uploader,
		logger:   s.logger.WithField("run_id", uuid.NewString()),
	}
}

// OutputPath is the file this worker writes.
func (d *Driver) OutputPath() string {
	return dataset.OutputPath(d.sampler.config.OutputDir, d.sampler.config.FilePrefix)
}

// Run samples the worker's shard and writes the output file. An existing
// output file makes Run a no-op unless OverrideExistFile is set.
func (d *Driver) Run(ctx context.Context) error {
	cfg := d.sampler.config
	out := d.OutputPath()

	exists, err := afero.Exists(d.fs, out)
	if err != nil {
		return fmt.Errorf("checking %s: %w", out, err)
	}
	if exists && !cfg.OverrideExistFile {
		d.logger.WithField("output", out).Info("Output file exists, skipping")
		return nil
	}

	records, err := d.loader.Load(ctx, cfg.Dataset)
	if err != nil {
		return fmt.Errorf("loading dataset %s: %w", cfg.Dataset, err)
	}
	shard, err := dataset.Shard(records, d.sampler.shard.Index, d.sampler.shard.Count)
	if err != nil {
		return err
	}

	batches := dataset.Batches(len(shard), cfg.BatchSize, cfg.NumBatches)
	d.logger.WithField("records", len(shard)).
		WithField("batches", len(batches)).
		Infof("Sampling %d of %d records", len(shard), len(records))

	var pairs []dataset.PreferencePair
	for i, b := range batches {
		d.logger.Infof("Sampling index: %d", i)
		batchPairs, err := d.sampler.SampleBatch(ctx, shard[b.Start:b.End])
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		pairs = append(pairs, batchPairs...)
		d.sampler.metrics.BatchCompleted()
	}

	if err := dataset.WritePairs(d.fs, out, pairs, d.logger); err != nil {
		return err
	}
	d.logger.WithField("output", out).Infof("Wrote %d preference pairs", len(pairs))

	if cfg.UploadURI == "" {
		return nil
	}
	if d.uploader == nil {
		return fmt.Errorf("upload_uri is set but object storage is not configured")
	}
	uri := strings.TrimRight(cfg.UploadURI, "/") + "/" + filepath.Base(out)
	if err := d.uploader.UploadFile(ctx, d.fs, out, uri); err != nil {
		return fmt.Errorf("uploading %s: %w", out, err)
	}
	return nil
}

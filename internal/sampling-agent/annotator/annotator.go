package annotator

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/logging"
	"github.com/sgl-project/sampling-agent/pkg/lossscale"
)

// Annotator adds agent loss scales to an SFT dataset.
type Annotator struct {
	Config *Config
	Logger logging.Interface
	fs     afero.Fs
}

func NewAnnotator(config *Config, fs afero.Fs) *Annotator {
	logger := config.AnotherLogger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Annotator{Config: config, Logger: logger, fs: fs}
}

// Run annotates the input file and replaces the output file with the result.
// It returns the number of annotated records.
func (a *Annotator) Run() (int, error) {
	data, err := afero.ReadFile(a.fs, a.Config.Input)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", a.Config.Input, err)
	}

	var out bytes.Buffer
	n, err := lossscale.Annotate(bytes.NewReader(data), &out)
	if err != nil {
		return 0, fmt.Errorf("annotating %s: %w", a.Config.Input, err)
	}

	output := a.Config.OutputPath()
	if err := afero.ReplaceFile(a.fs, output, out.Bytes(), 0644, a.Logger); err != nil {
		return 0, err
	}
	a.Logger.WithField("output", output).Infof("Annotated %d records with loss scales", n)
	return n, nil
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_loss_scale" + ext
}

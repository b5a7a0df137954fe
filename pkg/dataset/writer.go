package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

const outputSuffix = "_sampling.jsonl"

// OutputPath is the file a sampler with filePrefix writes into dir.
func OutputPath(dir, filePrefix string) string {
	return filepath.Join(dir, filePrefix+outputSuffix)
}

// WorkerPrefix derives the file prefix of worker index from the run prefix.
func WorkerPrefix(filePrefix string, index int) string {
	return fmt.Sprintf("%s_proc_%d", filePrefix, index)
}

// Encode writes pairs as JSON lines.
func Encode(w io.Writer, pairs []PreferencePair) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, p := range pairs {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encoding pair %d: %w", i, err)
		}
	}
	return nil
}

// WritePairs replaces the file at path with pairs, one JSON object per line.
// An empty pairs slice still produces an (empty) file so reruns see the
// output as done.
func WritePairs(fs afero.Fs, path string, pairs []PreferencePair, log logging.Interface) error {
	var buf bytes.Buffer
	if err := Encode(&buf, pairs); err != nil {
		return err
	}
	if err := afero.ReplaceFile(fs, path, buf.Bytes(), 0o644, log); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Merge concatenates the JSON-lines files in inputs, in order, into output.
// Every input must exist.
func Merge(fs afero.Fs, inputs []string, output string, log logging.Interface) (int, error) {
	var buf bytes.Buffer
	lines := 0
	for _, in := range inputs {
		data, err := afero.ReadFile(fs, in)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, fmt.Errorf("shard output %s does not exist", in)
			}
			return 0, fmt.Errorf("reading %s: %w", in, err)
		}
		if len(data) == 0 {
			continue
		}
		buf.Write(data)
		if data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
		lines += bytes.Count(data, []byte{'\n'})
		if data[len(data)-1] != '\n' {
			lines++
		}
	}
	if err := afero.ReplaceFile(fs, output, buf.Bytes(), 0o644, log); err != nil {
		return 0, fmt.Errorf("writing %s: %w", output, err)
	}
	return lines, nil
}

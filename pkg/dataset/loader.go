package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/sgl-project/sampling-agent/pkg/afero"
)

const maxLineBytes = 64 << 20

// ObjectReader fetches remote dataset files.
type ObjectReader interface {
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Loader reads datasets from the local file system or, for s3:// URIs, from
// object storage.
type Loader struct {
	fs      afero.Fs
	objects ObjectReader
}

// NewLoader returns a Loader. objects may be nil when only local paths are
// used.
func NewLoader(fs afero.Fs, objects ObjectReader) *Loader {
	return &Loader{fs: fs, objects: objects}
}

// Load reads every record from uri. Files ending in .json hold a single JSON
// array; anything else is read as JSON lines.
func (l *Loader) Load(ctx context.Context, uri string) ([]Record, error) {
	r, err := l.open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	if strings.EqualFold(path.Ext(uri), ".json") {
		return decodeArray(r)
	}
	return Decode(r)
}

func (l *Loader) open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if strings.HasPrefix(uri, "s3://") {
		if l.objects == nil {
			return nil, fmt.Errorf("cannot read %s: object storage is not configured", uri)
		}
		return l.objects.Get(ctx, uri)
	}
	f, err := l.fs.Open(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return f, nil
}

// Decode reads JSON lines from r. Blank lines are skipped; errors carry the
// 1-based line number.
func Decode(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if err := rec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading dataset")
	}
	return records, nil
}

func decodeArray(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decoding dataset array")
	}
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
	}
	return records, nil
}

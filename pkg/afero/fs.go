// Package afero exposes the file system used by the sampler behind spf13's
// afero.Fs so dataset, output and idempotence logic can run against an
// in-memory file system in tests.
package afero

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// Fs is the file system abstraction used across the sampler.
type Fs = afero.Fs

// NewOsFs returns the real operating system file system.
func NewOsFs() Fs { return afero.NewOsFs() }

// NewMemMapFs returns an empty in-memory file system.
func NewMemMapFs() Fs { return afero.NewMemMapFs() }

// Exists returns true and nil error if the given path exists.
func Exists(fs Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}

// ReadFile reads the whole named file.
func ReadFile(fs Fs, filename string) ([]byte, error) {
	return afero.ReadFile(fs, filename)
}

// ReplaceFile replaces the contents of destPath with data. The previous
// contents, if any, are discarded whole; readers never observe a partially
// written file on file systems with a working rename.
func ReplaceFile(fs Fs, destPath string, data []byte, fileMode os.FileMode, log logging.Interface) error {
	destDir, destFile := filepath.Split(destPath)
	if destDir == "" {
		destDir = "."
	}
	if log == nil {
		log = logging.Discard()
	}
	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", destDir, err)
	}

	log.WithField("destPath", destPath).
		WithField("bytes", len(data)).
		Debug("Writing file")

	if isRenameBugged(fs) {
		return afero.WriteFile(fs, destPath, data, fileMode)
	}

	tmp, err := afero.TempFile(fs, destDir, "."+destFile+"~")
	if err != nil {
		return fmt.Errorf("creating tmp file for atomic write: %w", err)
	}
	defer func() { _ = tmp.Close() }()
	defer func() { _ = fs.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("error writing into a temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := fs.Chmod(tmp.Name(), fileMode); err != nil {
		return fmt.Errorf("error setting mode on temp file: %w", err)
	}

	return fs.Rename(tmp.Name(), destPath)
}

// MemMapFs renames are not reliable across open handles; tests only need
// the final contents.
func isRenameBugged(fs Fs) bool {
	_, ok := fs.(*afero.MemMapFs)
	return ok
}

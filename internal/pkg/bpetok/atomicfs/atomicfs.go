// Package atomicfs writes groups of files so that either every file in the
// group is replaced or none is.
package atomicfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"bpetok/internal/pkg/bpetok/errs"
)

// File is one member of an atomic group.
type File struct {
	Path  string
	Write func(w io.Writer) error
}

type staged struct {
	target string
	tmp    string
	backup string
}

// WriteFiles stages every file under a temporary name next to its target,
// then renames the whole group into place. Targets that already exist are
// moved aside first and restored if any rename fails.
func WriteFiles(fs afero.Fs, files ...File) error {
	stages := make([]staged, 0, len(files))
	cleanup := func() {
		for _, s := range stages {
			_ = fs.Remove(s.tmp)
		}
	}

	for _, f := range files {
		dir := filepath.Dir(f.Path)
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return fmt.Errorf("%w: failed to create directory %s: %w", errs.ErrIO, dir, err)
		}
		tmp, err := stage(fs, f)
		if err != nil {
			cleanup()
			return err
		}
		stages = append(stages, staged{target: f.Path, tmp: tmp})
	}

	for i := range stages {
		exists, err := afero.Exists(fs, stages[i].target)
		if err != nil {
			restore(fs, stages, 0)
			cleanup()
			return fmt.Errorf("%w: failed to stat %s: %w", errs.ErrIO, stages[i].target, err)
		}
		if !exists {
			continue
		}
		backup := stages[i].tmp + ".bak"
		if err := fs.Rename(stages[i].target, backup); err != nil {
			restore(fs, stages, 0)
			cleanup()
			return fmt.Errorf("%w: failed to move aside %s: %w", errs.ErrIO, stages[i].target, err)
		}
		stages[i].backup = backup
	}

	for i, s := range stages {
		if err := fs.Rename(s.tmp, s.target); err != nil {
			log.Debug().Err(err).Str("path", s.target).Msg("Rolling back partial write")
			restore(fs, stages, i)
			cleanup()
			return fmt.Errorf("%w: failed to rename into %s: %w", errs.ErrIO, s.target, err)
		}
	}

	for _, s := range stages {
		if s.backup != "" {
			_ = fs.Remove(s.backup)
		}
	}
	return nil
}

func stage(fs afero.Fs, f File) (string, error) {
	tmp, err := afero.TempFile(fs, filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temporary file for %s: %w", errs.ErrIO, f.Path, err)
	}
	name := tmp.Name()

	if err := f.Write(tmp); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(name)
		return "", fmt.Errorf("%w: failed to write %s: %w", errs.ErrIO, f.Path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(name)
		return "", fmt.Errorf("%w: failed to close %s: %w", errs.ErrIO, f.Path, err)
	}
	if err := fs.Chmod(name, 0o644); err != nil && !os.IsNotExist(err) {
		_ = fs.Remove(name)
		return "", fmt.Errorf("%w: failed to chmod %s: %w", errs.ErrIO, f.Path, err)
	}
	return name, nil
}

// restore undoes the renames of stages[:done] and puts every backup back.
func restore(fs afero.Fs, stages []staged, done int) {
	for i, s := range stages {
		if i < done {
			_ = fs.Remove(s.target)
		}
		if s.backup != "" {
			_ = fs.Rename(s.backup, s.target)
		}
	}
}

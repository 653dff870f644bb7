package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// IncompleteSuffix marks output files that are still being written or failed.
const IncompleteSuffix = ".incomplete"

var errSinkClosed = errors.New("sink already closed")

// FileSink writes reconstructed data to "<path>.incomplete" and only moves it
// to path on Commit. A failed download never leaves a file at path.
type FileSink struct {
	path string
	tmp  string
	f    *os.File
}

// CreateFileSink creates the parent directory and the incomplete file.
func CreateFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	tmp := path + IncompleteSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &FileSink{path: path, tmp: tmp, f: f}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	if s.f == nil {
		return 0, errSinkClosed
	}
	return s.f.Write(p)
}

// Path is the final output path.
func (s *FileSink) Path() string { return s.path }

// IncompletePath is where data lives until Commit.
func (s *FileSink) IncompletePath() string { return s.tmp }

// Commit syncs the data and renames the incomplete file to its final path.
func (s *FileSink) Commit() error {
	if s.f == nil {
		return errSinkClosed
	}
	f := s.f
	s.f = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(s.tmp, s.path); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	return nil
}

// Abort closes the file and leaves the incomplete marker in place.
func (s *FileSink) Abort() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Discard aborts and removes the incomplete file.
func (s *FileSink) Discard() error {
	if err := s.Abort(); err != nil {
		return err
	}
	if err := os.Remove(s.tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

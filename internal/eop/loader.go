package eop

import (
	"fmt"
	"log/slog"
	"os"
)

// Loader supplies the validated rows of one EOP file.
type Loader interface {
	Load() ([]Record, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func() ([]Record, error)

// Load calls f.
func (f LoaderFunc) Load() ([]Record, error) {
	return f()
}

// FileLoader parses an EOP file from disk.
type FileLoader struct {
	Path   string
	Format Format
	Logger *slog.Logger
}

// Load opens and parses the file.
func (l FileLoader) Load() ([]Record, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("opening EOP file: %w", err)
	}
	defer f.Close()

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	records, err := Parse(f, l.Format, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Path, err)
	}
	return records, nil
}

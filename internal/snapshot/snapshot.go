package snapshot

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable means the snapshot does not exist or could not be read.
var ErrUnavailable = errors.New("snapshot unavailable")

// Snapshot is a static station list used when a live directory cannot be
// reached.
type Snapshot interface {
	Load(ctx context.Context) ([]models.StationDescriptor, error)
	Name() string
}

//go:embed data/*.csv
var bundled embed.FS

const (
	CanadianFile = "canadian_tide_stations.csv"
	USFile       = "tide_stations.csv"
)

// FileSnapshot reads a CSV from the local filesystem.
type FileSnapshot struct {
	Path   string
	Source models.Source
}

func NewFileSnapshot(path string, source models.Source) *FileSnapshot {
	return &FileSnapshot{Path: path, Source: source}
}

func (s *FileSnapshot) Name() string {
	return "file:" + s.Path
}

func (s *FileSnapshot) Load(ctx context.Context) ([]models.StationDescriptor, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Error().Err(err).Str("path", s.Path).Msg("Error closing snapshot file")
		}
	}()

	descriptors, err := Decode(f, s.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.Path, err)
	}
	return descriptors, nil
}

// EmbeddedSnapshot reads one of the CSVs compiled into the binary.
type EmbeddedSnapshot struct {
	File   string
	Source models.Source
	fsys   fs.FS
}

func NewEmbeddedSnapshot(file string, source models.Source) *EmbeddedSnapshot {
	return &EmbeddedSnapshot{File: file, Source: source, fsys: bundled}
}

func (s *EmbeddedSnapshot) Name() string {
	return "embedded:" + s.File
}

func (s *EmbeddedSnapshot) Load(ctx context.Context) ([]models.StationDescriptor, error) {
	f, err := s.fsys.Open("data/" + s.File)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	descriptors, err := Decode(f, s.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, s.File, err)
	}
	return descriptors, nil
}

// ChainSnapshot returns the first member that loads a non-empty list.
type ChainSnapshot struct {
	members []Snapshot
}

func NewChainSnapshot(members ...Snapshot) *ChainSnapshot {
	var kept []Snapshot
	for _, m := range members {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &ChainSnapshot{members: kept}
}

func (c *ChainSnapshot) Name() string {
	return fmt.Sprintf("chain(%d)", len(c.members))
}

func (c *ChainSnapshot) Load(ctx context.Context) ([]models.StationDescriptor, error) {
	var errs []error
	for _, m := range c.members {
		descriptors, err := m.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Str("snapshot", m.Name()).Msg("Snapshot failed to load, trying next")
			errs = append(errs, err)
			continue
		}
		if len(descriptors) == 0 {
			log.Warn().Str("snapshot", m.Name()).Msg("Snapshot is empty, trying next")
			continue
		}
		log.Info().Str("snapshot", m.Name()).Int("stations", len(descriptors)).Msg("Loaded snapshot")
		return descriptors, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no snapshot configured or all empty", ErrUnavailable)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

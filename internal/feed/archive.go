package feed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Archive keeps the raw body of the most recent snapshot on disk, named after its tick.
type Archive struct {
	dir    string
	logger zerolog.Logger
	last   string
}

// NewArchive returns an archive writing into dir.
func NewArchive(dir string, logger zerolog.Logger) (*Archive, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("archive dir must not be empty")
	}
	return &Archive{dir: dir, logger: logger}, nil
}

// PathFor returns the file name used for a tick.
func (a *Archive) PathFor(tick uint64) string {
	return filepath.Join(a.dir, fmt.Sprintf("snapshot_%06d.json", tick))
}

// Save writes body atomically for tick and removes the previously saved snapshot.
func (a *Archive) Save(tick uint64, body []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(a.dir, ".snapshot-*.json")
	if err != nil {
		return "", err
	}
	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	if _, err := tempFile.Write(body); err != nil {
		_ = tempFile.Close()
		cleanup()
		return "", err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return "", err
	}

	path := a.PathFor(tick)
	if err := os.Rename(tempFile.Name(), path); err != nil {
		cleanup()
		return "", err
	}

	if a.last != "" && a.last != path {
		if err := os.Remove(a.last); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn().Err(err).Str("path", a.last).Msg("failed to remove previous snapshot")
		}
	}
	a.last = path
	return path, nil
}

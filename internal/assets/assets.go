// Package assets places finished artifacts where the renderer loads them.
//
// Each staged copy gets a fresh loaded_<unix-ms>.ply name so an asset loader
// that caches by path always sees a new file.
package assets

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const stagedPrefix = "loaded_"

type Config struct {
	Dir string `mapstructure:"dir"`
}

func (c *Config) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "assets"
	}
}

type Stager struct {
	mu   sync.Mutex
	fs   afero.Fs
	dir  string
	now  func() time.Time
	last int64
}

func NewStager(fs afero.Fs, config Config) *Stager {
	config.SetDefaults()
	return &Stager{fs: fs, dir: config.Dir, now: time.Now}
}

func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies src into a freshly named file and removes older staged copies.
func (s *Stager) Stage(src string) (string, error) {
	data, err := afero.ReadFile(s.fs, src)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", src, err)
	}
	return s.StageBytes(data)
}

func (s *Stager) StageBytes(data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	path := filepath.Join(s.dir, s.nextName())
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write staged asset: %w", err)
	}

	s.removeOlder(path)
	return path, nil
}

// nextName is strictly increasing even when two stages share a millisecond.
func (s *Stager) nextName() string {
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return stagedPrefix + strconv.FormatInt(ms, 10) + ".ply"
}

func (s *Stager) removeOlder(keep string) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, stagedPrefix+"*.ply"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list staged assets")
		return
	}
	for _, m := range matches {
		if m == keep || !strings.HasPrefix(filepath.Base(m), stagedPrefix) {
			continue
		}
		if err := s.fs.Remove(m); err != nil {
			log.Warn().Err(err).Str("file", m).Msg("Failed to remove old staged asset")
		}
	}
}

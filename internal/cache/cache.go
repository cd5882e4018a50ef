// Package cache keeps reconstructed .ply artifacts on disk keyed by a logical
// name. A file's modification time is its only metadata.
//
// There is no in-process lock. Concurrent Store and SweepExpired calls on the
// same name race at the filesystem level and the last writer wins.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const Suffix = ".ply"

var ErrInvalidName = errors.New("invalid cache name")

type Config struct {
	Dir           string        `mapstructure:"dir"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func (c *Config) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "cache/ply"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
}

type Stats struct {
	FileCount      int   `json:"fileCount"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
}

func (s Stats) TotalSizeMB() float64 {
	return float64(s.TotalSizeBytes) / (1024 * 1024)
}

type Cache struct {
	fs     afero.Fs
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

func New(fs afero.Fs, config Config) (*Cache, error) {
	config.SetDefaults()
	if err := fs.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		fs:     fs,
		dir:    config.Dir,
		maxAge: config.MaxAge,
		now:    time.Now,
	}, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) MaxAge() time.Duration {
	return c.maxAge
}

// Path returns where name is stored. It does not check that the entry exists.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, name+Suffix)
}

// NameFor derives the logical cache name from a source image path: its file
// name without extension. Two images with the same stem share an entry.
func NameFor(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// IsValid reports whether name exists and is younger than the max age. Any
// error counts as not valid.
func (c *Cache) IsValid(name string) bool {
	if !validName(name) {
		return false
	}
	info, err := c.fs.Stat(c.Path(name))
	if err != nil || info.IsDir() {
		return false
	}
	return c.fresh(info)
}

// fresh treats a modification time in the future as invalid.
func (c *Cache) fresh(info os.FileInfo) bool {
	age := c.now().Sub(info.ModTime())
	return age >= 0 && age < c.maxAge
}

// Load returns the stored bytes, or nil when the entry is missing, expired or
// unreadable.
func (c *Cache) Load(name string) []byte {
	if !c.IsValid(name) {
		return nil
	}
	data, err := afero.ReadFile(c.fs, c.Path(name))
	if err != nil {
		log.Debug().Err(err).Str("name", name).Msg("Cache read failed, treating as miss")
		return nil
	}
	return data
}

// Store writes data under name, overwriting any previous entry, and resets its
// age.
func (c *Cache) Store(name string, data []byte) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := c.Path(name)
	if err := afero.WriteFile(c.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", name, err)
	}
	// Age restarts at every Store, even for identical content.
	now := c.now()
	if err := c.fs.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("failed to refresh cache entry %s: %w", name, err)
	}

	log.Debug().Str("name", name).Int("bytes", len(data)).Msg("Stored cache entry")
	return nil
}

// SweepExpired removes every entry at or past the max age and returns how many
// were removed. Entries whose metadata cannot be read are skipped.
func (c *Cache) SweepExpired() (int, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range entries {
		if c.now().Sub(info.ModTime()) < c.maxAge {
			continue
		}
		if err := c.fs.Remove(filepath.Join(c.dir, info.Name())); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("failed to remove %s: %w", info.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) Stats() Stats {
	var stats Stats
	entries, err := c.entries()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to collect cache stats")
		return stats
	}
	for _, info := range entries {
		stats.FileCount++
		stats.TotalSizeBytes += info.Size()
	}
	return stats
}

// entries lists cache files. Names that cannot be stat'ed are skipped.
func (c *Cache) entries() ([]os.FileInfo, error) {
	dir, err := c.fs.Open(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache directory: %w", err)
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		if filepath.Ext(name) != Suffix {
			continue
		}
		info, err := c.fs.Stat(filepath.Join(c.dir, name))
		if err != nil {
			log.Debug().Err(err).Str("file", name).Msg("Skipping unreadable cache entry")
			continue
		}
		if info.IsDir() {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

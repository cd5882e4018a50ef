// Package session drives one upload, process and download run at a time and
// publishes its progress as a status.Status.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prappser/splatfetch/internal/downloader"
	"github.com/prappser/splatfetch/internal/prune"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const processingStage = "running inference on the server..."

type Uploader interface {
	Predict(ctx context.Context, filename string, image []byte) (string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, jobID string, progress downloader.ProgressFunc) ([]byte, error)
}

type Pruner interface {
	Enabled() bool
	Prune(data []byte, progress prune.ProgressFunc) (*prune.Result, error)
}

type Config struct {
	ArtifactPath string `mapstructure:"artifact_path"`
	PrunedPath   string `mapstructure:"pruned_path"`
}

func (c *Config) SetDefaults() {
	if c.ArtifactPath == "" {
		c.ArtifactPath = "assets/generated.ply"
	}
	if c.PrunedPath == "" {
		ext := filepath.Ext(c.ArtifactPath)
		c.PrunedPath = c.ArtifactPath[:len(c.ArtifactPath)-len(ext)] + "_pruned" + ext
	}
}

type Session struct {
	fs       afero.Fs
	uploader Uploader
	fetcher  Fetcher
	pruner   Pruner
	config   Config
	holder   *status.Holder
	wg       sync.WaitGroup
}

// New builds an idle session. pruner may be nil.
func New(fs afero.Fs, uploader Uploader, fetcher Fetcher, pruner Pruner, config Config) *Session {
	config.SetDefaults()
	return &Session{
		fs:       fs,
		uploader: uploader,
		fetcher:  fetcher,
		pruner:   pruner,
		config:   config,
		holder:   status.NewHolder(),
	}
}

func (s *Session) Status() status.Status {
	return s.holder.Get()
}

func (s *Session) ArtifactPath() string {
	return s.config.ArtifactPath
}

// Begin starts a run for the image at path in the background. It returns false
// and changes nothing when a run is already active.
func (s *Session) Begin(path string) bool {
	if !s.holder.StartIf(status.IsTerminal, status.Uploading{Progress: 0}) {
		log.Debug().Str("path", path).Msg("Rejected begin while a run is active")
		return false
	}

	runID := uuid.New().String()
	logger := log.With().Str("runId", runID).Str("path", path).Logger()
	logger.Info().Msg("Starting run")
	logger.Debug().Str("status", status.Uploading{}.String()).Msg("Status changed")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(logger, path)
	}()
	return true
}

// Wait blocks until every started run has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// BeginSelect marks that a file picker is open. It fails while a run is
// active or another selection is pending.
func (s *Session) BeginSelect() bool {
	return s.holder.StartIf(status.IsTerminal, status.SelectingFile{})
}

// EndSelect returns from SelectingFile to Idle.
func (s *Session) EndSelect() {
	s.holder.StartIf(func(st status.Status) bool {
		_, ok := st.(status.SelectingFile)
		return ok
	}, status.Idle{})
}

// Reset returns a finished session to Idle.
func (s *Session) Reset() {
	s.holder.StartIf(status.IsTerminal, status.Idle{})
}

// OnChange forwards every transition to fn. Call it before the first Begin.
func (s *Session) OnChange(fn func(status.Status)) {
	s.holder.OnChange(fn)
}

func (s *Session) set(logger zerolog.Logger, st status.Status) {
	s.holder.Set(st)
	logger.Debug().Str("status", st.String()).Msg("Status changed")
}

func (s *Session) fail(logger zerolog.Logger, err error, what string) {
	logger.Error().Err(err).Msg("Run failed: " + what)
	s.set(logger, status.Failed{Message: fmt.Sprintf("%s: %v", what, err)})
}

func (s *Session) run(logger zerolog.Logger, path string) {
	ctx := context.Background()
	start := time.Now()

	image, err := afero.ReadFile(s.fs, path)
	if err != nil {
		s.fail(logger, err, "failed to read image")
		return
	}
	s.set(logger, status.Uploading{Progress: 0.5})

	jobID, err := s.uploader.Predict(ctx, filepath.Base(path), image)
	if err != nil {
		s.fail(logger, err, "upload failed")
		return
	}
	s.set(logger, status.Uploading{Progress: 1})
	logger = logger.With().Str("jobId", jobID).Logger()

	s.set(logger, status.Processing{Stage: processingStage})
	s.set(logger, status.Downloading{Progress: 0})

	artifact, err := s.fetcher.Fetch(ctx, jobID, func(done, total int) {
		s.set(logger, status.Downloading{Progress: float64(done) / float64(total)})
	})
	if err != nil {
		s.fail(logger, err, "download failed")
		return
	}

	if err := s.persist(s.config.ArtifactPath, artifact); err != nil {
		s.fail(logger, err, "failed to save model")
		return
	}

	prunedPath := s.maybePrune(logger, artifact)

	elapsed := time.Since(start)
	logger.Info().
		Str("artifactPath", s.config.ArtifactPath).
		Int("bytes", len(artifact)).
		Dur("elapsed", elapsed).
		Msg("Run completed")
	s.set(logger, status.Completed{
		ArtifactPath: s.config.ArtifactPath,
		PrunedPath:   prunedPath,
		TotalTime:    elapsed,
	})
}

func (s *Session) persist(path string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, path, data, 0644)
}

// maybePrune writes a pruned copy beside the artifact. A pruning failure is
// logged and leaves the run successful without a pruned path.
func (s *Session) maybePrune(logger zerolog.Logger, artifact []byte) string {
	if s.pruner == nil || !s.pruner.Enabled() {
		return ""
	}

	result, err := s.pruner.Prune(artifact, func(p float64) {
		s.set(logger, status.Pruning{Progress: p})
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Pruning failed, keeping unpruned model only")
		return ""
	}
	if err := s.persist(s.config.PrunedPath, result.Data); err != nil {
		logger.Warn().Err(err).Str("path", s.config.PrunedPath).Msg("Failed to save pruned model")
		return ""
	}

	logger.Info().
		Int("inputVertices", result.InputVertices).
		Int("outputVertices", result.OutputVertices).
		Str("prunedPath", s.config.PrunedPath).
		Msg("Pruned model")
	return s.config.PrunedPath
}

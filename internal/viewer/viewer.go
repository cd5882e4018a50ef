// Package viewer is the caller side of a session: it checks the cache, starts
// runs on a miss and hands finished models to the renderer.
package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/prappser/splatfetch/internal/cache"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrPickerCancelled = errors.New("file selection cancelled")

// Renderer displays a staged .ply model.
type Renderer interface {
	Render(path string) error
}

// Picker asks the user for a source image. ok is false when they cancel.
type Picker interface {
	Pick(ctx context.Context) (path string, ok bool, err error)
}

// Notifier receives every status change the controller observes.
type Notifier interface {
	Notify(s status.Status)
}

type Session interface {
	Status() status.Status
	Begin(path string) bool
	BeginSelect() bool
	EndSelect()
	Reset()
}

type Stager interface {
	Stage(src string) (string, error)
	StageBytes(data []byte) (string, error)
}

type Outcome string

const (
	OutcomeBusy     Outcome = "busy"
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeStarted  Outcome = "started"
)

type Controller struct {
	session  Session
	cache    *cache.Cache
	stager   Stager
	renderer Renderer
	notifier Notifier
	fs       afero.Fs

	mu       sync.Mutex
	pending  string
	lastText string
}

// NewController wires the collaborators. notifier may be nil.
func NewController(fs afero.Fs, session Session, c *cache.Cache, stager Stager, renderer Renderer, notifier Notifier) *Controller {
	return &Controller{
		fs:       fs,
		session:  session,
		cache:    c,
		stager:   stager,
		renderer: renderer,
		notifier: notifier,
	}
}

// Import shows the cached model for path if one is fresh, otherwise starts a
// run. Nothing happens while a run or file selection is active.
func (c *Controller) Import(path string) (Outcome, error) {
	if !status.IsTerminal(c.session.Status()) {
		log.Info().Str("path", path).Msg("Import ignored, a run is in progress")
		return OutcomeBusy, nil
	}

	name := cache.NameFor(path)
	if data := c.cache.Load(name); data != nil {
		log.Info().Str("name", name).Int("bytes", len(data)).Msg("Cache hit, skipping server")
		staged := func() (string, error) { return c.stager.StageBytes(data) }
		return OutcomeCacheHit, c.show(staged, c.cache.Path(name))
	}

	if !c.session.Begin(path) {
		return OutcomeBusy, nil
	}

	c.mu.Lock()
	c.pending = name
	c.mu.Unlock()

	log.Info().Str("path", path).Str("name", name).Msg("Cache miss, started run")
	return OutcomeStarted, nil
}

// ImportDialog runs picker inside the SelectingFile state and imports the
// chosen file.
func (c *Controller) ImportDialog(ctx context.Context, picker Picker) (Outcome, error) {
	if !c.session.BeginSelect() {
		return OutcomeBusy, nil
	}
	c.Tick()

	path, ok, err := picker.Pick(ctx)
	c.session.EndSelect()
	if err != nil {
		return "", fmt.Errorf("file picker: %w", err)
	}
	if !ok {
		return "", ErrPickerCancelled
	}
	return c.Import(path)
}

// Tick polls the session once. On completion it caches, stages and renders
// the artifact, then resets the session.
func (c *Controller) Tick() {
	current := c.session.Status()

	c.mu.Lock()
	changed := current.String() != c.lastText
	c.lastText = current.String()
	c.mu.Unlock()

	if changed && c.notifier != nil {
		c.notifier.Notify(current)
	}

	switch st := current.(type) {
	case status.Completed:
		c.finish(st)
		c.session.Reset()
	case status.Failed:
		c.mu.Lock()
		c.pending = ""
		c.mu.Unlock()
	}
}

func (c *Controller) finish(st status.Completed) {
	c.mu.Lock()
	name := c.pending
	c.pending = ""
	c.mu.Unlock()

	if name != "" {
		data, err := afero.ReadFile(c.fs, st.ArtifactPath)
		if err != nil {
			log.Error().Err(err).Str("path", st.ArtifactPath).Msg("Failed to read artifact for caching")
		} else if err := c.cache.Store(name, data); err != nil {
			log.Error().Err(err).Str("name", name).Msg("Failed to cache artifact")
		} else {
			log.Info().Str("name", name).Msg("Cached artifact")
		}
	}

	src := st.ArtifactPath
	if st.PrunedPath != "" {
		src = st.PrunedPath
	}
	staged := func() (string, error) { return c.stager.Stage(src) }
	if err := c.show(staged, src); err != nil {
		log.Error().Err(err).Msg("Failed to display model")
	}
}

// show stages a model and renders it, or renders fallback in place when
// staging fails.
func (c *Controller) show(stage func() (string, error), fallback string) error {
	path, err := stage()
	if err != nil {
		log.Warn().Err(err).Str("fallback", fallback).Msg("Failed to stage model, loading it in place")
		path = fallback
	}
	return c.renderer.Render(path)
}

// LogRenderer only records what would be displayed.
type LogRenderer struct{}

func (LogRenderer) Render(path string) error {
	log.Info().Str("path", path).Msg("Model ready to display")
	return nil
}

// ReaderPicker reads one path per line, for terminals and scripts.
type ReaderPicker struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
}

func NewReaderPicker(r io.Reader) *ReaderPicker {
	return &ReaderPicker{scanner: bufio.NewScanner(r)}
}

func (p *ReaderPicker) Pick(ctx context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if !p.scanner.Scan() {
		return "", false, p.scanner.Err()
	}
	path := strings.TrimSpace(p.scanner.Text())
	return path, path != "", nil
}

package viewer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prappser/splatfetch/internal/assets"
	"github.com/prappser/splatfetch/internal/cache"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type mockSession struct {
	mu      sync.Mutex
	current status.Status
	begun   []string
}

func newMockSession() *mockSession {
	return &mockSession{current: status.Idle{}}
}

func (m *mockSession) Status() status.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *mockSession) set(s status.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
}

func (m *mockSession) Begin(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !status.IsTerminal(m.current) {
		return false
	}
	m.begun = append(m.begun, path)
	m.current = status.Uploading{}
	return true
}

func (m *mockSession) BeginSelect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !status.IsTerminal(m.current) {
		return false
	}
	m.current = status.SelectingFile{}
	return true
}

func (m *mockSession) EndSelect() { m.set(status.Idle{}) }

func (m *mockSession) Reset() { m.set(status.Idle{}) }

type mockRenderer struct {
	paths []string
	err   error
}

func (m *mockRenderer) Render(path string) error {
	m.paths = append(m.paths, path)
	return m.err
}

type mockNotifier struct {
	texts []string
}

func (m *mockNotifier) Notify(s status.Status) {
	m.texts = append(m.texts, s.String())
}

type fixture struct {
	fs       afero.Fs
	session  *mockSession
	cache    *cache.Cache
	renderer *mockRenderer
	notifier *mockNotifier
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	c, err := cache.New(fs, cache.Config{Dir: "cache/ply", MaxAge: time.Hour})
	require.NoError(t, err)
	f := &fixture{
		fs:       fs,
		session:  newMockSession(),
		cache:    c,
		renderer: &mockRenderer{},
		notifier: &mockNotifier{},
	}
	f.ctrl = NewController(fs, f.session, c, assets.NewStager(fs, assets.Config{Dir: "assets"}), f.renderer, f.notifier)
	return f
}

func TestImport_CacheHit_ShouldSkipPipeline(t *testing.T) {
	// given
	f := newFixture(t)
	require.NoError(t, f.cache.Store("chair", []byte("cached-model")))

	// when
	outcome, err := f.ctrl.Import("/photos/chair.jpg")

	// then
	require.NoError(t, err)
	assert.Equal(t, OutcomeCacheHit, outcome)
	assert.Empty(t, f.session.begun)
	require.Len(t, f.renderer.paths, 1)
	assert.True(t, strings.HasPrefix(f.renderer.paths[0], "assets/loaded_"))
	staged, err := afero.ReadFile(f.fs, f.renderer.paths[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-model"), staged)
}

func TestImport_MissThenComplete_ShouldStoreInCache(t *testing.T) {
	// given
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "assets/generated.ply", []byte("fresh-model"), 0644))

	// when
	outcome, err := f.ctrl.Import("/photos/lamp.png")
	require.NoError(t, err)
	f.ctrl.Tick()
	f.session.set(status.Completed{ArtifactPath: "assets/generated.ply", TotalTime: time.Second})
	f.ctrl.Tick()

	// then
	assert.Equal(t, OutcomeStarted, outcome)
	assert.Equal(t, []string{"/photos/lamp.png"}, f.session.begun)
	assert.Equal(t, []byte("fresh-model"), f.cache.Load("lamp"))
	require.Len(t, f.renderer.paths, 1)
	assert.Equal(t, status.KindIdle, f.session.Status().Kind())
	assert.Equal(t, []string{"uploading... 0%", "completed in 1.00s: assets/generated.ply"}, f.notifier.texts)
}

func TestImport_WhileBusy_ShouldDoNothing(t *testing.T) {
	f := newFixture(t)
	f.session.set(status.Downloading{Progress: 0.3})
	require.NoError(t, f.cache.Store("chair", []byte("cached")))

	outcome, err := f.ctrl.Import("chair.jpg")

	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Empty(t, f.renderer.paths)
	assert.Empty(t, f.session.begun)
}

func TestTick_Failed_ShouldNotCache(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Import("tree.jpg")
	require.NoError(t, err)

	f.session.set(status.Failed{Message: "download failed"})
	f.ctrl.Tick()

	assert.False(t, f.cache.IsValid("tree"))
	assert.Equal(t, []string{"error: download failed"}, f.notifier.texts)
	assert.Empty(t, f.renderer.paths)
}

func TestTick_CompletedWithPrunedCopy_ShouldRenderPruned(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "assets/generated.ply", []byte("raw"), 0644))
	require.NoError(t, afero.WriteFile(f.fs, "assets/generated_pruned.ply", []byte("pruned"), 0644))
	_, err := f.ctrl.Import("tree.jpg")
	require.NoError(t, err)

	f.session.set(status.Completed{ArtifactPath: "assets/generated.ply", PrunedPath: "assets/generated_pruned.ply"})
	f.ctrl.Tick()

	require.Len(t, f.renderer.paths, 1)
	rendered, _ := afero.ReadFile(f.fs, f.renderer.paths[0])
	assert.Equal(t, []byte("pruned"), rendered)
	assert.Equal(t, []byte("raw"), f.cache.Load("tree"))
}

type fixedPicker struct {
	path string
	ok   bool
	err  error
}

func (p fixedPicker) Pick(ctx context.Context) (string, bool, error) {
	return p.path, p.ok, p.err
}

func TestImportDialog(t *testing.T) {
	t.Run("chosen file is imported", func(t *testing.T) {
		f := newFixture(t)

		outcome, err := f.ctrl.ImportDialog(context.Background(), fixedPicker{path: "rock.jpg", ok: true})

		require.NoError(t, err)
		assert.Equal(t, OutcomeStarted, outcome)
		assert.Contains(t, f.notifier.texts, "waiting for file selection...")
	})

	t.Run("cancel returns to idle", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.ctrl.ImportDialog(context.Background(), fixedPicker{})

		assert.ErrorIs(t, err, ErrPickerCancelled)
		assert.Equal(t, status.KindIdle, f.session.Status().Kind())
	})

	t.Run("picker error is returned", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.ctrl.ImportDialog(context.Background(), fixedPicker{err: errors.New("no display")})

		assert.ErrorContains(t, err, "no display")
	})
}

func TestReaderPicker_ShouldReadLines(t *testing.T) {
	picker := NewReaderPicker(strings.NewReader("  a.jpg \n\n"))

	path, ok, err := picker.Pick(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a.jpg", path)

	_, ok, err = picker.Pick(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImportEndpoint(t *testing.T) {
	// given
	f := newFixture(t)
	require.NoError(t, f.cache.Store("chair", []byte("cached")))
	endpoints := NewEndpoints(f.ctrl, nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetBodyString(`{"path":"chair.jpg"}`)

	// when
	endpoints.Import(&ctx)

	// then
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var resp ImportResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, OutcomeCacheHit, resp.Outcome)
}

func TestImportEndpoint_BadBody(t *testing.T) {
	f := newFixture(t)
	endpoints := NewEndpoints(f.ctrl, nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetBodyString(`{}`)
	endpoints.Import(&ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	var dialog fasthttp.RequestCtx
	endpoints.ImportDialog(&dialog)
	assert.Equal(t, fasthttp.StatusNotImplemented, dialog.Response.StatusCode())
}

package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prappser/splatfetch/internal/downloader"
	"github.com/prappser/splatfetch/internal/prune"
	"github.com/prappser/splatfetch/internal/remote"
	"github.com/prappser/splatfetch/internal/remote/remotetest"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	jobID string
	err   error
	calls int
}

func (m *mockUploader) Predict(ctx context.Context, filename string, image []byte) (string, error) {
	m.calls++
	return m.jobID, m.err
}

type mockFetcher struct {
	data    []byte
	err     error
	chunks  int
	release chan struct{}
}

func (m *mockFetcher) Fetch(ctx context.Context, jobID string, progress downloader.ProgressFunc) ([]byte, error) {
	if m.release != nil {
		<-m.release
	}
	for i := 1; i <= m.chunks; i++ {
		progress(i, m.chunks)
	}
	return m.data, m.err
}

type mockPruner struct {
	enabled bool
	err     error
}

func (m *mockPruner) Enabled() bool { return m.enabled }

func (m *mockPruner) Prune(data []byte, progress prune.ProgressFunc) (*prune.Result, error) {
	progress(0)
	if m.err != nil {
		return nil, m.err
	}
	progress(1)
	return &prune.Result{Data: data[:len(data)/2], InputVertices: 2, OutputVertices: 1}, nil
}

type recorder struct {
	mu    sync.Mutex
	kinds []status.Kind
}

func (r *recorder) observe(s status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.kinds); n > 0 && r.kinds[n-1] == s.Kind() {
		return
	}
	r.kinds = append(r.kinds, s.Kind())
}

func (r *recorder) sequence() []status.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.Kind{status.KindIdle}, r.kinds...)
}

func newTestSession(t *testing.T, up Uploader, fetch Fetcher, pruner Pruner) (*Session, afero.Fs, *recorder) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "photos/chair.jpg", []byte("jpeg-bytes"), 0644))
	s := New(fs, up, fetch, pruner, Config{ArtifactPath: "assets/generated.ply"})
	rec := &recorder{}
	s.OnChange(rec.observe)
	return s, fs, rec
}

func TestBegin_SuccessfulRun_ShouldVisitStatesInOrder(t *testing.T) {
	// given
	artifact := []byte("ply\nbinary-model")
	s, fs, rec := newTestSession(t, &mockUploader{jobID: "job-1"}, &mockFetcher{data: artifact, chunks: 3}, nil)

	// when
	started := s.Begin("photos/chair.jpg")
	s.Wait()

	// then
	require.True(t, started)
	assert.Equal(t, []status.Kind{
		status.KindIdle,
		status.KindUploading,
		status.KindProcessing,
		status.KindDownloading,
		status.KindCompleted,
	}, rec.sequence())

	completed, ok := s.Status().(status.Completed)
	require.True(t, ok)
	assert.Equal(t, "assets/generated.ply", completed.ArtifactPath)
	assert.Empty(t, completed.PrunedPath)

	saved, err := afero.ReadFile(fs, "assets/generated.ply")
	require.NoError(t, err)
	assert.Equal(t, artifact, saved)
}

func TestBegin_PredictFailure_ShouldGoStraightToError(t *testing.T) {
	// given
	fetcher := &mockFetcher{data: []byte("x")}
	s, _, rec := newTestSession(t, &mockUploader{err: errors.New("connection refused")}, fetcher, nil)

	// when
	s.Begin("photos/chair.jpg")
	s.Wait()

	// then
	assert.Equal(t, []status.Kind{status.KindIdle, status.KindUploading, status.KindError}, rec.sequence())
	failed, ok := s.Status().(status.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "connection refused")
}

func TestBegin_MissingImage_ShouldFailWithoutUpload(t *testing.T) {
	uploader := &mockUploader{jobID: "job"}
	s, _, _ := newTestSession(t, uploader, &mockFetcher{}, nil)

	s.Begin("photos/missing.jpg")
	s.Wait()

	assert.Equal(t, status.KindError, s.Status().Kind())
	assert.Equal(t, 0, uploader.calls)
}

func TestBegin_DownloadFailure_ShouldCarryDiagnostic(t *testing.T) {
	fetcher := &mockFetcher{err: &downloader.DownloadError{Kind: downloader.KindMissingChunk, Chunk: 4}}
	s, _, rec := newTestSession(t, &mockUploader{jobID: "job"}, fetcher, nil)

	s.Begin("photos/chair.jpg")
	s.Wait()

	failed, ok := s.Status().(status.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "chunk 4 missing")
	assert.NotContains(t, rec.sequence(), status.KindCompleted)
}

func TestBegin_PersistFailure_ShouldFail(t *testing.T) {
	// given
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "photos/chair.jpg", []byte("jpeg"), 0644))
	s := New(afero.NewReadOnlyFs(base), &mockUploader{jobID: "job"}, &mockFetcher{data: []byte("model")}, nil, Config{})

	// when
	s.Begin("photos/chair.jpg")
	s.Wait()

	// then
	failed, ok := s.Status().(status.Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Message, "failed to save model")
}

func TestBegin_WhileRunning_ShouldBeRejected(t *testing.T) {
	// given
	fetcher := &mockFetcher{data: []byte("model"), release: make(chan struct{})}
	uploader := &mockUploader{jobID: "job"}
	s, _, _ := newTestSession(t, uploader, fetcher, nil)
	require.True(t, s.Begin("photos/chair.jpg"))

	// when
	second := s.Begin("photos/chair.jpg")
	selecting := s.BeginSelect()
	close(fetcher.release)
	s.Wait()

	// then
	assert.False(t, second)
	assert.False(t, selecting)
	assert.Equal(t, 1, uploader.calls)
	assert.Equal(t, status.KindCompleted, s.Status().Kind())

	assert.True(t, s.Begin("photos/chair.jpg"))
	s.Wait()
	assert.Equal(t, 2, uploader.calls)
}

func TestSelect_ShouldToggleSelectingFile(t *testing.T) {
	s, _, _ := newTestSession(t, &mockUploader{}, &mockFetcher{}, nil)

	require.True(t, s.BeginSelect())
	assert.Equal(t, status.KindSelectingFile, s.Status().Kind())
	assert.False(t, s.Begin("photos/chair.jpg"))

	s.EndSelect()
	assert.Equal(t, status.KindIdle, s.Status().Kind())
}

func TestBegin_WithPruning_ShouldWritePrunedCopy(t *testing.T) {
	// given
	artifact := []byte("0123456789")
	s, fs, rec := newTestSession(t, &mockUploader{jobID: "job"}, &mockFetcher{data: artifact, chunks: 1}, &mockPruner{enabled: true})

	// when
	s.Begin("photos/chair.jpg")
	s.Wait()

	// then
	assert.Equal(t, []status.Kind{
		status.KindIdle,
		status.KindUploading,
		status.KindProcessing,
		status.KindDownloading,
		status.KindPruning,
		status.KindCompleted,
	}, rec.sequence())

	completed := s.Status().(status.Completed)
	assert.Equal(t, "assets/generated_pruned.ply", completed.PrunedPath)
	raw, _ := afero.ReadFile(fs, "assets/generated.ply")
	assert.Equal(t, artifact, raw)
	pruned, _ := afero.ReadFile(fs, "assets/generated_pruned.ply")
	assert.Equal(t, []byte("01234"), pruned)
}

func TestBegin_PruningFailure_ShouldStillComplete(t *testing.T) {
	s, _, _ := newTestSession(t, &mockUploader{jobID: "job"}, &mockFetcher{data: []byte("model")}, &mockPruner{enabled: true, err: prune.ErrUnsupported})

	s.Begin("photos/chair.jpg")
	s.Wait()

	completed, ok := s.Status().(status.Completed)
	require.True(t, ok)
	assert.Empty(t, completed.PrunedPath)
}

func TestReset_ShouldReturnToIdle(t *testing.T) {
	s, _, _ := newTestSession(t, &mockUploader{err: errors.New("x")}, &mockFetcher{}, nil)
	s.Begin("photos/chair.jpg")
	s.Wait()

	s.Reset()

	assert.Equal(t, status.KindIdle, s.Status().Kind())
}

func TestBegin_AgainstHTTPServer(t *testing.T) {
	// given
	artifact := bytes.Repeat([]byte("gaussian"), 500)
	srv := remotetest.NewServer("job-e2e", artifact, 512)
	defer srv.Close()
	client := remote.NewClient(remote.Config{URL: srv.URL})
	s, fs, rec := newTestSession(t, client, downloader.New(client, downloader.Config{MaxInFlight: 4}), nil)

	// when
	s.Begin("photos/chair.jpg")
	s.Wait()

	// then
	require.Equal(t, status.KindCompleted, s.Status().Kind(), s.Status().String())
	assert.Equal(t, []status.Kind{
		status.KindIdle,
		status.KindUploading,
		status.KindProcessing,
		status.KindDownloading,
		status.KindCompleted,
	}, rec.sequence())
	saved, _ := afero.ReadFile(fs, "assets/generated.ply")
	assert.Equal(t, artifact, saved)
}

func TestBegin_HTTPPredictFailure(t *testing.T) {
	srv := remotetest.NewServer("job", []byte("x"), 1)
	defer srv.Close()
	srv.PredictStatus = http.StatusServiceUnavailable
	client := remote.NewClient(remote.Config{URL: srv.URL})
	s, _, rec := newTestSession(t, client, downloader.New(client, downloader.Config{}), nil)

	s.Begin("photos/chair.jpg")
	s.Wait()

	assert.Equal(t, []status.Kind{status.KindIdle, status.KindUploading, status.KindError}, rec.sequence())
}

// Package downloader reassembles a server artifact from concurrently fetched
// chunks.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prappser/splatfetch/internal/remote"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maxChunks bounds the slot table a server response can make us allocate.
const maxChunks = 1 << 20

type Config struct {
	// MaxInFlight caps concurrent chunk requests. Zero starts one request per
	// chunk at once.
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// Source is the part of the remote API the downloader needs.
type Source interface {
	DownloadInfo(ctx context.Context, jobID string) (*remote.DownloadInfo, error)
	DownloadChunk(ctx context.Context, jobID string, index int) ([]byte, error)
}

// ProgressFunc receives the number of finished chunks. Calls are serialized
// and done never decreases.
type ProgressFunc func(done, total int)

type Downloader struct {
	source Source
	config Config
}

func New(source Source, config Config) *Downloader {
	return &Downloader{source: source, config: config}
}

// Fetch downloads every chunk of jobID and returns the concatenation in index
// order. No partial result is returned on error.
func (d *Downloader) Fetch(ctx context.Context, jobID string, progress ProgressFunc) ([]byte, error) {
	info, err := d.source.DownloadInfo(ctx, jobID)
	if err != nil {
		return nil, classify(-1, err)
	}

	log.Info().
		Str("jobId", jobID).
		Int64("fileSize", info.FileSize).
		Int64("chunkSize", info.ChunkSize).
		Int("numChunks", info.NumChunks).
		Msg("Downloading artifact")

	if info.NumChunks > maxChunks {
		return nil, &DownloadError{
			Kind:  KindFormat,
			Chunk: -1,
			Err:   fmt.Errorf("server reports %d chunks, limit is %d", info.NumChunks, maxChunks),
		}
	}

	slots, errs := d.fetchAll(ctx, jobID, info.NumChunks, progress)

	var sum int64
	for i, slot := range slots {
		if slot == nil {
			if errs[i] != nil {
				return nil, classify(i, errs[i])
			}
			return nil, &DownloadError{Kind: KindMissingChunk, Chunk: i}
		}
		sum += int64(len(slot))
	}

	if sum != info.FileSize {
		return nil, &DownloadError{
			Kind:  KindSizeMismatch,
			Chunk: -1,
			Err:   fmt.Errorf("expected %d bytes, got %d", info.FileSize, sum),
		}
	}

	out := make([]byte, 0, sum)
	for _, slot := range slots {
		out = append(out, slot...)
	}
	return out, nil
}

// fetchAll requests every chunk and returns once all requests have finished.
// A failed chunk leaves its slot nil and its error at the same index.
func (d *Downloader) fetchAll(ctx context.Context, jobID string, total int, progress ProgressFunc) ([][]byte, []error) {
	slots := make([][]byte, total)
	errs := make([]error, total)

	var (
		mu   sync.Mutex
		done int
	)

	// A failing chunk does not cancel its siblings.
	var g errgroup.Group
	if d.config.MaxInFlight > 0 {
		g.SetLimit(d.config.MaxInFlight)
	}

	for i := 0; i < total; i++ {
		g.Go(func() error {
			data, err := d.source.DownloadChunk(ctx, jobID, i)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("jobId", jobID).Int("chunk", i).Msg("Chunk download failed")
				errs[i] = err
				return nil
			}
			if data == nil {
				data = []byte{}
			}
			slots[i] = data
			done++
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	return slots, errs
}

func classify(chunk int, err error) *DownloadError {
	kind := KindNetwork
	if errors.Is(err, remote.ErrDecode) {
		kind = KindFormat
	}
	return &DownloadError{Kind: kind, Chunk: chunk, Err: err}
}

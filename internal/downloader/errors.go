package downloader

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNetwork      Kind = "network"
	KindFormat       Kind = "format"
	KindMissingChunk Kind = "missing_chunk"
	KindSizeMismatch Kind = "size_mismatch"
)

var (
	ErrNetwork      = errors.New("network error")
	ErrFormat       = errors.New("format error")
	ErrMissingChunk = errors.New("missing chunk")
	ErrSizeMismatch = errors.New("size mismatch")
)

var kindErrors = map[Kind]error{
	KindNetwork:      ErrNetwork,
	KindFormat:       ErrFormat,
	KindMissingChunk: ErrMissingChunk,
	KindSizeMismatch: ErrSizeMismatch,
}

// DownloadError is returned by Fetch for every failure. Chunk is -1 when the
// failure is not tied to one chunk.
type DownloadError struct {
	Kind  Kind
	Chunk int
	Err   error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Kind == KindMissingChunk:
		return fmt.Sprintf("chunk %d missing", e.Chunk)
	case e.Chunk >= 0 && e.Err != nil:
		return fmt.Sprintf("chunk %d: %s: %v", e.Chunk, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *DownloadError) Unwrap() []error {
	errs := []error{kindErrors[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Package remote is the client side of the processing server's HTTP contract:
// image upload, chunk metadata and per-chunk download.
package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrBadStatus matches any non-2xx response.
	ErrBadStatus = errors.New("unexpected response status")
	// ErrDecode marks malformed or incomplete response bodies.
	ErrDecode = errors.New("malformed response")
)

type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned status %d", e.Op, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrBadStatus
}

package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net/http"
)

// ErrNotFound reports that no record exists for the requested key. Callers
// must distinguish it from I/O failures: absence degrades to a cache miss,
// failures are logged.
var ErrNotFound = errors.New("store: not found")

// Resource is one cached response body keyed by its normalized URL. A Put
// overwrites any prior entry for the same URL in place.
type Resource struct {
	URL        string
	Body       []byte
	StatusCode int
	StatusText string
	Header     http.Header
	StoredAt   int64 // unix seconds
}

// VersionRecord is the singleton last-observed deployment version.
type VersionRecord struct {
	Version   string
	CheckedAt int64 // unix seconds
}

// Store is the durable persistence tier. Each operation is atomic: a Put or
// PutVersion either fully commits or has no effect.
type Store interface {
	Put(ctx context.Context, res *Resource) error
	Get(ctx context.Context, url string) (*Resource, error)
	PutVersion(ctx context.Context, version string) error
	GetVersion(ctx context.Context) (VersionRecord, error)
	Close() error
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

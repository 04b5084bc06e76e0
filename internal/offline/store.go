package offline

import (
	"context"

	"github.com/liftmate/liftmate/internal/errors"
)

// Store is the namespaced request→response store behind the cache.
// Implementations must be safe for concurrent use; Put and PutAll are atomic
// per key from the caller's perspective.
type Store interface {
	// Match returns the response stored under key in namespace.
	// A missing namespace or key is reported as ok == false, not an error.
	Match(ctx context.Context, namespace, key string) (resp *Response, ok bool, err error)
	// Put stores resp under key, creating the namespace when absent and
	// replacing any existing entry.
	Put(ctx context.Context, namespace, key string, resp *Response) error
	// PutAll stores every entry or none of them, creating the namespace
	// when absent.
	PutAll(ctx context.Context, namespace string, entries []Entry) error
	// DeleteNamespace removes a namespace with all its entries and reports
	// whether it existed.
	DeleteNamespace(ctx context.Context, namespace string) (bool, error)
	// ListNamespaces returns namespace names in creation order.
	ListNamespaces(ctx context.Context) ([]string, error)
	// Keys returns the keys stored in namespace.
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// Fetcher performs real network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Fetch outcomes reported to a Recorder.
const (
	OutcomeHit          = "hit"
	OutcomeMiss         = "miss"
	OutcomeBypass       = "bypass"
	OutcomeNetworkError = "network_error"
	OutcomeFallback     = "fallback"
)

// Cache write outcomes reported to a Recorder.
const (
	WriteStored  = "stored"
	WriteSkipped = "skipped"
	WriteFailed  = "failed"
)

// Recorder receives hot-path counters. The metrics package implements it.
type Recorder interface {
	RecordFetch(version, outcome string)
	RecordCacheWrite(version, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, string)      {}
func (nopRecorder) RecordCacheWrite(string, string) {}

// Sentinel errors.
var (
	// ErrInvalidState is returned when a lifecycle method is called in a
	// state that does not allow it.
	ErrInvalidState = errors.NewStd("invalid worker state")
	// ErrNetwork wraps network failures surfaced by Fetch.
	ErrNetwork = errors.NewStd("network request failed")
	// ErrManifestFetch is returned when a manifest URL cannot be cached.
	ErrManifestFetch = errors.NewStd("manifest fetch failed")
	// ErrUnknownClient is returned for fetches from a client that is not
	// connected to the registration.
	ErrUnknownClient = errors.NewStd("unknown client")
)

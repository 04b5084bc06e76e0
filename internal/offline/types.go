// Package offline implements the LiftMate offline asset cache: a versioned,
// cache-first request interceptor with an install / activate / fetch
// lifecycle.
//
// A Worker owns one cache namespace (its version). Install fills the
// namespace with the asset manifest, Activate deletes every other namespace
// and claims open clients, and Fetch answers requests from the cache before
// falling back to the network. A Registration hosts the workers of one scope
// and drives the lifecycle state machine between them.
package offline

import (
	"bytes"
	"maps"
	"net/http"
	"net/url"
	"strings"
)

// RequestMode mirrors the fetch mode of a browser request.
type RequestMode string

// Request modes.
const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeCORS       RequestMode = "cors"
	ModeNoCORS     RequestMode = "no-cors"
)

// ResponseType classifies a response relative to the scope origin.
type ResponseType string

// Response types.
const (
	// TypeBasic is a same-origin response.
	TypeBasic ResponseType = "basic"
	// TypeCORS is a cross-origin response obtained with CORS.
	TypeCORS ResponseType = "cors"
	// TypeOpaque is a cross-origin no-cors response; status, headers and
	// body are hidden.
	TypeOpaque ResponseType = "opaque"
	// TypeError is a network error response.
	TypeError ResponseType = "error"
)

// Request is an intercepted outgoing request.
type Request struct {
	Method string
	// URL is absolute.
	URL    string
	Mode   RequestMode
	Header http.Header
	// Body is sent with requests that bypass the cache.
	Body []byte
}

// NewRequest creates a GET request for rawURL.
func NewRequest(rawURL string, mode RequestMode) *Request {
	return &Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Mode:   mode,
		Header: make(http.Header),
	}
}

// Key returns the cache key for the request: its URL without fragment.
func (r *Request) Key() string {
	return CacheKey(r.URL)
}

// method returns the upper-cased method, defaulting to GET.
func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// IsHTML reports whether the request targets an HTML document: a navigation,
// an explicit text/html Accept header, or a URL naming an .html file.
func (r *Request) IsHTML() bool {
	if r.Mode == ModeNavigate {
		return true
	}
	if r.Header != nil && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return true
	}
	return strings.Contains(r.URL, ".html")
}

// CacheKey normalises rawURL for cache lookups. Fragments never reach the
// network and are ignored; unparsable URLs are used verbatim.
func CacheKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Response is a captured network response.
type Response struct {
	// URL is the final URL after redirects.
	URL        string       `json:"url"`
	Status     int          `json:"status"`
	StatusText string       `json:"status_text,omitempty"`
	Header     http.Header  `json:"header,omitempty"`
	Body       []byte       `json:"body,omitempty"`
	Type       ResponseType `json:"type"`
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy; stored responses never share buffers with
// responses handed to callers.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = maps.Clone(r.Header)
	for k, v := range c.Header {
		c.Header[k] = append([]string(nil), v...)
	}
	c.Body = bytes.Clone(r.Body)
	return &c
}

// Entry is a key/response pair stored in a namespace.
type Entry struct {
	Key      string
	Response *Response
}

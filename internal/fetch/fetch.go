// Package fetch implements the offline.Fetcher network primitive over
// net/http.
package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
	"github.com/liftmate/liftmate/internal/offline"
)

const (
	// DefaultTimeout bounds a single request when the client has none.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBodySize caps buffered response bodies.
	DefaultMaxBodySize int64 = 32 << 20
)

// ErrBodyTooLarge is returned when a response body exceeds the limit.
var ErrBodyTooLarge = errors.NewStd("response body too large")

// hopByHop headers apply to a single connection and are never forwarded.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(f *HTTPFetcher) { f.maxBody = n }
}

// WithLogger sets the fetcher logger.
func WithLogger(log logger.Logger) Option {
	return func(f *HTTPFetcher) { f.log = log }
}

// HTTPFetcher performs requests and classifies responses relative to the
// application scope.
type HTTPFetcher struct {
	client  *http.Client
	scope   *url.URL
	maxBody int64
	log     logger.Logger
}

var _ offline.Fetcher = (*HTTPFetcher)(nil)

// New creates a fetcher for scope. A nil client gets DefaultTimeout.
func New(client *http.Client, scope string, opts ...Option) (*HTTPFetcher, error) {
	u, err := url.Parse(scope)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, errors.Newf("fetch scope %q must be an absolute URL", scope).
			Component("fetch").
			Category(errors.CategoryValidation).
			Build()
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	f := &HTTPFetcher{
		client:  client,
		scope:   u,
		maxBody: DefaultMaxBodySize,
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With(logger.String("component", "fetch"))
	return f, nil
}

// Fetch performs req. Transport failures are returned as errors; any HTTP
// status, including 404 and 5xx, is a response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *offline.Request) (*offline.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryValidation).
			Context("url", req.URL).
			Build()
	}
	httpReq.Header = forwardable(req.Header)

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Context("url", req.URL).
			Context("method", method).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Context("url", req.URL).
			Context("operation", "read_body").
			Build()
	}
	if int64(len(data)) > f.maxBody {
		return nil, errors.Newf("%w: %s exceeds %d bytes", ErrBodyTooLarge, req.URL, f.maxBody).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Context("url", req.URL).
			Build()
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	out := &offline.Response{
		URL:        finalURL,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     forwardable(resp.Header),
		Body:       data,
		Type:       f.classify(finalURL),
	}
	if out.Type != offline.TypeBasic && req.Mode == offline.ModeNoCORS {
		out = opaque(finalURL)
	}

	f.log.Debug("fetched",
		logger.String("method", method),
		logger.String("url", req.URL),
		logger.Int("status", resp.StatusCode),
		logger.String("type", string(out.Type)),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}

// classify reports basic for URLs on the scope origin and cors otherwise.
func (f *HTTPFetcher) classify(rawURL string) offline.ResponseType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return offline.TypeCORS
	}
	if strings.EqualFold(u.Scheme, f.scope.Scheme) && strings.EqualFold(u.Host, f.scope.Host) {
		return offline.TypeBasic
	}
	return offline.TypeCORS
}

// opaque hides everything about a cross-origin no-cors response.
func opaque(rawURL string) *offline.Response {
	return &offline.Response{URL: rawURL, Type: offline.TypeOpaque, Header: http.Header{}}
}

func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// forwardable copies h without hop-by-hop headers, including those named
// by the Connection header.
func forwardable(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	for _, c := range h.Values("Connection") {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(textproto.CanonicalMIMEHeaderKey(name))
			}
		}
	}
	for _, name := range hopByHop {
		out.Del(name)
	}
	return out
}

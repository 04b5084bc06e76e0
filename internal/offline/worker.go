package offline

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/logger"
)

const (
	// manifestFetchConcurrency caps parallel manifest requests during install.
	manifestFetchConcurrency = 6
	// cacheWriteTimeout bounds a single background cache write.
	cacheWriteTimeout = 10 * time.Second
)

// Config describes one worker version.
type Config struct {
	// Version is the cache namespace owned by the worker, e.g. "liftmate-v1".
	Version string
	// Scope is the absolute base URL of the application.
	Scope string
	// Manifest lists the assets to cache at install, relative to Scope or
	// absolute.
	Manifest []string
	// ShellPage is returned for HTML requests when the network fails.
	ShellPage string
	// InstallTimeout bounds manifest fetching. Zero waits indefinitely.
	InstallTimeout time.Duration
}

// Claimer takes control of open clients on behalf of an activated worker.
type Claimer interface {
	Claim(ctx context.Context, w *Worker) (int, error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(log logger.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithPublisher sets the destination for lifecycle events.
func WithPublisher(pub events.Publisher) Option {
	return func(w *Worker) { w.pub = pub }
}

// WithRecorder sets the fetch and cache write recorder.
func WithRecorder(rec Recorder) Option {
	return func(w *Worker) { w.rec = rec }
}

// WithClaimer sets who claims clients when the worker activates.
// Registration.Register installs itself as the claimer.
func WithClaimer(c Claimer) Option {
	return func(w *Worker) { w.clients = c }
}

// WithWaitForClients makes a successful install leave the worker waiting
// until no client is controlled by the previous version, instead of
// requesting immediate activation.
func WithWaitForClients() Option {
	return func(w *Worker) { w.requestSkipWaiting = false }
}

// Worker is one version of the offline asset cache.
type Worker struct {
	version        string
	manifest       *Manifest
	shellKey       string
	installTimeout time.Duration

	store   Store
	fetcher Fetcher
	log     logger.Logger
	pub     events.Publisher
	rec     Recorder
	clients Claimer

	requestSkipWaiting bool

	mu          sync.RWMutex
	state       State
	skipWaiting bool

	pending sync.WaitGroup
	// writeMu is held shared by background writes from their redundancy
	// check to the end of the Put, and exclusively by markRedundant, so no
	// write lands after the worker has become redundant.
	writeMu sync.RWMutex
}

// NewWorker validates cfg and creates a worker in the parsed state.
func NewWorker(cfg Config, store Store, fetcher Fetcher, opts ...Option) (*Worker, error) {
	if cfg.Version == "" {
		return nil, errors.Newf("worker version must not be empty").
			Component("offline").
			Category(errors.CategoryValidation).
			Build()
	}
	if store == nil || fetcher == nil {
		return nil, errors.Newf("worker requires a store and a fetcher").
			Component("offline").
			Category(errors.CategoryValidation).
			Context("version", cfg.Version).
			Build()
	}
	manifest, err := ResolveManifest(cfg.Scope, cfg.Manifest)
	if err != nil {
		return nil, err
	}
	shell := cfg.ShellPage
	if shell == "" {
		shell = "./index.html"
	}
	shellKey, err := manifest.Resolve(shell)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		version:            cfg.Version,
		manifest:           manifest,
		shellKey:           shellKey,
		installTimeout:     cfg.InstallTimeout,
		store:              store,
		fetcher:            fetcher,
		log:                logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil),
		pub:                events.Discard,
		rec:                nopRecorder{},
		requestSkipWaiting: true,
		state:              StateParsed,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.String("version", w.version))
	return w, nil
}

// Version returns the cache namespace owned by the worker.
func (w *Worker) Version() string { return w.version }

// Manifest returns the resolved asset manifest.
func (w *Worker) Manifest() *Manifest { return w.manifest }

// ShellKey returns the cache key of the offline shell page.
func (w *Worker) ShellKey() string { return w.shellKey }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaitingRequested reports whether a successful install asked to skip
// the waiting phase.
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !canTransition(w.state, to) {
		return errors.Newf("%w: cannot move from %s to %s", ErrInvalidState, w.state, to).
			Component("offline").
			Category(errors.CategoryState).
			Context("version", w.version).
			Build()
	}
	w.state = to
	return nil
}

// markRedundant retires the worker and waits for background writes already
// in flight. It reports whether the state changed.
func (w *Worker) markRedundant() bool {
	w.mu.Lock()
	if w.state == StateRedundant {
		w.mu.Unlock()
		return false
	}
	w.state = StateRedundant
	w.mu.Unlock()

	// Wait for writes that passed their check before the state changed.
	w.writeMu.Lock()
	w.writeMu.Unlock() //nolint:staticcheck // barrier for in-flight writes

	w.publish(events.KindWorkerRedundant, nil)
	return true
}

func (w *Worker) publish(kind string, props map[string]any) {
	w.pub.Publish(&events.Event{
		Kind:       kind,
		Version:    w.version,
		Properties: props,
		Timestamp:  time.Now(),
	})
}

// Install fetches every manifest URL and stores the responses in the
// worker's namespace. Any failed fetch fails the whole install and nothing
// is stored. On success the worker requests to skip waiting.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling); err != nil {
		return err
	}
	start := time.Now()
	w.publish(events.KindInstallStarted, map[string]any{events.PropertyEntries: len(w.manifest.URLs)})

	if w.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.installTimeout)
		defer cancel()
	}

	entries, err := w.fetchManifest(ctx)
	if err == nil {
		if putErr := w.store.PutAll(ctx, w.version, entries); putErr != nil {
			err = errors.New(putErr).
				Component("offline").
				Category(errors.CategoryStorage).
				Context("operation", "install").
				Context("version", w.version).
				Build()
		}
	}
	if err != nil {
		w.markRedundant()
		w.log.Error("offline cache install failed", logger.Error(err))
		w.publish(events.KindInstallFailed, map[string]any{events.PropertyError: err.Error()})
		return err
	}

	w.mu.Lock()
	w.state = StateInstalled
	w.skipWaiting = w.requestSkipWaiting
	w.mu.Unlock()

	elapsed := time.Since(start)
	w.log.Info("offline cache installed",
		logger.Int("entries", len(entries)),
		logger.Duration("elapsed", elapsed))
	w.publish(events.KindInstallCompleted, map[string]any{
		events.PropertyEntries:  len(entries),
		events.PropertyDuration: elapsed.Milliseconds(),
	})
	return nil
}

func (w *Worker) fetchManifest(ctx context.Context) ([]Entry, error) {
	entries := make([]Entry, len(w.manifest.URLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(manifestFetchConcurrency)

	for i, key := range w.manifest.URLs {
		g.Go(func() error {
			mode := ModeCORS
			if w.manifest.SameOrigin(key) {
				mode = ModeSameOrigin
			}
			resp, err := w.fetcher.Fetch(gctx, NewRequest(key, mode))
			if err != nil {
				return errors.Newf("%w: %s: %w", ErrManifestFetch, key, err).
					Component("offline").
					Category(errors.CategoryNetwork).
					Context("url", key).
					Build()
			}
			if !resp.OK() {
				return errors.Newf("%w: %s: status %d", ErrManifestFetch, key, resp.Status).
					Component("offline").
					Category(errors.CategoryNetwork).
					Context("url", key).
					Context("status", resp.Status).
					Build()
			}
			entries[i] = Entry{Key: key, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Activate deletes every namespace other than the worker's own and then
// claims all open clients. Failure to delete a stale namespace is logged and
// published but does not fail activation.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating); err != nil {
		return err
	}

	deleted := w.deleteStaleNamespaces(ctx)

	if err := w.transition(StateActivated); err != nil {
		// Superseded while cleaning up.
		return err
	}

	claimed := 0
	if w.clients != nil {
		n, err := w.clients.Claim(ctx, w)
		if err != nil {
			w.log.Warn("failed to claim clients", logger.Error(err))
		} else {
			claimed = n
			w.publish(events.KindClientsClaimed, map[string]any{events.PropertyClients: n})
		}
	}

	w.log.Info("offline cache activated",
		logger.Int("namespaces_deleted", deleted),
		logger.Int("clients_claimed", claimed))
	w.publish(events.KindActivateCompleted, map[string]any{events.PropertyDeleted: deleted})
	return nil
}

func (w *Worker) deleteStaleNamespaces(ctx context.Context) int {
	names, err := w.store.ListNamespaces(ctx)
	if err != nil {
		w.log.Warn("failed to list cache namespaces", logger.Error(err))
		w.publish(events.KindNamespaceDeleteFailed, map[string]any{events.PropertyError: err.Error()})
		return 0
	}

	deleted := 0
	for _, name := range names {
		if name == w.version {
			continue
		}
		existed, err := w.store.DeleteNamespace(ctx, name)
		if err != nil {
			w.log.Warn("failed to delete stale cache namespace",
				logger.String("namespace", name),
				logger.Error(err))
			w.publish(events.KindNamespaceDeleteFailed, map[string]any{
				events.PropertyNamespace: name,
				events.PropertyError:     err.Error(),
			})
			continue
		}
		if existed {
			deleted++
			w.log.Debug("deleted stale cache namespace", logger.String("namespace", name))
			w.publish(events.KindNamespaceDeleted, map[string]any{events.PropertyNamespace: name})
		}
	}
	return deleted
}

// Fetch answers req cache-first. Hits return the stored response without a
// network call. Misses go to the network; 200 same-origin responses are
// stored in the background (see Flush). When the network fails on an HTML
// request the cached shell page is returned instead of the error.
//
// GET and HEAD requests are looked up; only GET responses are stored. Other
// methods go straight to the network.
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Response, error) {
	method := req.method()
	if method != http.MethodGet && method != http.MethodHead {
		w.rec.RecordFetch(w.version, OutcomeBypass)
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, w.networkError(req, err)
		}
		return resp, nil
	}

	key := req.Key()
	if cached, ok, err := w.store.Match(ctx, w.version, key); err != nil {
		w.log.Warn("cache lookup failed", logger.String("url", key), logger.Error(err))
	} else if ok {
		w.rec.RecordFetch(w.version, OutcomeHit)
		return cached, nil
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		if req.IsHTML() {
			if shell, ok := w.shellFallback(ctx); ok {
				w.rec.RecordFetch(w.version, OutcomeFallback)
				w.log.Debug("serving offline shell", logger.String("url", key), logger.Error(err))
				return shell, nil
			}
		}
		w.rec.RecordFetch(w.version, OutcomeNetworkError)
		return nil, w.networkError(req, err)
	}

	w.rec.RecordFetch(w.version, OutcomeMiss)
	if method == http.MethodGet && cacheable(resp) {
		w.storeAsync(ctx, key, resp.Clone())
	} else {
		w.rec.RecordCacheWrite(w.version, WriteSkipped)
	}
	return resp, nil
}

func (w *Worker) shellFallback(ctx context.Context) (*Response, bool) {
	shell, ok, err := w.store.Match(ctx, w.version, w.shellKey)
	if err != nil {
		w.log.Warn("shell page lookup failed", logger.Error(err))
		return nil, false
	}
	return shell, ok
}

func (w *Worker) networkError(req *Request, err error) error {
	return errors.Newf("%w: %w", ErrNetwork, err).
		Component("offline").
		Category(errors.CategoryNetwork).
		Context("url", req.URL).
		Context("method", req.method()).
		Build()
}

// cacheable reports whether a network response may be stored at runtime:
// status 200 from the application's own origin.
func cacheable(resp *Response) bool {
	return resp.Status == http.StatusOK && resp.Type == TypeBasic
}

// storeAsync writes resp in the background. The write outlives the request
// context; Flush waits for it.
func (w *Worker) storeAsync(ctx context.Context, key string, resp *Response) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		w.writeMu.RLock()
		defer w.writeMu.RUnlock()
		if w.State() == StateRedundant {
			w.rec.RecordCacheWrite(w.version, WriteSkipped)
			return
		}
		putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
		defer cancel()
		if err := w.store.Put(putCtx, w.version, key, resp); err != nil {
			w.rec.RecordCacheWrite(w.version, WriteFailed)
			w.log.Warn("background cache write failed", logger.String("url", key), logger.Error(err))
			return
		}
		w.rec.RecordCacheWrite(w.version, WriteStored)
	}()
}

// Flush blocks until all background cache writes started so far have
// finished.
func (w *Worker) Flush() {
	w.pending.Wait()
}

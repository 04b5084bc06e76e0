package offline

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
)

// client is a page controlled (or waiting to be controlled) by a worker.
type client struct {
	id          string
	url         string
	connectedAt time.Time
	controller  *Worker
}

// ClientInfo is a snapshot of a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Controller  string    `json:"controller,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// WorkerStatus is a snapshot of one worker.
type WorkerStatus struct {
	Version       string `json:"version"`
	State         State  `json:"state"`
	ManifestItems int    `json:"manifest_items"`
}

// Status is a snapshot of a registration.
type Status struct {
	Scope      string        `json:"scope"`
	Installing *WorkerStatus `json:"installing,omitempty"`
	Waiting    *WorkerStatus `json:"waiting,omitempty"`
	Active     *WorkerStatus `json:"active,omitempty"`
	Clients    int           `json:"clients"`
	Controlled int           `json:"controlled"`
}

func workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{
		Version:       w.Version(),
		State:         w.State(),
		ManifestItems: len(w.manifest.URLs),
	}
}

// Registration hosts the workers of one scope the way a browser hosts
// service worker versions: at most one installing, one waiting and one
// active worker, plus the set of open clients and their controllers.
type Registration struct {
	scope   string
	network Fetcher
	log     logger.Logger

	mu         sync.Mutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	clients    map[string]*client
	// tracked holds workers that may still have background writes pending.
	tracked []*Worker
}

// NewRegistration creates a registration for scope. network serves requests
// from clients that no worker controls.
func NewRegistration(scope string, network Fetcher, log logger.Logger) *Registration {
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &Registration{
		scope:   scope,
		network: network,
		log:     log.With(logger.String("scope", scope)),
		clients: make(map[string]*client),
	}
}

// Register installs w and, once installed, activates it when it asked to
// skip waiting or when no client is controlled by the current active worker.
// A failed install leaves the previous active worker in place and returns
// the install error.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	if w.clients == nil {
		w.clients = r
	}

	r.mu.Lock()
	prevInstalling := r.installing
	r.installing = w
	r.tracked = append(r.tracked, w)
	r.mu.Unlock()

	if prevInstalling != nil && prevInstalling != w {
		prevInstalling.markRedundant()
	}

	if err := w.Install(ctx); err != nil {
		r.mu.Lock()
		if r.installing == w {
			r.installing = nil
		}
		r.mu.Unlock()
		r.log.Warn("new worker version failed to install, keeping current version",
			logger.String("version", w.Version()),
			logger.String("active", r.activeVersion()),
			logger.Error(err))
		return err
	}

	r.mu.Lock()
	if r.installing != w {
		r.mu.Unlock()
		w.markRedundant()
		return errors.Newf("%w: worker %s superseded during install", ErrInvalidState, w.Version()).
			Component("offline").
			Category(errors.CategoryState).
			Build()
	}
	r.installing = nil
	prevWaiting := r.waiting
	r.waiting = w
	activateNow := w.SkipWaitingRequested() || r.active == nil || r.controlledByLocked(r.active) == 0
	r.mu.Unlock()

	if prevWaiting != nil && prevWaiting != w {
		prevWaiting.markRedundant()
	}

	if !activateNow {
		r.log.Info("worker installed and waiting for clients to close",
			logger.String("version", w.Version()))
		return nil
	}
	return r.activateWaiting(ctx)
}

func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	if w == nil {
		r.mu.Unlock()
		return nil
	}
	prev := r.active
	r.waiting = nil
	r.active = w
	r.mu.Unlock()

	if prev != nil && prev != w {
		prev.markRedundant()
	}
	return w.Activate(ctx)
}

// Claim makes w the controller of every connected client. Only the active
// worker may claim.
func (r *Registration) Claim(_ context.Context, w *Worker) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != w {
		return 0, errors.Newf("%w: only the active worker can claim clients", ErrInvalidState).
			Component("offline").
			Category(errors.CategoryState).
			Context("version", w.Version()).
			Build()
	}
	for _, c := range r.clients {
		c.controller = w
	}
	return len(r.clients), nil
}

// Connect registers an open page and returns its client ID. A valid UUID in
// id is reused so clients survive host restarts; otherwise a new ID is
// generated. New clients are controlled by the active worker, if any.
func (r *Registration) Connect(id, pageURL string) string {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.url = pageURL
		return id
	}
	r.clients[id] = &client{
		id:          id,
		url:         pageURL,
		connectedAt: time.Now(),
		controller:  r.active,
	}
	return id
}

// Connected reports whether id is a connected client.
func (r *Registration) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	return ok
}

// Disconnect removes a client. When the active worker no longer controls
// any client, a waiting worker is activated.
func (r *Registration) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.clients, id)
	activate := r.waiting != nil && (r.active == nil || r.controlledByLocked(r.active) == 0)
	r.mu.Unlock()

	if activate {
		return r.activateWaiting(ctx)
	}
	return nil
}

// Fetch dispatches req from clientID to its controlling worker. Requests
// from uncontrolled clients go directly to the network.
func (r *Registration) Fetch(ctx context.Context, clientID string, req *Request) (*Response, error) {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	var controller *Worker
	if ok {
		controller = c.controller
	}
	r.mu.Unlock()

	if !ok {
		return nil, errors.Newf("%w: %s", ErrUnknownClient, clientID).
			Component("offline").
			Category(errors.CategoryNotFound).
			Build()
	}
	if controller == nil || controller.State() == StateRedundant {
		resp, err := r.network.Fetch(ctx, req)
		if err != nil {
			return nil, errors.Newf("%w: %w", ErrNetwork, err).
				Component("offline").
				Category(errors.CategoryNetwork).
				Context("url", req.URL).
				Build()
		}
		return resp, nil
	}
	return controller.Fetch(ctx, req)
}

// Active returns the active worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the waiting worker, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Installing returns the worker currently installing, or nil.
func (r *Registration) Installing() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing
}

func (r *Registration) activeVersion() string {
	if w := r.Active(); w != nil {
		return w.Version()
	}
	return ""
}

func (r *Registration) controlledByLocked(w *Worker) int {
	n := 0
	for _, c := range r.clients {
		if c.controller == w {
			n++
		}
	}
	return n
}

// Clients returns a snapshot of connected clients ordered by connection time.
func (r *Registration) Clients() []ClientInfo {
	r.mu.Lock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		info := ClientInfo{ID: c.id, URL: c.url, ConnectedAt: c.connectedAt}
		if c.controller != nil {
			info.Controller = c.controller.Version()
		}
		out = append(out, info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Status returns a snapshot of the registration.
func (r *Registration) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	controlled := 0
	for _, c := range r.clients {
		if c.controller != nil {
			controlled++
		}
	}
	return Status{
		Scope:      r.scope,
		Installing: workerStatus(r.installing),
		Waiting:    workerStatus(r.waiting),
		Active:     workerStatus(r.active),
		Clients:    len(r.clients),
		Controlled: controlled,
	}
}

// Flush waits for background cache writes of every worker this
// registration has hosted, then forgets retired workers.
func (r *Registration) Flush() {
	r.mu.Lock()
	workers := append([]*Worker(nil), r.tracked...)
	r.mu.Unlock()

	for _, w := range workers {
		w.Flush()
	}

	r.mu.Lock()
	kept := r.tracked[:0]
	for _, w := range r.tracked {
		if w.State() != StateRedundant {
			kept = append(kept, w)
		}
	}
	r.tracked = kept
	r.mu.Unlock()
}

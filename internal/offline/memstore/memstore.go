// Package memstore is an in-memory offline.Store. Entries live for the
// lifetime of the process, so it suits tests and ephemeral proxies.
package memstore

import (
	"context"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/liftmate/liftmate/internal/offline"
)

// namespace is one named partition. mu serialises PutAll against readers so
// an atomic batch is never observed half-written.
type namespace struct {
	mu    sync.RWMutex
	items *gocache.Cache
}

func newNamespace() *namespace {
	return &namespace{items: gocache.New(gocache.NoExpiration, 0)}
}

// Store implements offline.Store in memory.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	order      []string
}

var _ offline.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{namespaces: make(map[string]*namespace)}
}

func (s *Store) get(name string) (*namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[name]
	return ns, ok
}

func (s *Store) open(name string) *namespace {
	if ns, ok := s.get(name); ok {
		return ns
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[name]; ok {
		return ns
	}
	ns := newNamespace()
	s.namespaces[name] = ns
	s.order = append(s.order, name)
	return ns
}

// Match returns a copy of the stored response.
func (s *Store) Match(ctx context.Context, name, key string) (*offline.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	ns, ok := s.get(name)
	if !ok {
		return nil, false, nil
	}
	ns.mu.RLock()
	v, found := ns.items.Get(key)
	ns.mu.RUnlock()
	if !found {
		return nil, false, nil
	}
	return v.(*offline.Response).Clone(), true, nil
}

// Put stores a copy of resp.
func (s *Store) Put(ctx context.Context, name, key string, resp *offline.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ns := s.open(name)
	ns.mu.RLock()
	ns.items.Set(key, resp.Clone(), gocache.NoExpiration)
	ns.mu.RUnlock()
	return nil
}

// PutAll stores copies of every entry under a single namespace write lock.
func (s *Store) PutAll(ctx context.Context, name string, entries []offline.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clones := make([]offline.Entry, len(entries))
	for i, e := range entries {
		clones[i] = offline.Entry{Key: e.Key, Response: e.Response.Clone()}
	}
	ns := s.open(name)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for _, e := range clones {
		ns.items.Set(e.Key, e.Response, gocache.NoExpiration)
	}
	return nil
}

// DeleteNamespace drops a namespace and all of its entries.
func (s *Store) DeleteNamespace(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	ns, ok := s.namespaces[name]
	if ok {
		delete(s.namespaces, name)
		s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	}
	s.mu.Unlock()
	if ok {
		ns.items.Flush()
	}
	return ok, nil
}

// ListNamespaces returns namespace names in creation order.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// Keys returns the namespace's keys in lexical order.
func (s *Store) Keys(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns, ok := s.get(name)
	if !ok {
		return []string{}, nil
	}
	ns.mu.RLock()
	items := ns.items.Items()
	ns.mu.RUnlock()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

package repository

import (
	"context"

	"github.com/liftmate/liftmate/internal/datastore/entities"
	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/offline"
)

// ErrNamespaceNotFound is returned when a cache namespace does not exist.
var ErrNamespaceNotFound = errors.NewStd("cache namespace not found")

// CacheRepository is the relational offline cache store.
type CacheRepository interface {
	offline.Store

	// GetNamespace returns a namespace by name.
	// Returns ErrNamespaceNotFound if it does not exist.
	GetNamespace(ctx context.Context, name string) (*entities.CacheNamespace, error)
	// CountEntries returns the number of entries stored under name.
	CountEntries(ctx context.Context, name string) (int64, error)
}

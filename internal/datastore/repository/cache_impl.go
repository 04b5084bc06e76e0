package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/liftmate/liftmate/internal/datastore/entities"
	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/offline"
)

// putAllBatchSize bounds rows per INSERT statement.
const putAllBatchSize = 100

// entryUpsert replaces an existing entry with the same key in the namespace.
var entryUpsert = clause.OnConflict{
	Columns: []clause.Column{{Name: "namespace_id"}, {Name: "key_hash"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"request_key", "url", "status", "status_text", "header_json",
		"body", "response_type", "updated_at",
	}),
}

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

var _ offline.Store = (*cacheRepository)(nil)

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func toEntity(namespaceID uint, key string, resp *offline.Response) (*entities.CacheEntry, error) {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers for %s: %w", key, err)
	}
	return &entities.CacheEntry{
		NamespaceID:  namespaceID,
		KeyHash:      hashKey(key),
		RequestKey:   key,
		URL:          resp.URL,
		Status:       resp.Status,
		StatusText:   resp.StatusText,
		HeaderJSON:   string(header),
		Body:         resp.Body,
		ResponseType: string(resp.Type),
	}, nil
}

func toResponse(e *entities.CacheEntry) (*offline.Response, error) {
	header := make(http.Header)
	if e.HeaderJSON != "" && e.HeaderJSON != "null" {
		if err := json.Unmarshal([]byte(e.HeaderJSON), &header); err != nil {
			return nil, fmt.Errorf("failed to decode headers for %s: %w", e.RequestKey, err)
		}
	}
	return &offline.Response{
		URL:        e.URL,
		Status:     e.Status,
		StatusText: e.StatusText,
		Header:     header,
		Body:       e.Body,
		Type:       offline.ResponseType(e.ResponseType),
	}, nil
}

// findNamespace looks up a namespace inside db, which may be a transaction.
func findNamespace(db *gorm.DB, name string) (*entities.CacheNamespace, error) {
	var ns entities.CacheNamespace
	if err := db.Where("name = ?", name).First(&ns).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNamespaceNotFound
		}
		return nil, fmt.Errorf("failed to get cache namespace %q: %w", name, err)
	}
	return &ns, nil
}

// openNamespace returns the namespace, creating it when absent.
func openNamespace(tx *gorm.DB, name string) (*entities.CacheNamespace, error) {
	ns := entities.CacheNamespace{Name: name}
	err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&ns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create cache namespace %q: %w", name, err)
	}
	return findNamespace(tx, name)
}

// GetNamespace returns a namespace by name.
func (r *cacheRepository) GetNamespace(ctx context.Context, name string) (*entities.CacheNamespace, error) {
	return findNamespace(r.db.WithContext(ctx), name)
}

// Match returns the entry stored under key in namespace name.
func (r *cacheRepository) Match(ctx context.Context, name, key string) (*offline.Response, bool, error) {
	db := r.db.WithContext(ctx)
	ns, err := findNamespace(db, name)
	if errors.Is(err, ErrNamespaceNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry entities.CacheEntry
	err = db.Where("namespace_id = ? AND key_hash = ?", ns.ID, hashKey(key)).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to match cache entry %s: %w", key, err)
	}
	resp, err := toResponse(&entry)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

// Put stores resp under key, replacing any existing entry.
func (r *cacheRepository) Put(ctx context.Context, name, key string, resp *offline.Response) error {
	return r.PutAll(ctx, name, []offline.Entry{{Key: key, Response: resp}})
}

// PutAll stores every entry in a single transaction: either all are stored
// or none are.
func (r *cacheRepository) PutAll(ctx context.Context, name string, entries []offline.Entry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ns, err := openNamespace(tx, name)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		rows := make([]*entities.CacheEntry, 0, len(entries))
		for _, e := range entries {
			row, err := toEntity(ns.ID, e.Key, e.Response)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if err := tx.Clauses(entryUpsert).CreateInBatches(rows, putAllBatchSize).Error; err != nil {
			return fmt.Errorf("failed to store %d cache entries in %q: %w", len(rows), name, err)
		}
		return nil
	})
}

// DeleteNamespace deletes a namespace and its entries. It reports whether
// the namespace existed.
func (r *cacheRepository) DeleteNamespace(ctx context.Context, name string) (bool, error) {
	existed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ns, err := findNamespace(tx, name)
		if errors.Is(err, ErrNamespaceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("namespace_id = ?", ns.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of %q: %w", name, err)
		}
		if err := tx.Delete(&entities.CacheNamespace{}, ns.ID).Error; err != nil {
			return fmt.Errorf("failed to delete cache namespace %q: %w", name, err)
		}
		existed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// ListNamespaces returns namespace names in creation order.
func (r *cacheRepository) ListNamespaces(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := r.db.WithContext(ctx).Model(&entities.CacheNamespace{}).
		Order("id ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache namespaces: %w", err)
	}
	return names, nil
}

// Keys returns the request keys stored under name in lexical order.
func (r *cacheRepository) Keys(ctx context.Context, name string) ([]string, error) {
	db := r.db.WithContext(ctx)
	ns, err := findNamespace(db, name)
	if errors.Is(err, ErrNamespaceNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	keys := []string{}
	if err := db.Model(&entities.CacheEntry{}).Where("namespace_id = ?", ns.ID).
		Order("request_key ASC").Pluck("request_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list keys of %q: %w", name, err)
	}
	return keys, nil
}

// CountEntries returns the number of entries stored under name.
func (r *cacheRepository) CountEntries(ctx context.Context, name string) (int64, error) {
	db := r.db.WithContext(ctx)
	ns, err := findNamespace(db, name)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.Model(&entities.CacheEntry{}).Where("namespace_id = ?", ns.ID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count entries of %q: %w", name, err)
	}
	return count, nil
}

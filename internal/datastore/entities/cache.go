package entities

import "time"

// CacheNamespace is one versioned partition of the offline cache.
// Entries are removed only by deleting their namespace.
type CacheNamespace struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:191;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	Entries   []CacheEntry `gorm:"foreignKey:NamespaceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (CacheNamespace) TableName() string {
	return "cache_namespaces"
}

// CacheEntry is a captured response stored under a request key.
// KeyHash is the hex SHA-256 of RequestKey; URLs are too long to index
// directly on MySQL.
type CacheEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	NamespaceID  uint      `gorm:"not null;uniqueIndex:idx_cache_entries_ns_key,priority:1" json:"namespace_id"`
	KeyHash      string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entries_ns_key,priority:2" json:"-"`
	RequestKey   string    `gorm:"type:text;not null" json:"request_key"`
	URL          string    `gorm:"type:text" json:"url"`
	Status       int       `gorm:"not null" json:"status"`
	StatusText   string    `gorm:"size:100;default:''" json:"status_text"`
	HeaderJSON   string    `gorm:"type:text" json:"-"`
	Body         []byte    `json:"-"`
	ResponseType string    `gorm:"size:10;not null" json:"response_type"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

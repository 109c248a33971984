package models

import (
	"time"

	"gorm.io/gorm"
)

// Catalog statuses of a cached report.
const (
	StatusCached  = "cached"
	StatusEvicted = "evicted"
)

// CachedReport is a catalog row for a report fetched into the local cache
type CachedReport struct {
	ID            uint           `json:"id" gorm:"primarykey"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
	StorageKey    string         `json:"storage_key" gorm:"size:255;not null;uniqueIndex"`
	Mode          string         `json:"mode" gorm:"size:16;not null;index"`
	Label         string         `json:"label" gorm:"size:32;not null"`
	LocalPath     string         `json:"local_path" gorm:"size:1024"`
	Size          int64          `json:"size"`
	Pages         int            `json:"pages"`
	FetchCount    int64          `json:"fetch_count" gorm:"not null;default:0"`
	LastFetchedAt time.Time      `json:"last_fetched_at"`
	Status        string         `json:"status" gorm:"size:16;not null;default:'cached'"`
}

// TableName specifies the table name for the CachedReport model
func (CachedReport) TableName() string {
	return "cached_reports"
}

// IsCached returns true if the report file is present in the local cache
func (r *CachedReport) IsCached() bool {
	return r.Status == StatusCached
}

// IsEvicted returns true if the cache entry was invalidated
func (r *CachedReport) IsEvicted() bool {
	return r.Status == StatusEvicted
}

// SetStatus updates the report status
func (r *CachedReport) SetStatus(status string) {
	r.Status = status
	r.UpdatedAt = time.Now()
}

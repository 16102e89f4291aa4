package entity

import (
	"encoding/json"
	"time"
)

// CacheEntry is the last known-good snapshot stored for a logical dataset.
type CacheEntry struct {
	Key      string          `json:"-"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

func NewCacheEntry(key string, value json.RawMessage) *CacheEntry {
	return &CacheEntry{
		Key:      key,
		Value:    value,
		StoredAt: time.Now().UTC(),
	}
}

// Valid reports whether the entry carries a decodable payload.
func (e *CacheEntry) Valid() bool {
	return e != nil && len(e.Value) > 0 && json.Valid(e.Value)
}

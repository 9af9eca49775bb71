package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// diskEntry is the on-disk layout: one JSON file per key with the value,
// the creation timestamp (unix seconds) and the TTL in seconds.
type diskEntry struct {
	Value     interface{} `json:"value"`
	Timestamp float64     `json:"timestamp"`
	TTL       float64     `json:"ttl"`
}

// DiskTier stores entries as one file per key under a directory.
type DiskTier struct {
	dir string
}

// NewDiskTier creates the cache directory if needed.
func NewDiskTier(dir string) (*DiskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DiskTier{dir: dir}, nil
}

func (d *DiskTier) path(key string) string {
	// Keys are hex digests in practice; the replacement only guards
	// against a caller passing a raw composite key.
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(d.dir, safe+".json")
}

// Get reads the entry for key. Unreadable or corrupt files report absence.
func (d *DiskTier) Get(key string) (Entry, bool) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return Entry{}, false
	}
	var de diskEntry
	if err := json.Unmarshal(data, &de); err != nil {
		return Entry{}, false
	}
	return Entry{
		Value:     de.Value,
		CreatedAt: time.Unix(0, int64(de.Timestamp*float64(time.Second))),
		TTL:       time.Duration(de.TTL * float64(time.Second)),
	}, true
}

// Set writes the entry as JSON.
func (d *DiskTier) Set(key string, e Entry) error {
	data, err := json.Marshal(diskEntry{
		Value:     e.Value,
		Timestamp: float64(e.CreatedAt.UnixNano()) / float64(time.Second),
		TTL:       e.TTL.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.WriteFile(d.path(key), data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes the file for key.
func (d *DiskTier) Delete(key string) {
	_ = os.Remove(d.path(key))
}

var _ DurableTier = (*DiskTier)(nil)

package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	appLog "timetablecal/internal/log"
	"timetablecal/internal/model"
)

// cacheEntry holds metadata for one cached extraction.
type cacheEntry struct {
	Filename  string    `json:"filename,omitempty"`
	MIMEType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	Entries   int       `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache wraps an Extractor with a disk-backed result cache keyed by a hash
// of the uploaded bytes and MIME type. Identical re-uploads are answered
// from disk without calling the provider. Only successful, non-empty
// extractions are stored.
type Cache struct {
	next     Extractor
	cacheDir string
}

// NewCache creates a caching Extractor.
//
// cacheDir is the base directory where per-file cache subdirectories will
// be stored. Example: "/var/lib/timetablecal/extract-cache".
func NewCache(next Extractor, cacheDir string) *Cache {
	if cacheDir == "" {
		// Caller should set this explicitly; we fallback to a relative dir
		// so that development runs without root permissions.
		cacheDir = "./var/extract-cache"
	}
	return &Cache{next: next, cacheDir: cacheDir}
}

// Extract returns cached entries for up when present, otherwise delegates
// and stores the result. Cache I/O failures are logged and never returned.
func (c *Cache) Extract(ctx context.Context, up Upload) ([]model.Entry, error) {
	cachePath := c.cachePathFor(up)

	if entries, err := c.loadEntries(cachePath); err == nil {
		appLog.Info("extract cache hit", "file", up.Filename, "entries", len(entries))
		return entries, nil
	}

	entries, err := c.next.Extract(ctx, up)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	meta := cacheEntry{
		Filename: up.Filename,
		MIMEType: up.MIMEType,
		Size:     len(up.Data),
		Entries:  len(entries),
	}
	if err := c.save(cachePath, meta, entries); err != nil {
		appLog.Error("extract cache save failed", err, "file", up.Filename)
	}
	return entries, nil
}

func (c *Cache) cachePathFor(up Upload) string {
	h := sha256.New()
	h.Write([]byte(up.MIMEType))
	h.Write([]byte{0})
	h.Write(up.Data)
	sum := h.Sum(nil)
	// Use first 16 hex chars as directory name.
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func (c *Cache) loadEntries(cachePath string) ([]model.Entry, error) {
	data, err := os.ReadFile(filepath.Join(cachePath, "entries.json"))
	if err != nil {
		return nil, err
	}
	var entries []model.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("cached entry list is empty")
	}
	return entries, nil
}

func (c *Cache) save(cachePath string, meta cacheEntry, entries []model.Entry) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	// Write entries first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "entries.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

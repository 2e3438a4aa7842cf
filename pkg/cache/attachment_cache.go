package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"chatbridge/pkg/model"
)

var attachmentJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// AttachmentCache tracks every CachedAttachment the adapter knows about
// and owns the on-disk layout under storageDir:
//
//	<storage_dir>/<type>/<attachment_id>/<attachment_id>.<ext>
//	<storage_dir>/<type>/<attachment_id>/<attachment_id>.json
//
// The cache writes the .json sidecars and removes attachment
// directories; the content files are written into Dir() by
// attachments.Downloader before it calls Put.
type AttachmentCache struct {
	mu          sync.RWMutex
	attachments map[string]*model.CachedAttachment
	storageDir  string
	maxTotal    int
	maxAge      time.Duration
}

// NewAttachmentCache constructs an empty AttachmentCache rooted at
// storageDir. Call Rehydrate to populate it from a prior run's files.
func NewAttachmentCache(storageDir string, maxTotal int, maxAge time.Duration) *AttachmentCache {
	return &AttachmentCache{
		attachments: make(map[string]*model.CachedAttachment),
		storageDir:  storageDir,
		maxTotal:    maxTotal,
		maxAge:      maxAge,
	}
}

// Dir returns the on-disk directory for one attachment:
// <storage_dir>/<type>/<attachment_id>/
func (c *AttachmentCache) Dir(attachmentType model.AttachmentType, attachmentID string) string {
	return filepath.Join(c.storageDir, string(attachmentType), attachmentID)
}

// Rehydrate scans storageDir for attachments written by a previous
// process lifetime (spec §4.2, §6.2, property P6). Malformed or orphan
// directories are skipped rather than failing startup.
func (c *AttachmentCache) Rehydrate() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storageDir == "" {
		return 0, nil
	}

	typeDirs, err := os.ReadDir(c.storageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read attachment storage dir: %w", err)
	}

	rehydrated := 0
	for _, typeDir := range typeDirs {
		if !typeDir.IsDir() {
			continue
		}
		typePath := filepath.Join(c.storageDir, typeDir.Name())
		idDirs, err := os.ReadDir(typePath)
		if err != nil {
			continue
		}
		for _, idDir := range idDirs {
			if !idDir.IsDir() {
				continue
			}
			attachmentID := idDir.Name()
			metaPath := filepath.Join(typePath, attachmentID, attachmentID+".json")
			data, err := os.ReadFile(metaPath)
			if err != nil {
				continue // orphan directory, no sidecar metadata: skip
			}

			var meta model.CachedAttachment
			if err := attachmentJSON.Unmarshal(data, &meta); err != nil {
				continue // malformed metadata: skip
			}

			c.attachments[attachmentID] = &meta
			rehydrated++
		}
	}

	return rehydrated, nil
}

// Put writes an attachment's metadata sidecar to disk and registers it
// in memory. The caller has already written the content file at
// meta.LocalPath (or left it empty when processable=false).
func (c *AttachmentCache) Put(meta *model.CachedAttachment) error {
	dir := c.Dir(meta.Type, meta.AttachmentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create attachment dir: %w", err)
	}

	data, err := attachmentJSON.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attachment metadata: %w", err)
	}

	metaPath := filepath.Join(dir, meta.AttachmentID+".json")
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write attachment metadata: %w", err)
	}

	c.mu.Lock()
	c.attachments[meta.AttachmentID] = meta
	c.mu.Unlock()

	return nil
}

// Get returns a copy of an attachment's metadata, if known.
func (c *AttachmentCache) Get(attachmentID string) (model.CachedAttachment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.attachments[attachmentID]
	if !ok {
		return model.CachedAttachment{}, false
	}
	return *a, true
}

// Len reports the number of cached attachment entries.
func (c *AttachmentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.attachments)
}

// Remove deletes an attachment's on-disk directory and cache entry.
func (c *AttachmentCache) Remove(attachmentID string) error {
	c.mu.Lock()
	meta, ok := c.attachments[attachmentID]
	if ok {
		delete(c.attachments, attachmentID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return os.RemoveAll(c.Dir(meta.Type, meta.AttachmentID))
}

// Sweep evicts attachments older than maxAge, then trims down to
// maxTotal oldest-first, removing their on-disk directories too.
func (c *AttachmentCache) Sweep(now time.Time) int {
	c.mu.Lock()
	type entry struct {
		id        string
		createdAt time.Time
		kind      model.AttachmentType
	}
	var toRemove []entry

	for id, a := range c.attachments {
		if c.maxAge > 0 && now.Sub(a.CreatedAt) > c.maxAge {
			toRemove = append(toRemove, entry{id, a.CreatedAt, a.Type})
			delete(c.attachments, id)
		}
	}

	if c.maxTotal > 0 && len(c.attachments) > c.maxTotal {
		remaining := make([]entry, 0, len(c.attachments))
		for id, a := range c.attachments {
			remaining = append(remaining, entry{id, a.CreatedAt, a.Type})
		}
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].createdAt.Before(remaining[j].createdAt) })

		overflow := len(c.attachments) - c.maxTotal
		for i := 0; i < overflow; i++ {
			delete(c.attachments, remaining[i].id)
			toRemove = append(toRemove, remaining[i])
		}
	}
	c.mu.Unlock()

	for _, e := range toRemove {
		os.RemoveAll(c.Dir(e.kind, e.id))
	}
	return len(toRemove)
}

// Package attachments provides the Downloader and Uploader glue between
// a platform.Client and the AttachmentCache's on-disk layout: streaming
// remote bytes to disk, size-gating oversize attachments, base64 framing
// for outgoing uploads, and single-flighting concurrent downloads of the
// same attachment id.
package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"chatbridge/pkg/cache"
	"chatbridge/pkg/mimetype"
	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
)

// Downloader fetches remote attachments into the AttachmentCache's
// on-disk layout. Concurrent requests for the same attachment id share
// one in-progress download (spec §5).
type Downloader struct {
	cache         *cache.AttachmentCache
	group         singleflight.Group
	maxFileBytes  int64
}

// NewDownloader builds a Downloader writing into cache's storage tree,
// rejecting any attachment over maxFileBytes as unprocessable rather
// than downloading it.
func NewDownloader(c *cache.AttachmentCache, maxFileBytes int64) *Downloader {
	return &Downloader{cache: c, maxFileBytes: maxFileBytes}
}

// AttachmentID derives a stable, restart-durable id from a platform
// reference: the same remote file always maps to the same id, which is
// what makes redelivering an identical platform event idempotent (P1)
// and lets single-flight collapse concurrent downloads of the same ref.
func AttachmentID(platformType, ref string) string {
	sum := sha256.Sum256([]byte(platformType + ":" + ref))
	return hex.EncodeToString(sum[:])[:16]
}

// classify guesses an AttachmentType from a MIME type; platform clients
// that know better should still pass their own hint where available.
func classify(mimeType string) model.AttachmentType {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return model.AttachmentImage
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return model.AttachmentVideo
	case len(mimeType) >= 6 && mimeType[:6] == "audio/":
		return model.AttachmentAudio
	default:
		return model.AttachmentDocument
	}
}

// Download resolves ref to a CachedAttachment, downloading and writing
// it to disk if it is not already cached. Oversize references are not
// downloaded at all — they are recorded with processable=false (spec §7,
// §8 scenario 2).
func (d *Downloader) Download(ctx context.Context, client platform.Client, platformType string, ref platform.AttachmentRef) (*model.CachedAttachment, error) {
	id := AttachmentID(platformType, ref.Ref)

	if existing, ok := d.cache.Get(id); ok {
		return &existing, nil
	}

	result, err, _ := d.group.Do(id, func() (any, error) {
		// Re-check under single-flight: another caller may have finished
		// the download while we were waiting to enter this section.
		if existing, ok := d.cache.Get(id); ok {
			return &existing, nil
		}

		if d.maxFileBytes > 0 && ref.Size > d.maxFileBytes {
			meta := &model.CachedAttachment{
				AttachmentID:  id,
				Type:          classify(ref.MimeType),
				FileExtension: filepath.Ext(ref.Filename),
				SizeBytes:     ref.Size,
				Processable:   false,
				CreatedAt:     time.Now(),
			}
			if err := d.cache.Put(meta); err != nil {
				return nil, err
			}
			return meta, nil
		}

		data, err := client.DownloadAttachment(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to download attachment %s: %w", id, err)
		}

		detectedMime, ext := mimetype.DetectMimeAndExt(data)
		if ref.MimeType != "" {
			detectedMime = ref.MimeType
		}
		if fromName := filepath.Ext(ref.Filename); fromName != "" {
			ext = fromName
		}

		kind := classify(detectedMime)
		dir := d.cache.Dir(kind, id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create attachment directory: %w", err)
		}

		localPath := filepath.Join(dir, id+ext)
		if err := os.WriteFile(localPath, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write attachment to disk: %w", err)
		}

		meta := &model.CachedAttachment{
			AttachmentID:  id,
			Type:          kind,
			FileExtension: ext,
			SizeBytes:     int64(len(data)),
			Processable:   true,
			LocalPath:     localPath,
			CreatedAt:     time.Now(),
		}
		if err := d.cache.Put(meta); err != nil {
			return nil, err
		}
		return meta, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*model.CachedAttachment), nil
}

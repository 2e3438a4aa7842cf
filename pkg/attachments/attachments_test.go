package attachments

import (
	"context"
	"encoding/base64"
	"sync/atomic"
	"testing"
	"time"

	"chatbridge/pkg/cache"
	"chatbridge/pkg/platform"
)

type fakeClient struct {
	platform.Client
	downloadCalls atomic.Int32
	data          []byte
}

func (f *fakeClient) DownloadAttachment(ctx context.Context, ref platform.AttachmentRef) ([]byte, error) {
	f.downloadCalls.Add(1)
	time.Sleep(5 * time.Millisecond) // widen the window for concurrent callers to collide
	return f.data, nil
}

func (f *fakeClient) UploadAttachment(ctx context.Context, conversationID, name string, data []byte) (platform.AttachmentUpload, error) {
	return platform.AttachmentUpload{Ref: "uploaded:" + name}, nil
}

func TestDownloadWritesFileAndCachesMetadata(t *testing.T) {
	dir := t.TempDir()
	c := cache.NewAttachmentCache(dir, 0, 0)
	d := NewDownloader(c, 1024*1024)
	client := &fakeClient{data: []byte("\x89PNG\r\n\x1a\n fake png bytes")}

	ref := platform.AttachmentRef{Ref: "file123", Filename: "pic.png", Size: int64(len(client.data))}
	got, err := d.Download(context.Background(), client, "telegram", ref)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !got.Processable {
		t.Fatal("expected processable=true for an in-budget attachment")
	}
	if got.LocalPath == "" {
		t.Fatal("expected a local path to be recorded")
	}
	if client.downloadCalls.Load() != 1 {
		t.Fatalf("downloadCalls = %d, want 1", client.downloadCalls.Load())
	}
}

func TestDownloadOversizeSkipsDownloadEntirely(t *testing.T) {
	dir := t.TempDir()
	c := cache.NewAttachmentCache(dir, 0, 0)
	d := NewDownloader(c, 8*1024*1024)
	client := &fakeClient{data: []byte("irrelevant")}

	ref := platform.AttachmentRef{Ref: "big-file", Filename: "movie.mp4", Size: 20 * 1024 * 1024}
	got, err := d.Download(context.Background(), client, "telegram", ref)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got.Processable {
		t.Fatal("expected processable=false for an oversize attachment")
	}
	if got.SizeBytes != ref.Size {
		t.Fatalf("SizeBytes = %d, want %d", got.SizeBytes, ref.Size)
	}
	if client.downloadCalls.Load() != 0 {
		t.Fatalf("expected no download call for oversize attachment, got %d calls", client.downloadCalls.Load())
	}
}

func TestDownloadSameRefTwiceIsCachedNotRefetched(t *testing.T) {
	dir := t.TempDir()
	c := cache.NewAttachmentCache(dir, 0, 0)
	d := NewDownloader(c, 1024*1024)
	client := &fakeClient{data: []byte("stable content")}

	ref := platform.AttachmentRef{Ref: "dup-file", Filename: "doc.txt", Size: int64(len(client.data))}
	first, err := d.Download(context.Background(), client, "telegram", ref)
	if err != nil {
		t.Fatalf("first Download: %v", err)
	}
	second, err := d.Download(context.Background(), client, "telegram", ref)
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}

	if first.AttachmentID != second.AttachmentID {
		t.Fatalf("expected same attachment id for identical ref, got %q vs %q", first.AttachmentID, second.AttachmentID)
	}
	if client.downloadCalls.Load() != 1 {
		t.Fatalf("downloadCalls = %d, want 1 (second call should hit cache)", client.downloadCalls.Load())
	}
}

func TestDownloadConcurrentRequestsSingleFlight(t *testing.T) {
	dir := t.TempDir()
	c := cache.NewAttachmentCache(dir, 0, 0)
	d := NewDownloader(c, 1024*1024)
	client := &fakeClient{data: []byte("shared content")}

	ref := platform.AttachmentRef{Ref: "concurrent-file", Filename: "doc.txt", Size: int64(len(client.data))}

	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := d.Download(context.Background(), client, "telegram", ref); err != nil {
				t.Errorf("concurrent Download: %v", err)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if client.downloadCalls.Load() != 1 {
		t.Fatalf("downloadCalls = %d, want 1 (single-flight should collapse concurrent downloads)", client.downloadCalls.Load())
	}
}

func TestUploadBase64DecodesAndCleansUpTempFile(t *testing.T) {
	u := NewUploader(t.TempDir())
	client := &fakeClient{}

	content := base64.StdEncoding.EncodeToString([]byte("hello world"))
	result, err := u.UploadBase64(context.Background(), client, "conv1", "greeting.txt", content)
	if err != nil {
		t.Fatalf("UploadBase64: %v", err)
	}
	if result.Ref != "uploaded:greeting.txt" {
		t.Fatalf("Ref = %q, want %q", result.Ref, "uploaded:greeting.txt")
	}
}

func TestUploadBase64RejectsInvalidEncoding(t *testing.T) {
	u := NewUploader(t.TempDir())
	client := &fakeClient{}

	if _, err := u.UploadBase64(context.Background(), client, "conv1", "bad.txt", "not-valid-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64 content")
	}
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return storage
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage := newLocal(t)
	srcDir := t.TempDir()
	srcPath := writeFile(t, srcDir, "test.txt", "hello world")
	ctx := context.Background()

	objectPath := "runs/abc/library_historicalbook.jsonl.sz"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(srcDir, "downloaded.txt")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != "hello world" {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
}

func TestLocalStorage_StatMatchesMultipartETag(t *testing.T) {
	storage := newLocal(t)
	srcPath := writeFile(t, t.TempDir(), "test.txt", "multipart test content")
	ctx := context.Background()

	etag, err := storage.UploadMultipart(ctx, srcPath, "multipart/object.txt")
	if err != nil {
		t.Fatalf("UploadMultipart failed: %v", err)
	}
	if etag == "" {
		t.Fatal("expected non-empty ETag")
	}

	info, err := storage.Stat(ctx, "multipart/object.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.ETag != etag {
		t.Errorf("ETag mismatch: got %q, want %q", info.ETag, etag)
	}
	if info.Size != int64(len("multipart test content")) {
		t.Errorf("Size = %d", info.Size)
	}

	if _, err := storage.Stat(ctx, "missing"); err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ConditionalPut(t *testing.T) {
	storage := newLocal(t)
	srcDir := t.TempDir()
	first := writeFile(t, srcDir, "first.txt", "run-1")
	second := writeFile(t, srcDir, "second.txt", "run-2")
	ctx := context.Background()
	objectPath := "archive/LATEST"

	// An empty etag creates the object only when it is absent.
	if err := storage.ConditionalPut(ctx, first, objectPath, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := storage.ConditionalPut(ctx, second, objectPath, ""); err != ErrPreconditionFailed {
		t.Errorf("expected ErrPreconditionFailed on existing object, got %v", err)
	}

	info, err := storage.Stat(ctx, objectPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := storage.ConditionalPut(ctx, second, objectPath, "wrong-etag"); err != ErrPreconditionFailed {
		t.Errorf("expected ErrPreconditionFailed, got %v", err)
	}
	if err := storage.ConditionalPut(ctx, second, objectPath, info.ETag); err != nil {
		t.Fatalf("ConditionalPut with current ETag failed: %v", err)
	}
	// The old etag is stale now.
	if err := storage.ConditionalPut(ctx, first, objectPath, info.ETag); err != ErrPreconditionFailed {
		t.Errorf("expected ErrPreconditionFailed on stale ETag, got %v", err)
	}
}

func TestLocalStorage_ETagSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	srcPath := writeFile(t, t.TempDir(), "test.txt", "pointer")
	ctx := context.Background()

	a, err := NewLocalStorage(base)
	if err != nil {
		t.Fatal(err)
	}
	etag, err := a.UploadMultipart(ctx, srcPath, "LATEST")
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewLocalStorage(base)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.ConditionalPut(ctx, srcPath, "LATEST", etag); err != nil {
		t.Errorf("reopened storage rejected current ETag: %v", err)
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage := newLocal(t)
	dstPath := filepath.Join(t.TempDir(), "downloaded.txt")

	err := storage.Download(context.Background(), "nonexistent/object.txt", dstPath)
	if err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage := newLocal(t)
	srcPath := writeFile(t, t.TempDir(), "test.txt", "x")
	ctx := context.Background()

	for _, p := range []string{"runs/a/manifest.json", "runs/a/seg.sz", "runs/b/manifest.json", "other/x"} {
		if err := storage.Upload(ctx, srcPath, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	got, err := storage.ListObjects(ctx, "runs")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	sort.Strings(got)
	want := []string{"runs/a/manifest.json", "runs/a/seg.sz", "runs/b/manifest.json"}
	if len(got) != len(want) {
		t.Fatalf("ListObjects = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListObjects[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	none, err := storage.ListObjects(ctx, "missing")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no objects, got %v", none)
	}
}

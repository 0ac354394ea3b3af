package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchDownloader fetches a set of objects into a local directory in
// parallel. Objects already present in the directory are reused.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	dir         string
}

// BatchResult maps each requested object path to its local copy.
type BatchResult struct {
	LocalPaths map[string]string
	Reused     int
	Downloads  int
}

// NewBatchDownloader returns a downloader writing into dir with at most
// concurrency transfers in flight.
func NewBatchDownloader(storage ObjectStorage, concurrency int, dir string) *BatchDownloader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchDownloader{storage: storage, concurrency: concurrency, dir: dir}
}

// Download fetches every object path. The first failure cancels the
// remaining transfers and is returned.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{LocalPaths: make(map[string]string, len(objectPaths))}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, p := range objectPaths {
		objectPath := p
		local := b.LocalPath(objectPath)
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[objectPath] = local
			result.Reused++
			continue
		}

		g.Go(func() error {
			if err := b.storage.Download(gctx, objectPath, local); err != nil {
				os.Remove(local)
				return fmt.Errorf("download %s: %w", objectPath, err)
			}
			mu.Lock()
			result.LocalPaths[objectPath] = local
			result.Downloads++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// LocalPath returns where objectPath is stored. Separators are flattened so
// objects from different prefixes never collide.
func (b *BatchDownloader) LocalPath(objectPath string) string {
	flat := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "_")
	return filepath.Join(b.dir, flat)
}

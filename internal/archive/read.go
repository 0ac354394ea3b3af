package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sort"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/storage"
)

// Latest returns the manifest LATEST points at.
func (a *Archive) Latest(ctx context.Context) (*Manifest, error) {
	p, _, err := a.readPointer(ctx)
	if err != nil {
		return nil, err
	}
	if p.RunID == "" {
		return nil, chronerrors.NewStorageError(chronerrors.CodeNotFound, "archive has no runs", nil)
	}
	return a.Manifest(ctx, p.RunID)
}

// Manifest loads the manifest of runID.
func (a *Archive) Manifest(ctx context.Context, runID string) (*Manifest, error) {
	var m Manifest
	if err := a.getJSON(ctx, a.manifestPath(runID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Runs returns the manifests of every complete run, newest first. Runs
// without a manifest are incomplete and not listed.
func (a *Archive) Runs(ctx context.Context) ([]*Manifest, error) {
	objects, err := a.storage.ListObjects(ctx, a.runsPrefix())
	if err != nil {
		return nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed, "list runs", err)
	}
	var runs []*Manifest
	for _, obj := range objects {
		if path.Base(obj) != manifestName {
			continue
		}
		m, err := a.Manifest(ctx, path.Base(path.Dir(obj)))
		if err != nil {
			return nil, err
		}
		runs = append(runs, m)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID > runs[j].RunID
	})
	return runs, nil
}

// ReadAll fetches and verifies every segment of m, keyed by table.
func (a *Archive) ReadAll(ctx context.Context, m *Manifest) (map[string][]Row, error) {
	byObject, err := a.fetch(ctx, m.Segments)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Row, len(m.Segments))
	for _, seg := range m.Segments {
		out[seg.Table] = byObject[seg.Object]
	}
	return out, nil
}

// Rows fetches and verifies the segment of one table.
func (a *Archive) Rows(ctx context.Context, m *Manifest, table string) ([]Row, error) {
	for _, seg := range m.Segments {
		if seg.Table == table {
			byObject, err := a.fetch(ctx, []Segment{seg})
			if err != nil {
				return nil, err
			}
			return byObject[seg.Object], nil
		}
	}
	return nil, chronerrors.NewStorageError(chronerrors.CodeNotFound,
		fmt.Sprintf("run %s has no segment for %s", m.RunID, table), nil)
}

// Find returns the archived snapshots of the record of model with primary
// key key. Segments whose key filter rules the record out are not fetched.
func (a *Archive) Find(ctx context.Context, m *Manifest, model string, key interface{}) ([]Row, error) {
	var candidates []Segment
	for _, seg := range m.Segments {
		if seg.Model == model && seg.KeyColumn != "" && seg.MayContain(key) {
			candidates = append(candidates, seg)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	byObject, err := a.fetch(ctx, candidates)
	if err != nil {
		return nil, err
	}
	want := fmt.Sprint(key)
	var out []Row
	for _, seg := range candidates {
		for _, row := range byObject[seg.Object] {
			if fmt.Sprint(row[seg.KeyColumn]) == want {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

// Prune deletes every run but the newest keep and returns how many were
// removed. The run LATEST points at is always kept.
func (a *Archive) Prune(ctx context.Context, keep int) (int, error) {
	runs, err := a.Runs(ctx)
	if err != nil {
		return 0, err
	}
	current, _, err := a.readPointer(ctx)
	if err != nil {
		return 0, err
	}

	var removed int
	for i, m := range runs {
		if i < keep || m.RunID == current.RunID {
			continue
		}
		objects, err := a.storage.ListObjects(ctx, a.object("runs", m.RunID)+"/")
		if err != nil {
			return removed, chronerrors.NewStorageError(chronerrors.CodeQueryFailed, "list run "+m.RunID, err)
		}
		// The manifest goes last so a partly pruned run stays listed.
		sort.SliceStable(objects, func(i, j int) bool {
			return path.Base(objects[j]) == manifestName && path.Base(objects[i]) != manifestName
		})
		for _, obj := range objects {
			if err := a.storage.Delete(ctx, obj); err != nil {
				return removed, chronerrors.NewStorageError(chronerrors.CodeWriteFailed, "delete "+obj, err)
			}
		}
		removed++
		log.Printf("archive: pruned run %s", m.RunID)
	}
	return removed, nil
}

// fetch downloads segs in parallel and decodes them, keyed by object path.
func (a *Archive) fetch(ctx context.Context, segs []Segment) (map[string][]Row, error) {
	if err := os.MkdirAll(a.cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	dir, err := os.MkdirTemp(a.cfg.WorkDir, "fetch-")
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer os.RemoveAll(dir)

	objects := make([]string, len(segs))
	for i, seg := range segs {
		objects[i] = seg.Object
	}
	res, err := storage.NewBatchDownloader(a.storage, a.cfg.Concurrency, dir).Download(ctx, objects)
	if err != nil {
		return nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed, "fetch segments", err)
	}

	out := make(map[string][]Row, len(segs))
	for _, seg := range segs {
		rows, err := decodeSegment(res.LocalPaths[seg.Object], seg)
		if err != nil {
			return nil, err
		}
		out[seg.Object] = rows
	}
	return out, nil
}

// decodeSegment reads a segment file and checks it against the manifest.
func decodeSegment(local string, seg Segment) ([]Row, error) {
	f, err := os.Open(local)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	hash := murmur3.New128()
	dec := json.NewDecoder(io.TeeReader(snappy.NewReader(f), hash))
	dec.UseNumber()

	var rows []Row
	for {
		var row Row
		err := dec.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, chronerrors.NewArchiveError(chronerrors.CodeChecksumMismatch,
				fmt.Sprintf("segment %s is corrupt", seg.Object), err)
		}
		rows = append(rows, row)
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if sum != seg.Checksum || len(rows) != seg.Rows {
		return nil, chronerrors.NewArchiveError(chronerrors.CodeChecksumMismatch,
			fmt.Sprintf("segment %s: checksum %s rows %d, manifest has %s rows %d",
				seg.Object, sum, len(rows), seg.Checksum, seg.Rows), nil).
			WithDetails(map[string]interface{}{"object": seg.Object})
	}
	return rows, nil
}

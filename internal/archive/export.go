package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/arkilian/chronicle/internal/bloom"
	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/storage"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

// Export writes every row of hists as a new run and points LATEST at it.
// All tables are read in one transaction so the run is a consistent cut.
// When another export moved LATEST in the meantime, the run stays stored
// and a CONFLICT error is returned.
func (a *Archive) Export(ctx context.Context, hists []*schema.HistoricalModel) (*Manifest, error) {
	if a.db == nil {
		return nil, chronerrors.NewInternalError("archive: export needs a database", nil)
	}

	prev, prevETag, err := a.readPointer(ctx)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: a.cfg.Now().UTC(),
		Previous:  prev.RunID,
	}
	dir := filepath.Join(a.cfg.WorkDir, m.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer os.RemoveAll(dir)

	locals := make(map[string]string, len(hists))
	err = a.db.WithTx(ctx, func(q store.Querier) error {
		for _, h := range hists {
			rows, err := q.Find(ctx, h.Def, store.Query{OrderBy: []string{schema.HistoryIDField}})
			if err != nil {
				return err
			}
			seg, local, err := a.writeSegment(dir, m.RunID, h, rows)
			if err != nil {
				return err
			}
			m.Segments = append(m.Segments, seg)
			locals[seg.Object] = local
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range m.Segments {
		seg := &m.Segments[i]
		etag, err := a.storage.UploadMultipart(ctx, locals[seg.Object], seg.Object)
		if err != nil {
			return nil, chronerrors.NewArchiveError(chronerrors.CodeUploadFailed,
				fmt.Sprintf("upload segment %s", seg.Object), err)
		}
		seg.ETag = etag
	}

	exists, err := a.storage.Exists(ctx, a.manifestPath(m.RunID))
	if err != nil {
		return nil, chronerrors.NewArchiveError(chronerrors.CodeUploadFailed, "check manifest", err)
	}
	if exists {
		return nil, chronerrors.NewArchiveError(chronerrors.CodeConflict,
			fmt.Sprintf("run %s already has a manifest", m.RunID), nil)
	}
	if err := a.putJSON(ctx, m, a.manifestPath(m.RunID), nil); err != nil {
		return nil, err
	}

	next := pointer{RunID: m.RunID, UpdatedAt: m.CreatedAt}
	if err := a.putJSON(ctx, next, a.pointerPath(), &prevETag); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return m, chronerrors.NewArchiveError(chronerrors.CodeConflict,
				fmt.Sprintf("%s moved during run %s", pointerName, m.RunID), err)
		}
		return nil, err
	}

	var total int
	for _, seg := range m.Segments {
		total += seg.Rows
	}
	log.Printf("archive: run %s exported %d rows in %d segments", m.RunID, total, len(m.Segments))
	return m, nil
}

// writeSegment encodes rows as snappy-framed JSON lines in dir.
func (a *Archive) writeSegment(dir, runID string, h *schema.HistoricalModel, rows []types.Record) (Segment, string, error) {
	table := h.Def.TableName()
	seg := Segment{
		Model:      h.Tracked.Name,
		Historical: h.Name(),
		Table:      table,
		Object:     a.object("runs", runID, table+segmentSuffix),
		Rows:       len(rows),
	}
	local := filepath.Join(dir, table+segmentSuffix)

	f, err := os.Create(local)
	if err != nil {
		return seg, "", fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	var keys *bloom.Filter
	if col := h.PKColumn(); col != "" {
		seg.KeyColumn = col
		keys = bloom.NewWithEstimates(len(rows), a.cfg.FilterFPR)
	}

	zw := snappy.NewBufferedWriter(f)
	hash := murmur3.New128()
	enc := json.NewEncoder(io.MultiWriter(zw, hash))
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return seg, "", chronerrors.NewArchiveError(chronerrors.CodeEncodeFailed,
				fmt.Sprintf("encode %s row", table), err)
		}
		if keys != nil {
			keys.AddKey(row[seg.KeyColumn])
		}
	}
	if err := zw.Close(); err != nil {
		return seg, "", chronerrors.NewArchiveError(chronerrors.CodeEncodeFailed,
			fmt.Sprintf("compress %s", table), err)
	}
	info, err := f.Stat()
	if err != nil {
		return seg, "", fmt.Errorf("archive: %w", err)
	}

	seg.Bytes = info.Size()
	seg.Checksum = hex.EncodeToString(hash.Sum(nil))
	if keys != nil {
		seg.Keys = keys.Serialize()
	}
	return seg, local, nil
}

// readPointer returns the current LATEST pointer and its ETag. Both are
// empty when no run has completed yet.
func (a *Archive) readPointer(ctx context.Context) (pointer, string, error) {
	info, err := a.storage.Stat(ctx, a.pointerPath())
	if errors.Is(err, storage.ErrObjectNotFound) {
		return pointer{}, "", nil
	}
	if err != nil {
		return pointer{}, "", chronerrors.NewStorageError(chronerrors.CodeQueryFailed, "stat "+pointerName, err)
	}
	var p pointer
	if err := a.getJSON(ctx, a.pointerPath(), &p); err != nil {
		return pointer{}, "", err
	}
	return p, info.ETag, nil
}

// putJSON stores v at objectPath. A non-nil etag makes the write
// conditional on it.
func (a *Archive) putJSON(ctx context.Context, v interface{}, objectPath string, etag *string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return chronerrors.NewArchiveError(chronerrors.CodeEncodeFailed, "encode "+objectPath, err)
	}
	local, cleanup, err := a.tempFile(data)
	if err != nil {
		return err
	}
	defer cleanup()

	if etag != nil {
		err = a.storage.ConditionalPut(ctx, local, objectPath, *etag)
	} else {
		err = a.storage.Upload(ctx, local, objectPath)
	}
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return err
		}
		return chronerrors.NewArchiveError(chronerrors.CodeUploadFailed, "upload "+objectPath, err)
	}
	return nil
}

func (a *Archive) getJSON(ctx context.Context, objectPath string, v interface{}) error {
	local, cleanup, err := a.tempFile(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.storage.Download(ctx, objectPath, local); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return chronerrors.NewStorageError(chronerrors.CodeNotFound, objectPath+" does not exist", err)
		}
		return chronerrors.NewStorageError(chronerrors.CodeQueryFailed, "download "+objectPath, err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return chronerrors.NewArchiveError(chronerrors.CodeEncodeFailed, "decode "+objectPath, err)
	}
	return nil
}

func (a *Archive) tempFile(data []byte) (string, func(), error) {
	if err := os.MkdirAll(a.cfg.WorkDir, 0755); err != nil {
		return "", nil, fmt.Errorf("archive: %w", err)
	}
	f, err := os.CreateTemp(a.cfg.WorkDir, "object-*")
	if err != nil {
		return "", nil, fmt.Errorf("archive: %w", err)
	}
	name := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(name)
		return "", nil, fmt.Errorf("archive: %w", werr)
	}
	return name, func() { os.Remove(name) }, nil
}

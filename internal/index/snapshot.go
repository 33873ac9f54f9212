package index

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hupe1980/vecgo/hnsw"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/zerolabs/zeroweb/internal/metrics"
)

// snapshotFormatVersion changes whenever the on-disk layout does.
// Mismatched files are rejected, never partially read.
const snapshotFormatVersion = 1

// stamp identifies a snapshot pair. Both files of a pair carry the
// same stamp; any disagreement means the pair is unusable.
type stamp struct {
	FormatVersion int
	SnapshotID    uuid.UUID
	Model         string
	Dim           int
}

type annFile struct {
	Stamp stamp
	Graph *hnsw.HNSW
}

type metaFile struct {
	Stamp      stamp
	ByURL      map[string]uint32
	Entries    map[uint32]*Entry
	Tombstones int
}

// Save writes the index as a snapshot pair: <path>.ann holds the graph
// and <path>.meta the mappings. Both are gzip-compressed gob and share
// a fresh snapshot id.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st := stamp{
		FormatVersion: snapshotFormatVersion,
		SnapshotID:    uuid.New(),
		Model:         ix.embedder.Model(),
		Dim:           ix.embedder.Dimension(),
	}

	if err := writeGob(path+".ann", annFile{Stamp: st, Graph: ix.graph}); err != nil {
		return fmt.Errorf("write ann snapshot: %w", err)
	}
	if err := writeGob(path+".meta", metaFile{
		Stamp:      st,
		ByURL:      ix.byURL,
		Entries:    ix.meta,
		Tombstones: ix.deadURLs,
	}); err != nil {
		return fmt.Errorf("write meta snapshot: %w", err)
	}

	ix.logger.Info("index snapshot written",
		zap.String("path", path),
		zap.String("snapshot_id", st.SnapshotID.String()),
		zap.Int("vectors", len(ix.byURL)),
	)
	return nil
}

// Load replaces the index contents from a snapshot pair. Missing
// files, stamp mismatches or a model/dimension change all return an
// error; the caller keeps (or starts with) an empty index.
func (ix *Index) Load(path string) error {
	var ann annFile
	if err := readGob(path+".ann", &ann); err != nil {
		return fmt.Errorf("read ann snapshot: %w", err)
	}
	var meta metaFile
	if err := readGob(path+".meta", &meta); err != nil {
		return fmt.Errorf("read meta snapshot: %w", err)
	}

	if ann.Stamp != meta.Stamp {
		return fmt.Errorf("snapshot pair mismatch: ann %v vs meta %v",
			ann.Stamp.SnapshotID, meta.Stamp.SnapshotID)
	}
	if ann.Stamp.FormatVersion != snapshotFormatVersion {
		return fmt.Errorf("snapshot format version %d, want %d",
			ann.Stamp.FormatVersion, snapshotFormatVersion)
	}
	if ann.Stamp.Model != ix.embedder.Model() || ann.Stamp.Dim != ix.embedder.Dimension() {
		return fmt.Errorf("snapshot built with model %s/dim %d, embedder is %s/dim %d",
			ann.Stamp.Model, ann.Stamp.Dim, ix.embedder.Model(), ix.embedder.Dimension())
	}

	ix.mu.Lock()
	ix.graph = ann.Graph
	ix.byURL = meta.ByURL
	ix.meta = meta.Entries
	ix.deadURLs = meta.Tombstones
	size := len(ix.byURL)
	dead := ix.deadURLs
	ix.mu.Unlock()

	metrics.SetIndexSize(size, dead)
	ix.logger.Info("index snapshot loaded",
		zap.String("path", path),
		zap.Int("vectors", size),
		zap.Int("tombstones", dead),
	)
	return nil
}

// RemoveSnapshot deletes both files of a pair, ignoring absent ones.
func RemoveSnapshot(path string) error {
	for _, suffix := range []string{".ann", ".meta"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s%s: %w", path, suffix, err)
		}
	}
	return nil
}

// writeGob writes a gzip-compressed gob file via a temp file rename so
// a crash never leaves a truncated snapshot behind.
func writeGob(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()
	return gob.NewDecoder(zr).Decode(v)
}

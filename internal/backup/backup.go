// Package backup persists per-document tree snapshots taken immediately
// before every write attempt, and restores them for rollback. Snapshots are
// plain JSON files under a per-document directory; filenames are timestamps
// at microsecond precision so they order lexicographically and stay unique
// under rapid repeated saves.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/pageedit/internal/doctree"
)

// DefaultRetention is how many snapshots are kept per document.
const DefaultRetention = 10

// tsLayout renders timestamps filesystem-safe with microsecond precision.
const tsLayout = "2006-01-02T15-04-05.000000"

// Handle identifies one snapshot of one document: the timestamp portion of
// its filename.
type Handle string

// Snapshot is the persisted form of one backup.
type Snapshot struct {
	DocumentID string        `json:"document_id"`
	Title      string        `json:"title"`
	Version    int           `json:"version"`
	Timestamp  string        `json:"timestamp"`
	Tree       *doctree.Node `json:"tree"`
}

// Meta carries the snapshot metadata recorded alongside the tree.
type Meta struct {
	Title   string
	Version int
}

// Store writes and reads snapshots under a root directory. Construct one per
// process with NewStore; there is no ambient global state.
type Store struct {
	root      string
	retention int
}

// NewStore creates a snapshot store rooted at dir, keeping at most retention
// snapshots per document (DefaultRetention when <= 0).
func NewStore(dir string, retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{root: dir, retention: retention}
}

// Save persists a snapshot of tree for docID and returns its handle.
// Retention cleanup runs synchronously before returning: only the most
// recent N snapshots survive.
func (s *Store) Save(docID string, tree *doctree.Node, meta Meta) (Handle, error) {
	dir := s.docDir(docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	ts := time.Now()
	var path string
	var handle Handle
	for {
		handle = Handle(ts.Format(tsLayout))
		path = filepath.Join(dir, string(handle)+".json")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		// Same microsecond as an existing snapshot; bump until free.
		ts = ts.Add(time.Microsecond)
	}

	snap := Snapshot{
		DocumentID: docID,
		Title:      meta.Title,
		Version:    meta.Version,
		Timestamp:  string(handle),
		Tree:       tree,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	if err := s.cleanup(docID); err != nil {
		return "", fmt.Errorf("retention cleanup: %w", err)
	}
	return handle, nil
}

// Load reads one snapshot by handle.
func (s *Store) Load(docID string, h Handle) (*Snapshot, error) {
	path := filepath.Join(s.docDir(docID), string(h)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", h, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", h, err)
	}
	return &snap, nil
}

// Latest reads the most recent snapshot for a document.
func (s *Store) Latest(docID string) (*Snapshot, error) {
	handles, err := s.List(docID)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("no backups found for document %s", docID)
	}
	return s.Load(docID, handles[0])
}

// List returns all snapshot handles for a document, newest first. A document
// with no backups yields an empty list, not an error.
func (s *Store) List(docID string) ([]Handle, error) {
	names, err := s.snapshotNames(docID)
	if err != nil {
		return nil, err
	}
	handles := make([]Handle, len(names))
	for i, name := range names {
		handles[i] = Handle(strings.TrimSuffix(name, ".json"))
	}
	return handles, nil
}

// cleanup deletes snapshots beyond the retention limit, oldest first.
func (s *Store) cleanup(docID string) error {
	names, err := s.snapshotNames(docID)
	if err != nil {
		return err
	}
	for _, name := range names[min(s.retention, len(names)):] {
		if err := os.Remove(filepath.Join(s.docDir(docID), name)); err != nil {
			return err
		}
	}
	return nil
}

// snapshotNames lists snapshot filenames for a document, newest first.
func (s *Store) snapshotNames(docID string) ([]string, error) {
	entries, err := os.ReadDir(s.docDir(docID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Timestamp filenames sort lexicographically; reverse for newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *Store) docDir(docID string) string {
	return filepath.Join(s.root, sanitizeID(docID))
}

// sanitizeID keeps document IDs safe to use as directory names.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	id = strings.ReplaceAll(id, "..", "_")
	if id == "" || id == "." {
		id = "unnamed"
	}
	return id
}

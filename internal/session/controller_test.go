package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/pageedit/internal/backup"
	"github.com/dgallion1/pageedit/internal/doctree"
	"github.com/dgallion1/pageedit/internal/extract"
	"github.com/dgallion1/pageedit/internal/pagestore"
)

type fakeStore struct {
	mu       sync.Mutex
	page     *pagestore.Page
	writeErr error
	written  *doctree.Node
	writes   int
}

func (f *fakeStore) Fetch(_ context.Context, id string) (*pagestore.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.page == nil || f.page.ID != id {
		return nil, fmt.Errorf("fetch page %s: %w", id, pagestore.ErrNotFound)
	}
	return f.page, nil
}

func (f *fakeStore) Write(_ context.Context, id string, tree *doctree.Node, baseVersion int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return 0, fmt.Errorf("write page %s: %w", id, f.writeErr)
	}
	if baseVersion != f.page.Version {
		return 0, fmt.Errorf("write page %s: %w", id, pagestore.ErrConflict)
	}
	f.written = tree
	f.page.Version = baseVersion + 1
	return f.page.Version, nil
}

func plainDoc() *doctree.Node {
	return &doctree.Node{Type: "doc", Content: []*doctree.Node{
		{Type: "paragraph", Content: []*doctree.Node{
			{Type: "text", Text: "The deploy pipeline builds every branch."},
		}},
		{Type: "paragraph", Content: []*doctree.Node{
			{Type: "text", Text: "Contact the infra team for access tokens."},
		}},
	}}
}

func opaqueDoc() *doctree.Node {
	return &doctree.Node{Type: "doc", Content: []*doctree.Node{
		{Type: "paragraph", Content: []*doctree.Node{
			{Type: "text", Text: "The deploy pipeline builds every branch."},
		}},
		{Type: "expand", Attrs: map[string]any{"title": "Secrets"}, Content: []*doctree.Node{
			{Type: "paragraph", Content: []*doctree.Node{
				{Type: "text", Text: "Secret steps stay hidden."},
			}},
		}},
		{Type: "paragraph", Content: []*doctree.Node{
			{Type: "text", Text: "Contact the infra team for access tokens."},
		}},
	}}
}

func newTestController(t *testing.T, store *fakeStore) *Controller {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backups := backup.NewStore(t.TempDir(), 10)
	return NewController(store, backups, nil, time.Hour, "roundtrip edit", log)
}

func TestRoundtrip_PlainDocument(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 3, Tree: plainDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	if !begin.Success {
		t.Fatalf("begin failed: %+v", begin)
	}
	if begin.NeedsConfirmation {
		t.Error("document without opaque regions must not require confirmation")
	}
	if begin.State != StateRendered || begin.FlatText == "" {
		t.Fatalf("expected rendered flat text, got state %s", begin.State)
	}

	edited := strings.Replace(begin.FlatText, "infra team", "platform team", 1)
	res := c.Complete(ctx, begin.SessionID, edited)
	if !res.Success {
		t.Fatalf("complete failed: %+v", res)
	}
	if res.State != StateWritten || res.NewVersion != 4 {
		t.Errorf("expected written at version 4, got state %s version %d", res.State, res.NewVersion)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("expected 1 change, got %v", res.Changes)
	}
	if res.BackupHandle == "" {
		t.Error("expected backup before write")
	}

	leaf, err := doctree.NodeAt(store.written, res.Changes[0].Path)
	if err != nil {
		t.Fatalf("node at change path: %v", err)
	}
	if leaf.Text != "Contact the platform team for access tokens." {
		t.Errorf("unexpected patched text %q", leaf.Text)
	}
}

func TestBegin_OpaqueRequiresConfirmation(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: opaqueDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	if !begin.Success || !begin.NeedsConfirmation {
		t.Fatalf("expected confirmation gate, got %+v", begin)
	}
	if begin.State != StateScanned || begin.FlatText != "" {
		t.Errorf("flat text must not be produced before a mode is chosen, got state %s", begin.State)
	}
	if len(begin.Opaque) != 1 || begin.Opaque[0].Type != "expand" {
		t.Fatalf("unexpected opaque scan: %+v", begin.Opaque)
	}

	// Completing before choosing a mode is a state error.
	res := c.Complete(ctx, begin.SessionID, "anything")
	if res.Success || res.ErrorKind != ErrSession {
		t.Errorf("expected session_error, got %+v", res)
	}
}

func TestChooseMode_SkipPreservesOpaqueContent(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: opaqueDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	mode := c.ChooseMode(ctx, begin.SessionID, extract.SkipOpaque)
	if !mode.Success {
		t.Fatalf("choose mode failed: %+v", mode)
	}
	if strings.Contains(mode.FlatText, "Secret steps") {
		t.Error("skip mode must not expose opaque text")
	}
	if !strings.Contains(mode.FlatText, "<!-- opaque: expand -->") {
		t.Errorf("expected placeholder in flat text:\n%s", mode.FlatText)
	}

	edited := strings.Replace(mode.FlatText, "infra team", "platform team", 1)
	res := c.Complete(ctx, begin.SessionID, edited)
	if !res.Success {
		t.Fatalf("complete failed: %+v", res)
	}

	// The opaque subtree must survive untouched.
	if store.written.Content[1].Content[0].Content[0].Text != "Secret steps stay hidden." {
		t.Error("opaque content was modified")
	}
}

func TestChooseMode_IncludeExposesOpaqueContent(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: opaqueDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	mode := c.ChooseMode(ctx, begin.SessionID, extract.IncludeOpaque)
	if !mode.Success {
		t.Fatalf("choose mode failed: %+v", mode)
	}
	if !strings.Contains(mode.FlatText, "Secret steps stay hidden.") {
		t.Errorf("include mode must expose opaque text:\n%s", mode.FlatText)
	}
}

func TestComplete_NoChanges(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	res := c.Complete(ctx, begin.SessionID, begin.FlatText)
	if !res.Success || !res.NoChanges {
		t.Fatalf("expected no-changes outcome, got %+v", res)
	}
	if store.writes != 0 {
		t.Error("no-change completion must not touch the page store")
	}
	if res.BackupHandle != "" {
		t.Error("no-change completion must not create a backup")
	}
}

func TestComplete_VersionConflict(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")

	// Another writer bumps the version between fetch and write.
	store.mu.Lock()
	store.page.Version = 2
	store.mu.Unlock()

	edited := strings.Replace(begin.FlatText, "infra team", "platform team", 1)
	res := c.Complete(ctx, begin.SessionID, edited)
	if res.Success || res.ErrorKind != ErrConflict {
		t.Fatalf("expected conflict_error, got %+v", res)
	}
	if res.State != StateFailed {
		t.Errorf("conflict must fail the session, got %s", res.State)
	}
	if store.written != nil {
		t.Error("conflicting write must not persist anything")
	}
	if res.BackupHandle == "" {
		t.Error("backup must survive a conflict for inspection")
	}
}

func TestComplete_WriteFailureRollsBack(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	store.mu.Lock()
	store.writeErr = errors.New("store unavailable")
	store.mu.Unlock()

	edited := strings.Replace(begin.FlatText, "infra team", "platform team", 1)
	res := c.Complete(ctx, begin.SessionID, edited)
	if res.Success || res.ErrorKind != ErrWrite {
		t.Fatalf("expected write_error, got %+v", res)
	}
	if res.State != StateRolledBack {
		t.Fatalf("expected rolled_back, got %s", res.State)
	}

	// The snapshot holds the pre-edit tree, byte for byte.
	snap, err := c.backups.Load("doc-1", backup.Handle(res.BackupHandle))
	if err != nil {
		t.Fatalf("load backup: %v", err)
	}
	want, _ := doctree.Marshal(plainDoc())
	got, _ := doctree.Marshal(snap.Tree)
	if !bytes.Equal(want, got) {
		t.Error("backup tree differs from original")
	}

	if sess := c.GetSession(begin.SessionID); sess == nil || sess.State != StateRolledBack {
		t.Errorf("session state not rolled back: %+v", sess)
	}
}

// newUnwritableBackupController points the backup store at a path occupied by
// a regular file, so every snapshot save fails.
func newUnwritableBackupController(t *testing.T, store *fakeStore) *Controller {
	t.Helper()
	root := filepath.Join(t.TempDir(), "backups")
	if err := os.WriteFile(root, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("seed backup root: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(store, backup.NewStore(root, 10), nil, time.Hour, "roundtrip edit", log)
}

func TestComplete_BackupFailureBlocksIncludeOpaque(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: opaqueDoc()}}
	c := newUnwritableBackupController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	mode := c.ChooseMode(ctx, begin.SessionID, extract.IncludeOpaque)
	if !mode.Success {
		t.Fatalf("choose mode failed: %+v", mode)
	}

	edited := strings.Replace(mode.FlatText, "infra team", "platform team", 1)
	res := c.Complete(ctx, begin.SessionID, edited)
	if res.Success || res.ErrorKind != ErrBackup {
		t.Fatalf("expected backup_error, got %+v", res)
	}
	if res.State != StateFailed {
		t.Errorf("failed snapshot must fail an include_opaque session, got %s", res.State)
	}
	if store.writes != 0 {
		t.Error("aborted completion must not attempt a write")
	}
}

func TestComplete_BackupFailureWarnsSkipOpaque(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newUnwritableBackupController(t, store)
	ctx := context.Background()

	begin := c.Begin(ctx, "doc-1")
	edited := strings.Replace(begin.FlatText, "infra team", "platform team", 1)
	res := c.Complete(ctx, begin.SessionID, edited)
	if !res.Success || res.State != StateWritten {
		t.Fatalf("skip mode must complete despite a failed snapshot, got %+v", res)
	}
	if res.BackupHandle != "" {
		t.Errorf("no handle should be reported for a failed snapshot, got %q", res.BackupHandle)
	}

	var warned bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "backup failed") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected a backup warning, got %v", res.Warnings)
	}
	if store.written == nil {
		t.Error("edit was not persisted")
	}
}

func TestRollback_RestoresLatestBackup(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	// A completed edit leaves a snapshot of the original behind.
	begin := c.Begin(ctx, "doc-1")
	edited := strings.Replace(begin.FlatText, "infra team", "platform team", 1)
	if res := c.Complete(ctx, begin.SessionID, edited); !res.Success {
		t.Fatalf("complete failed: %+v", res)
	}

	res := c.Rollback(ctx, "doc-1", "")
	if !res.Success || res.State != StateRolledBack {
		t.Fatalf("rollback failed: %+v", res)
	}
	if res.NewVersion != 3 {
		t.Errorf("expected restore to create version 3, got %d", res.NewVersion)
	}

	want, _ := doctree.Marshal(plainDoc())
	got, _ := doctree.Marshal(store.written)
	if !bytes.Equal(want, got) {
		t.Error("restored tree differs from the original")
	}
}

func TestRollback_NoBackups(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newTestController(t, store)

	res := c.Rollback(context.Background(), "doc-1", "")
	if res.Success || res.ErrorKind != ErrBackup {
		t.Errorf("expected backup_error, got %+v", res)
	}
}

func TestListBackups(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Title: "Runbook", Version: 1, Tree: plainDoc()}}
	c := newTestController(t, store)
	ctx := context.Background()

	if res := c.ListBackups("doc-1"); !res.Success || len(res.Backups) != 0 {
		t.Errorf("expected empty backup list, got %+v", res)
	}

	begin := c.Begin(ctx, "doc-1")
	edited := strings.Replace(begin.FlatText, "infra team", "platform team", 1)
	if res := c.Complete(ctx, begin.SessionID, edited); !res.Success {
		t.Fatalf("complete failed: %+v", res)
	}

	res := c.ListBackups("doc-1")
	if !res.Success || len(res.Backups) != 1 {
		t.Errorf("expected 1 backup, got %+v", res)
	}
}

func TestBegin_FetchError(t *testing.T) {
	c := newTestController(t, &fakeStore{})
	res := c.Begin(context.Background(), "missing")
	if res.Success || res.ErrorKind != ErrFetch {
		t.Errorf("expected fetch_error, got %+v", res)
	}
}

func TestBegin_InvalidDocument(t *testing.T) {
	bad := &doctree.Node{Type: "doc", Content: []*doctree.Node{
		{Type: "mystery", Content: []*doctree.Node{{Type: "text", Text: "x"}}},
	}}
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Version: 1, Tree: bad}}
	c := newTestController(t, store)

	res := c.Begin(context.Background(), "doc-1")
	if res.Success || res.ErrorKind != ErrValidation {
		t.Errorf("expected validation_error, got %+v", res)
	}
}

func TestComplete_UnknownSession(t *testing.T) {
	c := newTestController(t, &fakeStore{})
	res := c.Complete(context.Background(), "nope", "text")
	if res.Success || res.ErrorKind != ErrSession {
		t.Errorf("expected session_error, got %+v", res)
	}
}

func TestChooseMode_InvalidMode(t *testing.T) {
	store := &fakeStore{page: &pagestore.Page{ID: "doc-1", Version: 1, Tree: opaqueDoc()}}
	c := newTestController(t, store)
	begin := c.Begin(context.Background(), "doc-1")

	res := c.ChooseMode(context.Background(), begin.SessionID, extract.Mode("everything"))
	if res.Success || res.ErrorKind != ErrSession {
		t.Errorf("expected session_error for bad mode, got %+v", res)
	}
}

// Package session drives the document edit roundtrip: fetch a page, scan it
// for opaque regions, flatten it for external editing, then reconcile the
// edited text back into the tree, back the page up, and write it. Every step
// moves a session through an explicit state machine, and nothing is ever
// persisted to the page store before a snapshot exists.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/pageedit/internal/audit"
	"github.com/dgallion1/pageedit/internal/backup"
	"github.com/dgallion1/pageedit/internal/diff"
	"github.com/dgallion1/pageedit/internal/doctree"
	"github.com/dgallion1/pageedit/internal/extract"
	"github.com/dgallion1/pageedit/internal/flatten"
	"github.com/dgallion1/pageedit/internal/pagestore"
)

// Store is the slice of the page store client the controller needs.
type Store interface {
	Fetch(ctx context.Context, id string) (*pagestore.Page, error)
	Write(ctx context.Context, id string, tree *doctree.Node, baseVersion int, message string) (int, error)
}

// Auditor records session outcomes. A nil auditor disables auditing.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Result is the uniform outcome of every controller operation. Failures are
// reported in-band through ErrorKind rather than as Go errors: a failed edit
// is a normal outcome the caller must be able to inspect.
type Result struct {
	Success           bool                 `json:"success"`
	SessionID         string               `json:"session_id,omitempty"`
	DocumentID        string               `json:"document_id,omitempty"`
	Title             string               `json:"title,omitempty"`
	Version           int                  `json:"version,omitempty"`
	State             State                `json:"state,omitempty"`
	Mode              extract.Mode         `json:"mode,omitempty"`
	NeedsConfirmation bool                 `json:"needs_confirmation,omitempty"`
	Opaque            []doctree.OpaqueInfo `json:"opaque_regions,omitempty"`
	FlatText          string               `json:"flat_text,omitempty"`
	NoChanges         bool                 `json:"no_changes,omitempty"`
	Changes           []extract.TextChange `json:"changes,omitempty"`
	NewVersion        int                  `json:"new_version,omitempty"`
	BackupHandle      string               `json:"backup_handle,omitempty"`
	Backups           []backup.Handle      `json:"backups,omitempty"`
	ErrorKind         ErrorKind            `json:"error_kind,omitempty"`
	Message           string               `json:"message,omitempty"`
	Warnings          []string             `json:"warnings,omitempty"`
}

// Controller coordinates sessions, the page store, backups, and the audit
// trail.
type Controller struct {
	store        Store
	backups      *backup.Store
	auditor      Auditor
	sessions     *SessionStore
	log          *slog.Logger
	writeMessage string

	extractor *extract.Extractor
	renderer  *flatten.Renderer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController wires a controller. writeMessage is the version comment
// attached to every page write.
func NewController(store Store, backups *backup.Store, auditor Auditor, sessionTTL time.Duration, writeMessage string, log *slog.Logger) *Controller {
	return &Controller{
		store:        store,
		backups:      backups,
		auditor:      auditor,
		sessions:     NewSessionStore(sessionTTL),
		log:          log,
		writeMessage: writeMessage,
		extractor:    extract.New(nil),
		renderer:     flatten.New(nil),
	}
}

// Start launches the session cleanup loop.
func (c *Controller) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				c.sessions.Cleanup()
			}
		}
	}()
}

// Stop shuts down the cleanup loop.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// GetSession returns a snapshot of a session, or nil if unknown.
func (c *Controller) GetSession(id string) *Snapshot {
	sess := c.sessions.Get(id)
	if sess == nil {
		return nil
	}
	snap := sess.Snapshot()
	return &snap
}

// Begin fetches a document, validates it, and scans for opaque regions. When
// the document contains none, the skip mode is chosen automatically and the
// flattened text is returned immediately; otherwise the caller must confirm a
// mode with ChooseMode before editing.
func (c *Controller) Begin(ctx context.Context, docID string) *Result {
	page, err := c.store.Fetch(ctx, docID)
	if err != nil {
		c.log.Error("fetch failed", "doc_id", docID, "error", err)
		res := &Result{DocumentID: docID, State: StateFailed, ErrorKind: ErrFetch, Message: err.Error()}
		c.record(ctx, audit.Entry{DocumentID: docID, Action: "begin", State: string(StateFailed), ErrorKind: string(ErrFetch), Detail: err.Error()})
		return res
	}

	if verrs := doctree.Validate(page.Tree); len(verrs) > 0 {
		msg := joinValidationErrors(verrs)
		c.log.Error("fetched document failed validation", "doc_id", docID, "error", msg)
		res := &Result{DocumentID: docID, State: StateFailed, ErrorKind: ErrValidation, Message: msg}
		c.record(ctx, audit.Entry{DocumentID: docID, Action: "begin", State: string(StateFailed), ErrorKind: string(ErrValidation), Detail: msg})
		return res
	}

	opaque := doctree.ScanOpaque(page.Tree, nil)
	now := time.Now()
	sess := &Session{
		ID:                newSessionID(docID),
		DocumentID:        docID,
		Title:             page.Title,
		SpaceID:           page.SpaceID,
		Version:           page.Version,
		State:             StateScanned,
		NeedsConfirmation: len(opaque) > 0,
		Opaque:            opaque,
		tree:              page.Tree,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	res := &Result{
		Success:           true,
		SessionID:         sess.ID,
		DocumentID:        docID,
		Title:             page.Title,
		Version:           page.Version,
		State:             StateScanned,
		NeedsConfirmation: sess.NeedsConfirmation,
		Opaque:            opaque,
	}
	if len(opaque) == 0 {
		sess.Mode = extract.SkipOpaque
		sess.nodes = c.extractor.Extract(sess.tree, sess.Mode)
		sess.flat = c.renderer.Render(sess.tree, sess.Mode)
		sess.State = StateRendered
		res.State = StateRendered
		res.Mode = sess.Mode
		res.FlatText = sess.flat
	}
	c.sessions.Put(sess)

	c.log.Info("session started", "session_id", sess.ID, "doc_id", docID,
		"version", page.Version, "opaque_regions", len(opaque))
	c.record(ctx, audit.Entry{SessionID: sess.ID, DocumentID: docID, Action: "begin", State: string(sess.State)})
	return res
}

// ChooseMode selects how opaque regions are handled and returns the
// flattened text for editing. It may be called again to re-render with the
// other mode as long as the session is not terminal.
func (c *Controller) ChooseMode(ctx context.Context, sessionID string, mode extract.Mode) *Result {
	sess := c.sessions.Get(sessionID)
	if sess == nil {
		return &Result{SessionID: sessionID, State: StateFailed, ErrorKind: ErrSession, Message: "unknown session"}
	}
	if mode != extract.SkipOpaque && mode != extract.IncludeOpaque {
		return &Result{SessionID: sessionID, State: sess.Snapshot().State, ErrorKind: ErrSession,
			Message: fmt.Sprintf("unknown mode %q", mode)}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.State.terminal() {
		return &Result{SessionID: sessionID, State: sess.State, ErrorKind: ErrSession,
			Message: fmt.Sprintf("session already %s", sess.State)}
	}

	sess.Mode = mode
	sess.nodes = c.extractor.Extract(sess.tree, mode)
	sess.flat = c.renderer.Render(sess.tree, mode)
	sess.State = StateRendered
	sess.UpdatedAt = time.Now()

	c.log.Info("mode chosen", "session_id", sessionID, "mode", mode, "text_leaves", len(sess.nodes))
	c.record(ctx, audit.Entry{SessionID: sessionID, DocumentID: sess.DocumentID, Action: "choose_mode",
		State: string(StateRendered), Mode: string(mode)})
	return &Result{
		Success:    true,
		SessionID:  sessionID,
		DocumentID: sess.DocumentID,
		Title:      sess.Title,
		Version:    sess.Version,
		State:      StateRendered,
		Mode:       mode,
		Opaque:     sess.Opaque,
		FlatText:   sess.flat,
	}
}

// Complete reconciles the externally edited text and writes the patched tree
// back to the page store. The sequence is fixed: diff, backup, patch,
// validate, write. A write failure after a successful backup rolls the
// in-memory tree back to the snapshot.
func (c *Controller) Complete(ctx context.Context, sessionID, edited string) *Result {
	sess := c.sessions.Get(sessionID)
	if sess == nil {
		return &Result{SessionID: sessionID, State: StateFailed, ErrorKind: ErrSession, Message: "unknown session"}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.State != StateRendered && sess.State != StateDiffed {
		return &Result{SessionID: sessionID, State: sess.State, ErrorKind: ErrSession,
			Message: fmt.Sprintf("session in state %s, expected %s", sess.State, StateRendered)}
	}

	res := &Result{
		SessionID:  sessionID,
		DocumentID: sess.DocumentID,
		Title:      sess.Title,
		Version:    sess.Version,
		Mode:       sess.Mode,
	}
	fail := func(kind ErrorKind, msg string) *Result {
		sess.State = StateFailed
		sess.UpdatedAt = time.Now()
		res.State = StateFailed
		res.ErrorKind = kind
		res.Message = msg
		c.log.Error("complete failed", "session_id", sessionID, "kind", kind, "error", msg)
		c.record(ctx, audit.Entry{SessionID: sessionID, DocumentID: sess.DocumentID, Action: "complete",
			State: string(StateFailed), Mode: string(sess.Mode), ErrorKind: string(kind), Detail: msg})
		return res
	}

	changes := diff.Diff(sess.nodes, edited)
	sess.State = StateDiffed
	sess.UpdatedAt = time.Now()
	if len(changes) == 0 {
		sess.State = StateNoChanges
		res.Success = true
		res.State = StateNoChanges
		res.NoChanges = true
		if strings.TrimSpace(edited) != strings.TrimSpace(sess.flat) {
			res.Warnings = append(res.Warnings,
				"edited text did not confidently match any document leaf; nothing was changed")
		}
		c.log.Info("no changes detected", "session_id", sessionID)
		c.record(ctx, audit.Entry{SessionID: sessionID, DocumentID: sess.DocumentID, Action: "complete",
			State: string(StateNoChanges), Mode: string(sess.Mode)})
		return res
	}

	handle, err := c.backups.Save(sess.DocumentID, sess.tree, backup.Meta{Title: sess.Title, Version: sess.Version})
	if err != nil {
		if sess.Mode == extract.IncludeOpaque {
			// Editing opaque regions without a snapshot to fall back to
			// is not allowed.
			return fail(ErrBackup, fmt.Sprintf("backup failed: %v", err))
		}
		c.log.Warn("backup failed, continuing", "session_id", sessionID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("backup failed: %v", err))
	} else {
		sess.backupHandle = handle
		sess.State = StateBackedUp
		res.BackupHandle = string(handle)
	}

	patched, applyErrs := c.extractor.ApplyChanges(sess.tree, changes)
	for _, aerr := range applyErrs {
		var mismatch *extract.PathMismatchError
		if errors.As(aerr, &mismatch) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("skipped change at %s: %s", mismatch.Path, mismatch.Reason))
		} else {
			res.Warnings = append(res.Warnings, aerr.Error())
		}
	}
	if len(applyErrs) == len(changes) {
		return fail(ErrPathMismatch, "no change could be applied: all paths mismatched")
	}
	sess.State = StatePatched

	if verrs := doctree.Validate(patched); len(verrs) > 0 {
		return fail(ErrValidation, "patched document failed validation: "+joinValidationErrors(verrs))
	}
	sess.State = StateValidated

	newVersion, err := c.store.Write(ctx, sess.DocumentID, patched, sess.Version, c.writeMessage)
	if err != nil {
		if errors.Is(err, pagestore.ErrConflict) {
			// Someone else wrote first. Nothing was persisted; the
			// snapshot stays available for inspection.
			return fail(ErrConflict, fmt.Sprintf("version conflict: %v", err))
		}
		return c.rollbackAfterWriteFailure(ctx, sess, res, err)
	}

	sess.tree = patched
	sess.Version = newVersion
	sess.State = StateWritten
	sess.UpdatedAt = time.Now()

	res.Success = true
	res.State = StateWritten
	res.Changes = changes
	res.NewVersion = newVersion
	c.log.Info("document written", "session_id", sessionID, "doc_id", sess.DocumentID,
		"changes", len(changes)-len(applyErrs), "new_version", newVersion)
	c.record(ctx, audit.Entry{SessionID: sessionID, DocumentID: sess.DocumentID, Action: "complete",
		State: string(StateWritten), Mode: string(sess.Mode), Changes: len(changes) - len(applyErrs),
		NewVersion: newVersion, Detail: "backup " + string(sess.backupHandle)})
	return res
}

// rollbackAfterWriteFailure restores the session's in-memory tree from its
// own snapshot after a non-conflict write error. Callers hold sess.mu.
func (c *Controller) rollbackAfterWriteFailure(ctx context.Context, sess *Session, res *Result, writeErr error) *Result {
	c.log.Error("write failed, rolling back", "session_id", sess.ID, "doc_id", sess.DocumentID, "error", writeErr)

	if sess.backupHandle == "" {
		sess.State = StateFailed
		sess.UpdatedAt = time.Now()
		res.State = StateFailed
		res.ErrorKind = ErrWrite
		res.Message = fmt.Sprintf("write failed and no backup exists: %v", writeErr)
		c.record(ctx, audit.Entry{SessionID: sess.ID, DocumentID: sess.DocumentID, Action: "complete",
			State: string(StateFailed), ErrorKind: string(ErrWrite), Detail: res.Message})
		return res
	}

	snap, err := c.backups.Load(sess.DocumentID, sess.backupHandle)
	if err != nil {
		sess.State = StateFailed
		sess.UpdatedAt = time.Now()
		res.State = StateFailed
		res.ErrorKind = ErrWrite
		res.Message = fmt.Sprintf("write failed (%v) and rollback failed (%v)", writeErr, err)
		c.record(ctx, audit.Entry{SessionID: sess.ID, DocumentID: sess.DocumentID, Action: "complete",
			State: string(StateFailed), ErrorKind: string(ErrWrite), Detail: res.Message})
		return res
	}

	sess.tree = snap.Tree
	sess.State = StateRolledBack
	sess.UpdatedAt = time.Now()
	res.State = StateRolledBack
	res.ErrorKind = ErrWrite
	res.Message = fmt.Sprintf("write failed: %v; restored from backup %s", writeErr, sess.backupHandle)
	c.record(ctx, audit.Entry{SessionID: sess.ID, DocumentID: sess.DocumentID, Action: "complete",
		State: string(StateRolledBack), ErrorKind: string(ErrWrite), Detail: writeErr.Error()})
	return res
}

// ListBackups returns all snapshot handles for a document, newest first.
func (c *Controller) ListBackups(docID string) *Result {
	handles, err := c.backups.List(docID)
	if err != nil {
		return &Result{DocumentID: docID, ErrorKind: ErrBackup, Message: err.Error()}
	}
	return &Result{Success: true, DocumentID: docID, Backups: handles}
}

// Rollback writes a stored snapshot back to the page store, independently of
// any session. An empty handle restores the most recent snapshot.
func (c *Controller) Rollback(ctx context.Context, docID, handle string) *Result {
	var snap *backup.Snapshot
	var err error
	if handle == "" {
		snap, err = c.backups.Latest(docID)
	} else {
		snap, err = c.backups.Load(docID, backup.Handle(handle))
	}
	if err != nil {
		return &Result{DocumentID: docID, ErrorKind: ErrBackup, Message: err.Error()}
	}

	// The write must be based on the store's current version, not the
	// version recorded in the snapshot.
	page, err := c.store.Fetch(ctx, docID)
	if err != nil {
		return &Result{DocumentID: docID, ErrorKind: ErrFetch, Message: err.Error()}
	}

	msg := fmt.Sprintf("restore from backup %s", snap.Timestamp)
	newVersion, err := c.store.Write(ctx, docID, snap.Tree, page.Version, msg)
	if err != nil {
		kind := ErrWrite
		if errors.Is(err, pagestore.ErrConflict) {
			kind = ErrConflict
		}
		c.record(ctx, audit.Entry{DocumentID: docID, Action: "rollback", State: string(StateFailed),
			ErrorKind: string(kind), Detail: err.Error()})
		return &Result{DocumentID: docID, ErrorKind: kind, Message: err.Error(), BackupHandle: snap.Timestamp}
	}

	c.log.Info("document restored", "doc_id", docID, "backup", snap.Timestamp, "new_version", newVersion)
	c.record(ctx, audit.Entry{DocumentID: docID, Action: "rollback", State: string(StateRolledBack), NewVersion: newVersion})
	return &Result{
		Success:      true,
		DocumentID:   docID,
		State:        StateRolledBack,
		NewVersion:   newVersion,
		BackupHandle: snap.Timestamp,
	}
}

func joinValidationErrors(verrs []doctree.ValidationError) string {
	msgs := make([]string, len(verrs))
	for i, v := range verrs {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

func (c *Controller) record(ctx context.Context, e audit.Entry) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Record(ctx, e); err != nil {
		c.log.Error("audit record failed", "error", err)
	}
}

// newSessionID derives a short unique ID from the document and current time.
func newSessionID(docID string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", docID, time.Now().UnixNano())))
	return hex.EncodeToString(h[:])[:20]
}

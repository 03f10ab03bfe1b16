package session

import (
	"sync"
	"time"

	"github.com/dgallion1/pageedit/internal/backup"
	"github.com/dgallion1/pageedit/internal/doctree"
	"github.com/dgallion1/pageedit/internal/extract"
)

// State tracks where a session is in the edit roundtrip.
type State string

const (
	StateFetched    State = "fetched"
	StateScanned    State = "scanned"
	StateRendered   State = "rendered"
	StateDiffed     State = "diffed"
	StateBackedUp   State = "backed_up"
	StatePatched    State = "patched"
	StateValidated  State = "validated"
	StateWritten    State = "written"
	StateNoChanges  State = "no_changes"
	StateRolledBack State = "rolled_back"
	StateFailed     State = "failed"
)

// terminal reports whether a session in this state accepts no further steps.
func (s State) terminal() bool {
	switch s {
	case StateWritten, StateNoChanges, StateRolledBack, StateFailed:
		return true
	}
	return false
}

// Session tracks the state of a single document edit roundtrip.
type Session struct {
	mu sync.Mutex

	ID         string
	DocumentID string
	Title      string
	SpaceID    string
	Version    int

	State             State
	Mode              extract.Mode
	NeedsConfirmation bool
	Opaque            []doctree.OpaqueInfo

	// Internal: not exposed in snapshots.
	tree         *doctree.Node
	nodes        []extract.TextNode
	flat         string
	backupHandle backup.Handle

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is a read-only, JSON-safe copy of session state.
type Snapshot struct {
	ID                string               `json:"session_id"`
	DocumentID        string               `json:"document_id"`
	Title             string               `json:"title"`
	SpaceID           string               `json:"space_id,omitempty"`
	Version           int                  `json:"version"`
	State             State                `json:"state"`
	Mode              extract.Mode         `json:"mode,omitempty"`
	NeedsConfirmation bool                 `json:"needs_confirmation"`
	Opaque            []doctree.OpaqueInfo `json:"opaque_regions"`
	BackupHandle      string               `json:"backup_handle,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	opaque := s.Opaque
	if opaque == nil {
		opaque = []doctree.OpaqueInfo{}
	}
	return Snapshot{
		ID:                s.ID,
		DocumentID:        s.DocumentID,
		Title:             s.Title,
		SpaceID:           s.SpaceID,
		Version:           s.Version,
		State:             s.State,
		Mode:              s.Mode,
		NeedsConfirmation: s.NeedsConfirmation,
		Opaque:            opaque,
		BackupHandle:      string(s.backupHandle),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

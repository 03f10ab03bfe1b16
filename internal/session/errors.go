package session

// ErrorKind classifies failures at the subsystem boundary so callers can
// branch without parsing messages.
type ErrorKind string

const (
	ErrFetch        ErrorKind = "fetch_error"
	ErrValidation   ErrorKind = "validation_error"
	ErrPathMismatch ErrorKind = "path_mismatch"
	ErrNoMatch      ErrorKind = "no_match_found"
	ErrConflict     ErrorKind = "conflict_error"
	ErrWrite        ErrorKind = "write_error"
	ErrBackup       ErrorKind = "backup_error"
	ErrSession      ErrorKind = "session_error"
)

package storage

import (
	"errors"
)

// Sentinel errors a Driver implementation should return so Gateway can
// translate them to 9P wire error strings without knowing anything
// about the driver's own error types — the same shape as the
// teacher's central sentinel errors (fs.ErrorObjectNotFound,
// fs.ErrorDirNotFound, fs.ErrorIsFile, fs.ErrorCantMove, ...) that
// every backend compares against with == or errors.Is.
var (
	ErrNotFound      = errors.New("file not found")
	ErrNotADirectory = errors.New("not a directory")
	ErrNotAFile      = errors.New("not a file")
	ErrExists        = errors.New("file exists")
	ErrDiskFull      = errors.New("disk full")
	ErrInvalidPath   = errors.New("invalid path")
	ErrNotMounted    = errors.New("not mounted")
	ErrReadFailed    = errors.New("read failed")
	ErrWriteFailed   = errors.New("write failed")

	// ErrStorageBusy is produced by Gateway itself, not the driver,
	// when a lock acquisition times out (spec §4.2, §5 transient
	// errors) — it never reaches the driver.
	ErrStorageBusy = errors.New("storage busy")
)

// WireString translates a storage-layer error into the 9P error
// string a handler should put in an Rerror reply, per spec §4.2's
// mapping table. Unrecognized errors fall back to their own message
// text so a driver-specific error still surfaces something useful
// instead of a generic "I/O error".
func WireString(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "file not found"
	case errors.Is(err, ErrNotADirectory):
		return "not a directory"
	case errors.Is(err, ErrNotAFile):
		return "not a file"
	case errors.Is(err, ErrExists):
		return "file exists"
	case errors.Is(err, ErrDiskFull):
		return "disk full"
	case errors.Is(err, ErrInvalidPath):
		return "invalid path"
	case errors.Is(err, ErrNotMounted):
		return "not mounted"
	case errors.Is(err, ErrStorageBusy):
		return "storage busy"
	case errors.Is(err, ErrReadFailed):
		return "read failed"
	case errors.Is(err, ErrWriteFailed):
		return "write failed"
	default:
		return err.Error()
	}
}

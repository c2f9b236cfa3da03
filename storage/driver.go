// Package storage wraps the external FAT32 storage driver behind a
// single mutex and translates its errors and metadata into 9P2000.u
// terms. The driver itself (open/create/read/write/seek/close,
// directory enumeration, rename, delete, mount-status queries) is an
// external collaborator out of scope for this repository; only the
// Driver interface it must satisfy lives here, plus one in-memory
// reference implementation (storage/memdriver) used by tests and by
// local development without FAT32 hardware.
package storage

import "time"

// Handle is an opaque open-file handle minted by a Driver. Exactly one
// FID entry owns any given Handle at a time; the Driver itself is
// free to represent it however it likes (an index, a pointer, a file
// descriptor).
type Handle interface{}

// Entry describes one filesystem object as the driver reports it:
// enough to build a 9P stat record, but with no notion of 9P QIDs or
// identity paths — those are minted by the session's FID table, not
// the driver.
type Entry struct {
	Name    string
	IsDir   bool
	Size    uint64
	ModTime time.Time
	// ReadOnly marks entries the driver refuses writes to; maps to the
	// 0o100444 vs 0o100644 mode-bit choice of spec §4.2.
	ReadOnly bool
}

// Driver is the contract the core consumes from the external FAT32
// library, transcribed directly from spec.md §6. Every method returns
// a typed error; Driver implementations should return the sentinel
// errors declared in errors.go so Gateway can translate them to wire
// error strings without inspecting driver-specific error types.
type Driver interface {
	// Open opens an existing file or directory for reading (and, for
	// files, writing) and returns a handle to it.
	Open(path string) (Handle, error)
	// Create creates a new regular file and opens it for writing.
	Create(path string) (Handle, error)
	// Close releases a handle previously returned by Open or Create.
	Close(h Handle) error
	// Read reads up to len(buf) bytes from the handle's current seek
	// position, returning the number of bytes actually read.
	Read(h Handle, buf []byte) (int, error)
	// Write writes buf at the handle's current seek position,
	// returning the number of bytes actually written.
	Write(h Handle, buf []byte) (int, error)
	// Seek repositions the handle's cursor to an absolute offset.
	Seek(h Handle, offset int64) error
	// DirectoryRead returns the next entry of an open directory
	// handle in enumeration order. A zero-value Entry (empty Name)
	// signals end of directory; "." and ".." are never returned by
	// the driver — the caller (Gateway/handlers) never needs to
	// filter them, they are simply not produced.
	DirectoryRead(h Handle) (Entry, error)
	// DirectoryCreate creates a new, empty directory.
	DirectoryCreate(path string) error
	// Delete removes a file or empty directory.
	Delete(path string) error
	// Rename moves oldPath to newPath within the same volume.
	Rename(oldPath, newPath string) error
	// IsMounted reports whether the volume is currently mounted and
	// usable.
	IsMounted() bool
	// FreeSpace and TotalSpace report volume capacity in bytes.
	FreeSpace() (uint64, error)
	TotalSpace() (uint64, error)
	// Size reports the current size in bytes of an open handle.
	Size(h Handle) (uint64, error)
	// Attributes reports the metadata of an open handle.
	Attributes(h Handle) (Entry, error)
}

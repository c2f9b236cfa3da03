package storage

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultLockTimeout is the bound spec §5 puts on storage lock
// acquisition: past this, a handler gets a transient "storage busy"
// error instead of blocking indefinitely.
const DefaultLockTimeout = 5 * time.Second

const (
	minRetryBackoff = 1 * time.Millisecond
	maxRetryBackoff = 50 * time.Millisecond
)

// Gateway is the mutex-guarded facade over the one mounted FAT32
// volume (spec §4.2). Every driver call made by any session, on any
// goroutine, happens inside Gateway.With — the driver is not
// reentrant and must never observe concurrent calls.
type Gateway struct {
	mu          sync.Mutex
	driver      Driver
	lockTimeout time.Duration
}

// NewGateway wraps driver. lockTimeout of zero uses DefaultLockTimeout.
func NewGateway(driver Driver, lockTimeout time.Duration) *Gateway {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Gateway{driver: driver, lockTimeout: lockTimeout}
}

// With runs fn with the driver mutex held, bounded by the gateway's
// configured lock timeout. This is the bulk-lock entry point of spec
// §4.2: every driver call made inside one fn observes a consistent
// view. The session handlers use the single-operation methods below,
// so a multi-component walk takes the lock once per component.
//
// Acquisition is a short bounded retry rather than an indefinite
// block, matching the teacher's pacer-style bounded-backoff discipline
// for anything that might contend (lib/pacer is used the same way by
// every network backend's retry path). On timeout it returns
// ErrStorageBusy and fn is never invoked.
func (g *Gateway) With(fn func(Driver) error) error {
	deadline := time.Now().Add(g.lockTimeout)
	backoff := minRetryBackoff
	for {
		if g.mu.TryLock() {
			defer g.mu.Unlock()
			return fn(g.driver)
		}
		if time.Now().After(deadline) {
			return ErrStorageBusy
		}
		time.Sleep(backoff)
		if backoff < maxRetryBackoff {
			backoff *= 2
		}
	}
}

// Stat resolves path to its Entry by opening, reading attributes and
// closing — composed under a single lock acquisition so no other
// session's write can land between the open and the attribute read.
func (g *Gateway) Stat(path string) (Entry, error) {
	var e Entry
	err := g.With(func(d Driver) error {
		h, err := d.Open(path)
		if err != nil {
			return err
		}
		e, err = d.Attributes(h)
		closeErr := d.Close(h)
		if err != nil {
			return err
		}
		return closeErr
	})
	return e, errors.Wrapf(err, "stat %q", path)
}

// Open opens path and reports its attributes in the same locked
// section, so the handler's cached QID/mode reflects the exact state
// the handle was opened against.
func (g *Gateway) Open(path string) (Handle, Entry, error) {
	var h Handle
	var e Entry
	err := g.With(func(d Driver) error {
		var err error
		h, err = d.Open(path)
		if err != nil {
			return err
		}
		e, err = d.Attributes(h)
		return err
	})
	return h, e, errors.Wrapf(err, "open %q", path)
}

// Create creates path and reports its attributes.
func (g *Gateway) Create(path string) (Handle, Entry, error) {
	var h Handle
	var e Entry
	err := g.With(func(d Driver) error {
		var err error
		h, err = d.Create(path)
		if err != nil {
			return err
		}
		e, err = d.Attributes(h)
		return err
	})
	return h, e, errors.Wrapf(err, "create %q", path)
}

// Close releases h.
func (g *Gateway) Close(h Handle) error {
	return g.With(func(d Driver) error { return d.Close(h) })
}

// ReadAt seeks h to offset and reads up to len(buf) bytes.
func (g *Gateway) ReadAt(h Handle, offset int64, buf []byte) (int, error) {
	var n int
	err := g.With(func(d Driver) error {
		if err := d.Seek(h, offset); err != nil {
			return err
		}
		var err error
		n, err = d.Read(h, buf)
		return err
	})
	return n, err
}

// WriteAt seeks h to offset and writes buf.
func (g *Gateway) WriteAt(h Handle, offset int64, buf []byte) (int, error) {
	var n int
	err := g.With(func(d Driver) error {
		if err := d.Seek(h, offset); err != nil {
			return err
		}
		var err error
		n, err = d.Write(h, buf)
		return err
	})
	return n, err
}

// ReadDirEntry returns the next directory entry of h, or a zero-value
// Entry at end of enumeration.
func (g *Gateway) ReadDirEntry(h Handle) (Entry, error) {
	var e Entry
	err := g.With(func(d Driver) error {
		var err error
		e, err = d.DirectoryRead(h)
		return err
	})
	return e, err
}

// MakeDir creates a new directory at path.
func (g *Gateway) MakeDir(path string) error {
	err := g.With(func(d Driver) error { return d.DirectoryCreate(path) })
	return errors.Wrapf(err, "mkdir %q", path)
}

// Delete removes the object at path.
func (g *Gateway) Delete(path string) error {
	err := g.With(func(d Driver) error { return d.Delete(path) })
	return errors.Wrapf(err, "delete %q", path)
}

// Rename moves oldPath to newPath.
func (g *Gateway) Rename(oldPath, newPath string) error {
	err := g.With(func(d Driver) error { return d.Rename(oldPath, newPath) })
	return errors.Wrapf(err, "rename %q to %q", oldPath, newPath)
}

// IsMounted reports whether the volume is usable.
func (g *Gateway) IsMounted() bool {
	mounted := false
	_ = g.With(func(d Driver) error {
		mounted = d.IsMounted()
		return nil
	})
	return mounted
}

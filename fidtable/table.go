// Package fidtable implements the per-session FID table: a fixed
// capacity array mapping 32-bit client-chosen identifiers to open
// filesystem objects, per spec.md §4.3. Table size is small (the
// spec's default capacity F is 64), so a linear scan per lookup is
// the arena addressing scheme — no map, no pointer churn, one flat
// array the session owns outright.
package fidtable

import (
	"errors"

	"github.com/picocalc/ninepfs/ninep"
	"github.com/picocalc/ninepfs/storage"
)

// Kind distinguishes what an Entry's path currently names.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindAuth
)

// Entry is one slot of the table: either closed (Handle == nil) or
// open (exactly one Handle), never both at once.
type Entry struct {
	inUse  bool
	FID    uint32
	Kind   Kind
	Path   string
	QID    ninep.Qid
	Handle storage.Handle
	Mode   uint8 // the Topen/Tcreate mode this entry was opened with
	IOUnit uint32

	// DirOffset and PendingEntry track in-progress directory
	// enumeration for a directory FID's Tread sequence: the driver's
	// DirectoryRead iterator is forward-only, so an entry that does
	// not fit in one Tread's count budget is held here for the next
	// Tread to re-emit rather than lost.
	DirOffset    uint64
	PendingEntry *storage.Entry
}

// IsOpen reports whether the entry currently holds a storage handle.
func (e *Entry) IsOpen() bool { return e.Handle != nil }

// ErrFIDInUse is returned by Allocate when fid is already claimed.
var ErrFIDInUse = errors.New("fid already in use")

// ErrTableFull is returned by Allocate when every slot is claimed —
// the "out of resources" condition of spec §5's bounded-work cap.
var ErrTableFull = errors.New("out of resources: fid table full")

// ErrUnknownFID is the wire-visible error for any request naming a
// FID not currently in the table (spec §4.6, invariant 5).
var ErrUnknownFID = errors.New("unknown fid")

// Table is one session's fixed-capacity FID array plus the session's
// monotonic QID-identity-path counter.
type Table struct {
	slots    []Entry
	nextPath uint64
}

// New returns an empty table with room for capacity FIDs.
func New(capacity int) *Table {
	return &Table{
		slots:    make([]Entry, capacity),
		nextPath: ninep.FirstAllocatedPath,
	}
}

// Len reports the table's fixed capacity.
func (t *Table) Len() int { return len(t.slots) }

func (t *Table) find(fid uint32) int {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].FID == fid {
			return i
		}
	}
	return -1
}

func (t *Table) firstFree() int {
	for i := range t.slots {
		if !t.slots[i].inUse {
			return i
		}
	}
	return -1
}

// Allocate claims a slot for fid. It fails with ErrFIDInUse if fid is
// already claimed, or ErrTableFull if every slot is in use.
func (t *Table) Allocate(fid uint32, kind Kind, path string, qid ninep.Qid) (*Entry, error) {
	if t.find(fid) >= 0 {
		return nil, ErrFIDInUse
	}
	i := t.firstFree()
	if i < 0 {
		return nil, ErrTableFull
	}
	t.slots[i] = Entry{inUse: true, FID: fid, Kind: kind, Path: path, QID: qid}
	return &t.slots[i], nil
}

// Lookup returns the slot for fid, or nil if fid is not in the table.
func (t *Table) Lookup(fid uint32) *Entry {
	i := t.find(fid)
	if i < 0 {
		return nil
	}
	return &t.slots[i]
}

// Clone allocates newFID (or reuses old's own slot if newFID == old's
// FID) copying only Path and QID from old — never the open handle.
// This implements both the zero-length-walk FID duplication and the
// destination FID of a successful multi-component walk. Cloning into
// the same identifier (old.FID == newFID) refreshes that slot's
// Path/QID in place rather than erroring; see DESIGN.md for why this
// reading of the open question was chosen.
func (t *Table) Clone(old *Entry, newFID uint32) (*Entry, error) {
	if old == nil {
		return nil, ErrUnknownFID
	}
	if newFID == old.FID {
		old.Path = old.Path
		return old, nil
	}
	return t.Allocate(newFID, old.Kind, old.Path, old.QID)
}

// Free closes any open handle via gw and marks fid's slot free. It is
// idempotent: freeing an unknown or already-free fid is a silent
// no-op, matching spec's "double-free of a FID is safe" invariant.
func (t *Table) Free(fid uint32, gw *storage.Gateway) error {
	i := t.find(fid)
	if i < 0 {
		return nil
	}
	e := &t.slots[i]
	var err error
	if e.IsOpen() {
		err = gw.Close(e.Handle)
	}
	t.slots[i] = Entry{}
	return err
}

// NextQidPath returns the next unused QID identity path for this
// session, starting at ninep.FirstAllocatedPath (root's path, 1, is
// reserved and never returned here).
func (t *Table) NextQidPath() uint64 {
	p := t.nextPath
	t.nextPath++
	return p
}

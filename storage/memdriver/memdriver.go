// Package memdriver is an in-memory reference implementation of
// storage.Driver, modeled on the teacher's backend/memory (a bucket-
// tree in-memory object store guarded by its own mutex). It exists so
// the protocol core can be exercised and tested without FAT32
// hardware, and so the server binary can run in a `--driver=memory`
// development mode.
package memdriver

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/picocalc/ninepfs/storage"
)

type node struct {
	name     string
	isDir    bool
	readOnly bool
	modTime  time.Time
	data     []byte
	children map[string]*node
}

func newDir(name string) *node {
	return &node{name: name, isDir: true, modTime: time.Now(), children: map[string]*node{}}
}

func (n *node) entry() storage.Entry {
	return storage.Entry{
		Name:     n.name,
		IsDir:    n.isDir,
		Size:     uint64(len(n.data)),
		ModTime:  n.modTime,
		ReadOnly: n.readOnly,
	}
}

// handle is the concrete type behind storage.Handle for this driver.
type handle struct {
	n        *node
	pos      int64
	dirNames []string // snapshot taken at Open, for stable enumeration order
	dirPos   int
}

// Driver is an in-memory filesystem tree. The zero value is not
// usable; call New.
type Driver struct {
	mu      sync.Mutex
	root    *node
	mounted bool
	// capacity bounds FreeSpace/TotalSpace reporting; writes beyond it
	// fail with storage.ErrDiskFull.
	capacity uint64
	used     uint64
}

// New returns a mounted, empty in-memory volume with the given
// reported capacity in bytes (0 means unbounded).
func New(capacityBytes uint64) *Driver {
	return &Driver{root: newDir("/"), mounted: true, capacity: capacityBytes}
}

func clean(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

func (d *Driver) resolve(p string) (*node, *node, string, error) {
	parts := clean(p)
	if len(parts) == 0 {
		return d.root, nil, "", nil
	}
	cur := d.root
	var parent *node
	for i, part := range parts {
		if !cur.isDir {
			return nil, nil, "", storage.ErrNotADirectory
		}
		child, ok := cur.children[part]
		if !ok {
			return nil, cur, part, storage.ErrNotFound
		}
		parent = cur
		cur = child
		if i == len(parts)-1 {
			return cur, parent, part, nil
		}
	}
	return cur, parent, parts[len(parts)-1], nil
}

// Open implements storage.Driver.
func (d *Driver) Open(p string) (storage.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mounted {
		return nil, storage.ErrNotMounted
	}
	n, _, _, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	h := &handle{n: n}
	if n.isDir {
		h.dirNames = sortedNames(n.children)
	}
	return h, nil
}

// Create implements storage.Driver.
func (d *Driver) Create(p string) (storage.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mounted {
		return nil, storage.ErrNotMounted
	}
	parts := clean(p)
	if len(parts) == 0 {
		return nil, storage.ErrInvalidPath
	}
	dir, name, err := d.mkparent(parts)
	if err != nil {
		return nil, err
	}
	if _, exists := dir.children[name]; exists {
		return nil, storage.ErrExists
	}
	n := &node{name: name, modTime: time.Now()}
	dir.children[name] = n
	return &handle{n: n}, nil
}

func (d *Driver) mkparent(parts []string) (*node, string, error) {
	cur := d.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur.children[part]
		if !ok {
			return nil, "", storage.ErrNotFound
		}
		if !child.isDir {
			return nil, "", storage.ErrNotADirectory
		}
		cur = child
	}
	return cur, parts[len(parts)-1], nil
}

func sortedNames(children map[string]*node) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	// Stable, deterministic enumeration order: insertion order is not
	// tracked, so lexical order stands in. Real FAT32 directories
	// enumerate in on-disk slot order, which this reference driver
	// cannot reproduce — acceptable for a development/test stand-in.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

func asHandle(h storage.Handle) (*handle, error) {
	hh, ok := h.(*handle)
	if !ok || hh == nil {
		return nil, storage.ErrInvalidPath
	}
	return hh, nil
}

// Close implements storage.Driver.
func (d *Driver) Close(h storage.Handle) error {
	_, err := asHandle(h)
	return err
}

// Read implements storage.Driver.
func (d *Driver) Read(h storage.Handle, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hh, err := asHandle(h)
	if err != nil {
		return 0, err
	}
	if hh.n.isDir {
		return 0, storage.ErrNotAFile
	}
	if hh.pos >= int64(len(hh.n.data)) {
		return 0, nil
	}
	n := copy(buf, hh.n.data[hh.pos:])
	hh.pos += int64(n)
	return n, nil
}

// Write implements storage.Driver.
func (d *Driver) Write(h storage.Handle, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hh, err := asHandle(h)
	if err != nil {
		return 0, err
	}
	if hh.n.isDir {
		return 0, storage.ErrNotAFile
	}
	if hh.n.readOnly {
		return 0, storage.ErrWriteFailed
	}
	end := hh.pos + int64(len(buf))
	if d.capacity > 0 {
		grow := end - int64(len(hh.n.data))
		if grow > 0 && d.used+uint64(grow) > d.capacity {
			return 0, storage.ErrDiskFull
		}
	}
	if end > int64(len(hh.n.data)) {
		grown := make([]byte, end)
		copy(grown, hh.n.data)
		if d.capacity > 0 {
			d.used += uint64(end) - uint64(len(hh.n.data))
		}
		hh.n.data = grown
	}
	n := copy(hh.n.data[hh.pos:end], buf)
	hh.pos += int64(n)
	hh.n.modTime = time.Now()
	return n, nil
}

// Seek implements storage.Driver.
func (d *Driver) Seek(h storage.Handle, offset int64) error {
	hh, err := asHandle(h)
	if err != nil {
		return err
	}
	if offset < 0 {
		return storage.ErrInvalidPath
	}
	hh.pos = offset
	return nil
}

// DirectoryRead implements storage.Driver.
func (d *Driver) DirectoryRead(h storage.Handle) (storage.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hh, err := asHandle(h)
	if err != nil {
		return storage.Entry{}, err
	}
	if !hh.n.isDir {
		return storage.Entry{}, storage.ErrNotADirectory
	}
	if hh.dirPos >= len(hh.dirNames) {
		return storage.Entry{}, nil // sentinel empty name: end of directory
	}
	name := hh.dirNames[hh.dirPos]
	hh.dirPos++
	child, ok := hh.n.children[name]
	if !ok {
		// Entry was removed by a concurrent session between Open and
		// this read; skip it rather than fail the whole enumeration.
		return d.directoryReadLocked(hh)
	}
	return child.entry(), nil
}

func (d *Driver) directoryReadLocked(hh *handle) (storage.Entry, error) {
	for hh.dirPos < len(hh.dirNames) {
		name := hh.dirNames[hh.dirPos]
		hh.dirPos++
		if child, ok := hh.n.children[name]; ok {
			return child.entry(), nil
		}
	}
	return storage.Entry{}, nil
}

// DirectoryCreate implements storage.Driver.
func (d *Driver) DirectoryCreate(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mounted {
		return storage.ErrNotMounted
	}
	parts := clean(p)
	if len(parts) == 0 {
		return storage.ErrInvalidPath
	}
	dir, name, err := d.mkparent(parts)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return storage.ErrExists
	}
	dir.children[name] = newDir(name)
	return nil
}

// Delete implements storage.Driver.
func (d *Driver) Delete(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, parent, name, err := d.resolve(p)
	if err != nil {
		return err
	}
	if parent == nil {
		return storage.ErrInvalidPath // refusing to delete the root
	}
	if n.isDir && len(n.children) > 0 {
		return storage.ErrNotADirectory
	}
	delete(parent.children, name)
	return nil
}

// Rename implements storage.Driver.
func (d *Driver) Rename(oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, oldParent, oldName, err := d.resolve(oldPath)
	if err != nil {
		return err
	}
	if oldParent == nil {
		return storage.ErrInvalidPath
	}
	newParts := clean(newPath)
	if len(newParts) == 0 {
		return storage.ErrInvalidPath
	}
	newDirNode, newName, err := d.mkparent(newParts)
	if err != nil {
		return err
	}
	if _, exists := newDirNode.children[newName]; exists {
		return storage.ErrExists
	}
	delete(oldParent.children, oldName)
	n.name = newName
	newDirNode.children[newName] = n
	return nil
}

// IsMounted implements storage.Driver.
func (d *Driver) IsMounted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mounted
}

// FreeSpace implements storage.Driver.
func (d *Driver) FreeSpace() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capacity == 0 {
		return ^uint64(0), nil
	}
	return d.capacity - d.used, nil
}

// TotalSpace implements storage.Driver.
func (d *Driver) TotalSpace() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity, nil
}

// Size implements storage.Driver.
func (d *Driver) Size(h storage.Handle) (uint64, error) {
	hh, err := asHandle(h)
	if err != nil {
		return 0, err
	}
	return uint64(len(hh.n.data)), nil
}

// Attributes implements storage.Driver.
func (d *Driver) Attributes(h storage.Handle) (storage.Entry, error) {
	hh, err := asHandle(h)
	if err != nil {
		return storage.Entry{}, err
	}
	return hh.n.entry(), nil
}

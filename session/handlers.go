package session

import (
	"strings"

	"github.com/picocalc/ninepfs/fidtable"
	"github.com/picocalc/ninepfs/ninep"
	"github.com/picocalc/ninepfs/storage"
)

// reply is what every handler produces: the reply message's type tag
// and a function that writes its payload. Handlers never return a Go
// error — per spec §7's propagation policy, a handler's return path
// is strictly local: it either composes a success payload or an
// Rerror payload, and nothing else ever reaches the caller.
type reply struct {
	msgType uint8
	write   func(w *ninep.Writer)
}

func errorReply(err error) reply {
	msg := storage.WireString(err)
	return reply{msgType: ninep.Rerror, write: func(w *ninep.Writer) { w.PutString(msg) }}
}

func errorString(msg string) reply {
	return reply{msgType: ninep.Rerror, write: func(w *ninep.Writer) { w.PutString(msg) }}
}

// dispatch routes msg to its handler, enforces the state-machine
// preconditions of spec §4.4/§4.6, and finalizes the reply into buf.
// If a success payload overruns buf (spec invariant 9: bounded
// buffers), dispatch falls back to an Rerror reply instead of ever
// emitting a truncated message. It also reports the reply's actual
// wire type, so the caller can log whether the request failed.
func dispatch(s *Session, msg *ninep.Message, buf []byte) (frame []byte, replyType uint8) {
	r := route(s, msg)
	return finalize(buf, msg.Tag, r)
}

func finalize(buf []byte, tag uint16, r reply) ([]byte, uint8) {
	w := ninep.NewWriter(buf)
	r.write(w)
	frame, err := w.Finalize(r.msgType, tag)
	if err == nil {
		return frame, r.msgType
	}
	// The success payload didn't fit the negotiated msize. Emit an
	// error reply instead of a truncated one; the error string itself
	// is small and always fits.
	w2 := ninep.NewWriter(buf)
	w2.PutString("out of resources: reply too large for negotiated msize")
	frame2, ferr := w2.Finalize(ninep.Rerror, tag)
	if ferr != nil {
		// buf is too small even for the fallback string (msize was
		// negotiated below HeaderSize+a short string); return an empty
		// frame, so nothing is written for this request, rather than
		// panic.
		return buf[:0], ninep.Rerror
	}
	return frame2, ninep.Rerror
}

func route(s *Session, msg *ninep.Message) reply {
	switch msg.Type {
	case ninep.Tversion:
		return tVersion(s, msg)
	case ninep.Tauth:
		return tAuth(s, msg)
	}

	if s.state == Connected {
		return errorString("version not negotiated")
	}

	switch msg.Type {
	case ninep.Tattach:
		return tAttach(s, msg)
	case ninep.Tflush:
		return tFlush(s, msg)
	}

	if s.state != Attached {
		return errorString("not attached")
	}

	switch msg.Type {
	case ninep.Twalk:
		return tWalk(s, msg)
	case ninep.Topen:
		return tOpen(s, msg)
	case ninep.Tcreate:
		return tCreate(s, msg)
	case ninep.Tread:
		return tRead(s, msg)
	case ninep.Twrite:
		return tWrite(s, msg)
	case ninep.Tclunk:
		return tClunk(s, msg)
	case ninep.Tremove:
		return tRemove(s, msg)
	case ninep.Tstat:
		return tStat(s, msg)
	case ninep.Twstat:
		return tWstat(s, msg)
	default:
		return errorString("unknown message type")
	}
}

func tVersion(s *Session, msg *ninep.Message) reply {
	requested := msg.GetU32()
	version := msg.GetString()
	if msg.Err() {
		return errorString("malformed Tversion")
	}

	if err := s.fids.FreeAll(s.gw); err != nil {
		s.log.WithError(err).Warn("errors closing fids during version reset")
	}
	s.fids = fidtable.New(s.cfg.MaxFIDsPerSession)
	s.msize = s.cfg.ClampMessageSize(requested)
	s.state = VersionNegotiated

	reported := "unknown"
	if strings.HasPrefix(version, "9P2000") {
		reported = s.cfg.Version
	}
	msize := s.msize
	return reply{msgType: ninep.Rversion, write: func(w *ninep.Writer) {
		w.PutU32(msize)
		w.PutString(reported)
	}}
}

func tAuth(_ *Session, _ *ninep.Message) reply {
	return errorString("authentication not required")
}

func tAttach(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	_ = msg.GetU32() // afid, unused: auth is never required
	_ = msg.GetString()
	_ = msg.GetString()
	if msg.Err() {
		return errorString("malformed Tattach")
	}

	qid := ninep.Qid{Type: ninep.QTDIR, Version: 0, Path: ninep.RootPath}
	if _, err := s.fids.Allocate(fid, fidtable.KindDir, "/", qid); err != nil {
		return errorReply(err)
	}
	s.state = Attached
	return reply{msgType: ninep.Rattach, write: func(w *ninep.Writer) { w.PutQid(qid) }}
}

func tFlush(_ *Session, _ *ninep.Message) reply {
	// Requests are dispatched synchronously and fully resolved before
	// the next one is read, so there is never a pending request to
	// cancel; Tflush is accepted and answered immediately.
	return reply{msgType: ninep.Rflush, write: func(*ninep.Writer) {}}
}

func resolveComponent(gw *storage.Gateway, curPath string, curIsDir bool, name string) (nextPath string, nextIsDir bool, err error) {
	if !curIsDir {
		return "", false, storage.ErrNotADirectory
	}
	switch name {
	case ".":
		return curPath, curIsDir, nil
	case "..":
		parent := parentOf(curPath)
		e, err := gw.Stat(parent)
		if err != nil {
			return "", false, err
		}
		return parent, e.IsDir, nil
	default:
		child := joinChild(curPath, name)
		e, err := gw.Stat(child)
		if err != nil {
			return "", false, err
		}
		return child, e.IsDir, nil
	}
}

func tWalk(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	newFID := msg.GetU32()
	nwname := msg.GetU16()
	if msg.Err() {
		return errorString("malformed Twalk")
	}
	names := make([]string, 0, nwname)
	for i := uint16(0); i < nwname; i++ {
		names = append(names, msg.GetString())
	}
	if msg.Err() {
		return errorString("malformed Twalk")
	}

	src := s.fids.Lookup(fid)
	if src == nil {
		return errorString("unknown fid")
	}

	if len(names) == 0 {
		if _, err := s.fids.Clone(src, newFID); err != nil {
			return errorReply(err)
		}
		return reply{msgType: ninep.Rwalk, write: func(w *ninep.Writer) { w.PutU16(0) }}
	}

	curPath := src.Path
	curIsDir := src.QID.IsDir()
	kind := src.Kind
	qids := make([]ninep.Qid, 0, len(names))
	for _, name := range names {
		next, nextIsDir, err := resolveComponent(s.gw, curPath, curIsDir, name)
		if err != nil {
			break
		}
		// Root always carries identity path 1 (spec's Data Model table);
		// "." and ".." resolving back to "/" must reuse that identity
		// rather than mint a fresh one, or a client walking ".." from
		// root would see a different root on every walk.
		var qid ninep.Qid
		if next == "/" {
			qid = storage.ToQID(true, ninep.RootPath)
		} else {
			qid = storage.ToQID(nextIsDir, s.fids.NextQidPath())
		}
		qids = append(qids, qid)
		curPath, curIsDir = next, nextIsDir
		if nextIsDir {
			kind = fidtable.KindDir
		} else {
			kind = fidtable.KindFile
		}
	}

	if len(qids) == len(names) {
		if newFID == fid {
			src.Path = curPath
			src.QID = qids[len(qids)-1]
			src.Kind = kind
		} else if _, err := s.fids.Allocate(newFID, kind, curPath, qids[len(qids)-1]); err != nil {
			return errorReply(err)
		}
	}
	// A partial walk (len(qids) < len(names), including a walk whose
	// first component fails) allocates nothing: the client sees a
	// short Rwalk and the unallocated newfid reads back
	// as "unknown fid" on any later request, per invariant 6.

	return reply{msgType: ninep.Rwalk, write: func(w *ninep.Writer) {
		w.PutU16(uint16(len(qids)))
		for _, q := range qids {
			w.PutQid(q)
		}
	}}
}

// ioUnit picks the I/O unit hint advertised by Ropen/Rcreate: the
// whole room the negotiated msize leaves once the Rread/Rwrite
// envelope (header plus the leading count field) is subtracted. The
// hint is below 4096 bytes when msize is below 4107.
func ioUnit(msize uint32) uint32 {
	const envelope = ninep.HeaderSize + 4
	if msize <= envelope {
		return 0
	}
	budget := msize - envelope
	if budget > 4096 {
		return budget
	}
	return budget
}

func tOpen(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	mode := msg.GetU8()
	if msg.Err() {
		return errorString("malformed Topen")
	}

	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}
	if e.IsOpen() {
		return errorString("fid already open")
	}

	h, entry, err := s.gw.Open(e.Path)
	if err != nil {
		return errorReply(err)
	}
	e.Handle = h
	e.Mode = mode
	e.IOUnit = ioUnit(s.msize)
	e.QID = storage.ToQID(entry.IsDir, e.QID.Path)

	qid := e.QID
	unit := e.IOUnit
	return reply{msgType: ninep.Ropen, write: func(w *ninep.Writer) {
		w.PutQid(qid)
		w.PutU32(unit)
	}}
}

func tCreate(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	name := msg.GetString()
	perm := msg.GetU32()
	mode := msg.GetU8()
	if msg.Err() {
		return errorString("malformed Tcreate")
	}

	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}
	if e.Kind != fidtable.KindDir {
		return errorString("not a directory")
	}

	childPath := joinChild(e.Path, name)
	var h storage.Handle
	var entry storage.Entry
	var err error
	isDir := perm&ninep.DMDIR != 0
	if isDir {
		err = s.gw.MakeDir(childPath)
		if err == nil {
			entry, err = s.gw.Stat(childPath)
		}
	} else {
		h, entry, err = s.gw.Create(childPath)
	}
	if err != nil {
		return errorReply(err)
	}

	qid := storage.ToQID(isDir, s.fids.NextQidPath())
	e.Path = childPath
	e.QID = qid
	if isDir {
		e.Kind = fidtable.KindDir
		e.Handle = nil
	} else {
		e.Kind = fidtable.KindFile
		e.Handle = h
	}
	e.Mode = mode
	e.IOUnit = ioUnit(s.msize)

	unit := e.IOUnit
	_ = entry
	return reply{msgType: ninep.Rcreate, write: func(w *ninep.Writer) {
		w.PutQid(qid)
		w.PutU32(unit)
	}}
}

func readBudget(msize uint32) uint32 {
	const envelope = ninep.HeaderSize + 4
	if msize <= envelope {
		return 0
	}
	return msize - envelope
}

func tRead(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	offset := msg.GetU64()
	count := msg.GetU32()
	if msg.Err() {
		return errorString("malformed Tread")
	}

	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}
	if !e.IsOpen() && e.Kind != fidtable.KindDir {
		return errorString("fid not open")
	}
	if budget := readBudget(s.msize); count > budget {
		count = budget
	}

	if e.Kind == fidtable.KindDir {
		return readDir(s, e, offset, count)
	}
	return readFile(s, e, offset, count)
}

func readFile(s *Session, e *fidtable.Entry, offset uint64, count uint32) reply {
	buf := make([]byte, count)
	n, err := s.gw.ReadAt(e.Handle, int64(offset), buf)
	if err != nil {
		return errorReply(err)
	}
	data := buf[:n]
	return reply{msgType: ninep.Rread, write: func(w *ninep.Writer) {
		w.PutU32(uint32(n))
		w.PutBytes(data)
	}}
}

func readDir(s *Session, e *fidtable.Entry, offset uint64, count uint32) reply {
	if !e.IsOpen() {
		h, _, err := s.gw.Open(e.Path)
		if err != nil {
			return errorReply(err)
		}
		e.Handle = h
		e.DirOffset = 0
		e.PendingEntry = nil
	} else if offset == 0 && e.DirOffset != 0 {
		_ = s.gw.Close(e.Handle)
		h, _, err := s.gw.Open(e.Path)
		if err != nil {
			return errorReply(err)
		}
		e.Handle = h
		e.DirOffset = 0
		e.PendingEntry = nil
	} else if offset != e.DirOffset {
		return errorString("invalid directory read offset")
	}

	var stats []ninep.Stat
	total := 0
	for {
		var entry storage.Entry
		if e.PendingEntry != nil {
			entry = *e.PendingEntry
		} else {
			var err error
			entry, err = s.gw.ReadDirEntry(e.Handle)
			if err != nil {
				return errorReply(err)
			}
			if entry.Name == "" {
				break
			}
		}
		if entry.Name == "." || entry.Name == ".." {
			e.PendingEntry = nil
			continue
		}
		probe := storage.ToStat(entry, ninep.Qid{})
		size := probe.WireSize()
		if total+size > int(count) {
			cp := entry
			e.PendingEntry = &cp
			break
		}
		e.PendingEntry = nil
		probe.Qid = storage.ToQID(entry.IsDir, s.fids.NextQidPath())
		stats = append(stats, probe)
		total += size
	}
	e.DirOffset += uint64(total)

	return reply{msgType: ninep.Rread, write: func(w *ninep.Writer) {
		w.PutU32(uint32(total))
		for _, st := range stats {
			w.PutStat(st)
		}
	}}
}

func tWrite(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	offset := msg.GetU64()
	count := msg.GetU32()
	data := msg.GetBytes(int(count))
	if msg.Err() {
		return errorString("malformed Twrite")
	}

	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}
	if e.Kind == fidtable.KindDir {
		return errorString("cannot write to directory")
	}
	if !e.IsOpen() {
		return errorString("fid not open")
	}

	n, err := s.gw.WriteAt(e.Handle, int64(offset), data)
	if err != nil {
		return errorReply(err)
	}
	return reply{msgType: ninep.Rwrite, write: func(w *ninep.Writer) { w.PutU32(uint32(n)) }}
}

func tClunk(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	if msg.Err() {
		return errorString("malformed Tclunk")
	}
	if s.fids.Lookup(fid) == nil {
		return errorString("unknown fid")
	}
	if err := s.fids.Free(fid, s.gw); err != nil {
		s.log.WithError(err).Warn("error closing handle on clunk")
	}
	return reply{msgType: ninep.Rclunk, write: func(*ninep.Writer) {}}
}

func tRemove(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	if msg.Err() {
		return errorString("malformed Tremove")
	}
	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}

	path := e.Path
	if e.IsOpen() {
		_ = s.gw.Close(e.Handle)
		e.Handle = nil
	}
	delErr := s.gw.Delete(path)
	_ = s.fids.Free(fid, s.gw)
	if delErr != nil {
		return errorReply(delErr)
	}
	return reply{msgType: ninep.Rremove, write: func(*ninep.Writer) {}}
}

func tStat(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	if msg.Err() {
		return errorString("malformed Tstat")
	}
	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}
	entry, err := s.gw.Stat(e.Path)
	if err != nil {
		return errorReply(err)
	}
	stat := storage.ToStat(entry, e.QID)
	return reply{msgType: ninep.Rstat, write: func(w *ninep.Writer) { w.PutStat(stat) }}
}

func tWstat(s *Session, msg *ninep.Message) reply {
	fid := msg.GetU32()
	stat := msg.GetStat()
	if msg.Err() {
		return errorString("malformed Twstat")
	}
	e := s.fids.Lookup(fid)
	if e == nil {
		return errorString("unknown fid")
	}

	// Only Name is honored (spec §4.6); every other field is silently
	// accepted, matching a read-only Twstat client's expectations
	// without pretending to support permission or timestamp changes
	// the FAT32 driver has no way to apply.
	if stat.Name != "" {
		newPath := joinChild(parentOf(e.Path), stat.Name)
		if err := s.gw.Rename(e.Path, newPath); err != nil {
			return errorReply(err)
		}
		e.Path = newPath
	}
	return reply{msgType: ninep.Rwstat, write: func(*ninep.Writer) {}}
}

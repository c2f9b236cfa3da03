package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/picocalc/ninepfs/config"
	"github.com/picocalc/ninepfs/ninep"
)

func (h *harness) walk(t *testing.T, fid, newFid uint32, names ...string) ninep.Message {
	h.send(ninep.Twalk, 10, func(w *ninep.Writer) {
		w.PutU32(fid)
		w.PutU32(newFid)
		w.PutU16(uint16(len(names)))
		for _, n := range names {
			w.PutString(n)
		}
	})
	return h.recv()
}

func TestWalkZeroLengthClonesFid(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	msg := h.walk(t, 0, 1)
	require.Equal(t, ninep.Rwalk, msg.Type)
	require.EqualValues(t, 0, msg.GetU16())
}

func TestCreateSubdirectoryThenWalkIntoIt(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	h.send(ninep.Tcreate, 2, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutString("sub")
		w.PutU32(ninep.DMDIR)
		w.PutU8(ninep.OREAD)
	})
	msg := h.recv()
	require.Equal(t, ninep.Rcreate, msg.Type)

	// Re-attach a fresh fid at root since the create rebound fid 0 to
	// the new child directory (spec semantics: Tcreate's target fid
	// becomes the created object).
	h.attach(t, 5)

	msg = h.walk(t, 5, 1, "sub")
	require.Equal(t, ninep.Rwalk, msg.Type)
	require.EqualValues(t, 1, msg.GetU16())
}

func TestWalkDotDotFromRootYieldsRootQID(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	msg := h.walk(t, 0, 1, "..")
	require.Equal(t, ninep.Rwalk, msg.Type)
	require.EqualValues(t, 1, msg.GetU16())
	qid := msg.GetQid()
	require.EqualValues(t, ninep.RootPath, qid.Path, "root's identity path must never change under \"..\"")

	msg = h.walk(t, 0, 2, ".", "..")
	require.Equal(t, ninep.Rwalk, msg.Type)
	require.EqualValues(t, 2, msg.GetU16())
	require.EqualValues(t, ninep.RootPath, msg.GetQid().Path)
	require.EqualValues(t, ninep.RootPath, msg.GetQid().Path)
}

func TestWalkUnknownComponentReturnsShortWalk(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	msg := h.walk(t, 0, 1, "does-not-exist")
	require.Equal(t, ninep.Rwalk, msg.Type)
	require.EqualValues(t, 0, msg.GetU16())

	// newfid was never allocated; any later use must fail as unknown.
	h.send(ninep.Tstat, 11, func(w *ninep.Writer) { w.PutU32(1) })
	errMsg := h.recv()
	require.Equal(t, ninep.Rerror, errMsg.Type)
}

func TestDirectoryReadPaginatesAndTerminates(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	names := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for i, name := range names {
		fid := uint32(10 + i)
		h.attach(t, fid)
		h.send(ninep.Tcreate, 20, func(w *ninep.Writer) {
			w.PutU32(fid)
			w.PutString(name)
			w.PutU32(0)
			w.PutU8(ninep.OREAD)
		})
		msg := h.recv()
		require.Equal(t, ninep.Rcreate, msg.Type)
		h.send(ninep.Tclunk, 21, func(w *ninep.Writer) { w.PutU32(fid) })
		require.Equal(t, ninep.Rclunk, h.recv().Type)
	}

	h.send(ninep.Topen, 30, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutU8(ninep.OREAD)
	})
	require.Equal(t, ninep.Ropen, h.recv().Type)

	var offset uint64
	rounds := 0
	for i := 0; i < 10; i++ {
		h.send(ninep.Tread, 31, func(w *ninep.Writer) {
			w.PutU32(0)
			w.PutU64(offset)
			w.PutU32(200) // small budget: forces multiple Tread rounds
		})
		msg := h.recv()
		require.Equal(t, ninep.Rread, msg.Type)
		n := msg.GetU32()
		if n == 0 {
			break
		}
		_ = msg.GetBytes(int(n))
		offset += uint64(n)
		rounds++
	}
	require.Greater(t, offset, uint64(0))
	require.Greater(t, rounds, 1, "a small read budget should force more than one Tread round")
}

func TestRemoveThenWalkFindsNothing(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	h.send(ninep.Tcreate, 2, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutString("doomed.txt")
		w.PutU32(0)
		w.PutU8(ninep.ORDWR)
	})
	require.Equal(t, ninep.Rcreate, h.recv().Type)

	h.send(ninep.Tremove, 3, func(w *ninep.Writer) { w.PutU32(0) })
	require.Equal(t, ninep.Rremove, h.recv().Type)

	h.attach(t, 6)
	msg := h.walk(t, 6, 7, "doomed.txt")
	require.EqualValues(t, 0, msg.GetU16())
}

func TestWstatRenamesFile(t *testing.T) {
	h := newHarness(t, config.Defaults())
	defer h.close()
	h.version(t)
	h.attach(t, 0)

	h.send(ninep.Tcreate, 2, func(w *ninep.Writer) {
		w.PutU32(0)
		w.PutString("old-name.txt")
		w.PutU32(0)
		w.PutU8(ninep.ORDWR)
	})
	require.Equal(t, ninep.Rcreate, h.recv().Type)

	h.send(ninep.Twstat, 3, func(w *ninep.Writer) {
		w.PutU32(0)
		st := ninep.Stat{Name: "new-name.txt"}
		w.PutStat(st)
	})
	require.Equal(t, ninep.Rwstat, h.recv().Type)

	h.attach(t, 8)
	msg := h.walk(t, 8, 9, "new-name.txt")
	require.EqualValues(t, 1, msg.GetU16())
}

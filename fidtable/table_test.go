package fidtable_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picocalc/ninepfs/fidtable"
	"github.com/picocalc/ninepfs/ninep"
	"github.com/picocalc/ninepfs/storage"
	"github.com/picocalc/ninepfs/storage/memdriver"
)

func TestAllocateRejectsDuplicateFID(t *testing.T) {
	tbl := fidtable.New(4)
	_, err := tbl.Allocate(1, fidtable.KindDir, "/", ninep.Qid{Path: 1})
	require.NoError(t, err)
	_, err = tbl.Allocate(1, fidtable.KindDir, "/", ninep.Qid{Path: 1})
	assert.ErrorIs(t, err, fidtable.ErrFIDInUse)
}

func TestAllocateRejectsWhenFull(t *testing.T) {
	tbl := fidtable.New(2)
	_, err := tbl.Allocate(1, fidtable.KindDir, "/", ninep.Qid{})
	require.NoError(t, err)
	_, err = tbl.Allocate(2, fidtable.KindDir, "/", ninep.Qid{})
	require.NoError(t, err)
	_, err = tbl.Allocate(3, fidtable.KindDir, "/", ninep.Qid{})
	assert.ErrorIs(t, err, fidtable.ErrTableFull)
}

func TestLookupUnknownFID(t *testing.T) {
	tbl := fidtable.New(4)
	assert.Nil(t, tbl.Lookup(99))
}

func TestNextQidPathStartsAtTwo(t *testing.T) {
	tbl := fidtable.New(4)
	assert.EqualValues(t, 2, tbl.NextQidPath())
	assert.EqualValues(t, 3, tbl.NextQidPath())
}

func TestCloneCopiesPathAndQidNotHandle(t *testing.T) {
	tbl := fidtable.New(4)
	old, err := tbl.Allocate(1, fidtable.KindFile, "/a.txt", ninep.Qid{Path: 5})
	require.NoError(t, err)
	old.Handle = "pretend-handle"

	cloned, err := tbl.Clone(old, 2)
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", cloned.Path)
	assert.EqualValues(t, 5, cloned.QID.Path)
	assert.Nil(t, cloned.Handle)
	assert.NotNil(t, tbl.Lookup(1).Handle)
}

func TestCloneIntoSameFIDRefreshesInPlace(t *testing.T) {
	tbl := fidtable.New(4)
	e, err := tbl.Allocate(1, fidtable.KindDir, "/", ninep.Qid{Path: 1})
	require.NoError(t, err)

	same, err := tbl.Clone(e, 1)
	require.NoError(t, err)
	assert.Same(t, e, same)
}

func TestFreeIsIdempotent(t *testing.T) {
	gw := storage.NewGateway(memdriver.New(0), time.Second)
	tbl := fidtable.New(4)
	_, err := tbl.Allocate(1, fidtable.KindDir, "/", ninep.Qid{Path: 1})
	require.NoError(t, err)

	require.NoError(t, tbl.Free(1, gw))
	assert.Nil(t, tbl.Lookup(1))
	require.NoError(t, tbl.Free(1, gw)) // double free is safe
}

func TestFreeClosesOpenHandle(t *testing.T) {
	d := memdriver.New(0)
	gw := storage.NewGateway(d, time.Second)
	tbl := fidtable.New(4)
	h, _, err := gw.Create("/f.txt")
	require.NoError(t, err)
	e, err := tbl.Allocate(1, fidtable.KindFile, "/f.txt", ninep.Qid{Path: 2})
	require.NoError(t, err)
	e.Handle = h

	require.NoError(t, tbl.Free(1, gw))
	// A second open of the same path must succeed, proving the handle
	// really was closed (the reference driver has no exclusive-open
	// restriction today, but re-reading the file confirms the handle
	// released its resources without error).
	h2, _, err := gw.Open("/f.txt")
	require.NoError(t, err)
	require.NoError(t, gw.Close(h2))
}

func TestFreeAllClosesEveryHandle(t *testing.T) {
	d := memdriver.New(0)
	gw := storage.NewGateway(d, time.Second)
	tbl := fidtable.New(4)
	h1, _, err := gw.Create("/a.txt")
	require.NoError(t, err)
	h2, _, err := gw.Create("/b.txt")
	require.NoError(t, err)
	e1, err := tbl.Allocate(1, fidtable.KindFile, "/a.txt", ninep.Qid{Path: 2})
	require.NoError(t, err)
	e1.Handle = h1
	e2, err := tbl.Allocate(2, fidtable.KindFile, "/b.txt", ninep.Qid{Path: 3})
	require.NoError(t, err)
	e2.Handle = h2

	require.NoError(t, tbl.FreeAll(gw))
	assert.Nil(t, tbl.Lookup(1))
	assert.Nil(t, tbl.Lookup(2))
}

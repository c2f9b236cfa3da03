package ninep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	buf := make([]byte, 256)
	w := NewWriter(buf)
	w.PutU32(8192)
	w.PutString(Version)
	frame, err := w.Finalize(Tversion, NoTag)
	require.NoError(t, err)

	msg, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, Tversion, msg.Type)
	assert.Equal(t, NoTag, msg.Tag)
	assert.Equal(t, uint32(8192), msg.GetU32())
	assert.Equal(t, Version, msg.GetString())
	assert.False(t, msg.Err())
}

func TestFinalizeSizeSelfConsistent(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)
	w.PutString("hello.txt")
	frame, err := w.Finalize(Rstat, 7)
	require.NoError(t, err)

	size, ok := PeekSize(frame)
	require.True(t, ok)
	assert.EqualValues(t, len(frame), size)
}

func TestQidRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	want := Qid{Type: QTDIR, Version: 3, Path: 42}
	w.PutQid(want)
	frame, err := w.Finalize(Rattach, 1)
	require.NoError(t, err)

	msg, err := Parse(frame)
	require.NoError(t, err)
	got := msg.GetQid()
	assert.Equal(t, want, got)
	assert.True(t, got.IsDir())
}

func TestStatRoundTrip(t *testing.T) {
	buf := make([]byte, 256)
	w := NewWriter(buf)
	want := Stat{
		Qid:    Qid{Type: QTFILE, Version: 0, Path: 9},
		Mode:   0o100644,
		Atime:  1000,
		Mtime:  1000,
		Length: 5,
		Name:   "hello.txt",
		UID:    "picocalc",
		GID:    "picocalc",
		MUID:   "picocalc",
		NUID:   1000,
		NGID:   1000,
		NMUID:  1000,
	}
	w.PutStat(want)
	frame, err := w.Finalize(Rstat, 9)
	require.NoError(t, err)

	msg, err := Parse(frame)
	require.NoError(t, err)
	got := msg.GetStat()
	assert.Equal(t, want, got)
	assert.False(t, msg.Err())
}

func TestReadStringRejectsOversizeLength(t *testing.T) {
	// A length prefix claiming more bytes than remain in the buffer
	// must latch the sticky error rather than read past the end.
	frame := []byte{0, 0, 0, 0, byte(Tattach), 0, 0, 0xFF, 0xFF}
	msg, err := Parse(frame)
	require.Error(t, err) // size field (0) doesn't match frame length either

	frame2 := make([]byte, HeaderSize+2)
	frame2[0] = byte(len(frame2))
	frame2[4] = byte(Tattach)
	frame2[HeaderSize] = 0xFF
	frame2[HeaderSize+1] = 0xFF // claims a 65535-byte string
	msg2, err2 := Parse(frame2)
	require.NoError(t, err2)
	s := msg2.GetString()
	assert.Equal(t, "", s)
	assert.True(t, msg2.Err())
	_ = msg
}

func TestWriterFinalizeFailsOnOverrun(t *testing.T) {
	buf := make([]byte, HeaderSize+2)
	w := NewWriter(buf)
	w.PutString("too long for this buffer")
	_, err := w.Finalize(Rerror, 1)
	assert.Error(t, err)
}

func TestStatWireSizeMatchesEncodedBytes(t *testing.T) {
	s := Stat{Name: "a", UID: "b", GID: "c", MUID: "d"}
	buf := make([]byte, 256)
	w := NewWriter(buf)
	w.PutStat(s)
	frame, err := w.Finalize(Rstat, 1)
	require.NoError(t, err)
	assert.Equal(t, s.WireSize(), len(frame)-HeaderSize)
}

package ninep

import (
	"encoding/binary"
	"fmt"
)

// Writer composes one reply message into a caller-supplied buffer. It
// reserves the HeaderSize-byte header up front so handlers can write
// their payload fields without tracking the offset, then Finalize
// backfills the header once the final size is known.
type Writer struct {
	cur cursor
}

// NewWriter wraps buf for encoding. buf's length is the hard cap on
// the message this Writer can produce — callers pass a buffer sized
// to the session's negotiated msize.
func NewWriter(buf []byte) *Writer {
	w := &Writer{cur: cursor{buf: buf}}
	w.cur.pos = HeaderSize
	return w
}

// Err reports whether any Put call has overrun buf.
func (w *Writer) Err() bool { return w.cur.Err() }

// Len returns the number of payload bytes written so far (excluding
// the header).
func (w *Writer) Len() int { return w.cur.pos - HeaderSize }

func (w *Writer) PutU8(v uint8)       { w.cur.writeU8(v) }
func (w *Writer) PutU16(v uint16)     { w.cur.writeU16(v) }
func (w *Writer) PutU32(v uint32)     { w.cur.writeU32(v) }
func (w *Writer) PutU64(v uint64)     { w.cur.writeU64(v) }
func (w *Writer) PutString(s string)  { w.cur.writeString(s) }
func (w *Writer) PutQid(q Qid)        { w.cur.writeQid(q) }
func (w *Writer) PutStat(s Stat)      { w.cur.writeStat(s) }
func (w *Writer) PutBytes(b []byte)   { w.cur.writeBytes(b) }

// Finalize writes the 7-byte header (size, type, tag) at offset 0 and
// returns the complete framed message. size counts the whole message,
// itself included, per spec. Finalize fails if any prior Put call
// overran the buffer — the caller should fall back to an error reply
// rather than emit a truncated one.
func (w *Writer) Finalize(msgType uint8, tag uint16) ([]byte, error) {
	if w.cur.Err() {
		return nil, fmt.Errorf("ninep: message overran %d byte buffer", len(w.cur.buf))
	}
	size := w.cur.pos
	binary.LittleEndian.PutUint32(w.cur.buf[0:4], uint32(size))
	w.cur.buf[4] = msgType
	binary.LittleEndian.PutUint16(w.cur.buf[5:7], tag)
	return w.cur.buf[:size], nil
}

// Message is one decoded request: its type, tag, and a cursor over
// its payload bytes for the handler to read fields from in order.
type Message struct {
	Type    uint8
	Tag     uint16
	Size    uint32
	payload cursor
}

// Parse decodes the header of a single complete frame (exactly `size`
// bytes, as already extracted by the session framer) and exposes its
// payload for field-by-field reading. It does not trust the leading
// size field beyond len(frame): a frame shorter than the header, or
// one whose size field differs from len(frame), is rejected with an
// error rather than read past frame's end.
func Parse(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return Message{}, fmt.Errorf("ninep: frame of %d bytes shorter than header", len(frame))
	}
	size := binary.LittleEndian.Uint32(frame[0:4])
	if int(size) != len(frame) {
		return Message{}, fmt.Errorf("ninep: frame size field %d does not match %d received bytes", size, len(frame))
	}
	return Message{
		Type:    frame[4],
		Tag:     binary.LittleEndian.Uint16(frame[5:7]),
		Size:    size,
		payload: cursor{buf: frame[HeaderSize:]},
	}, nil
}

// Err reports whether any Get call on this message's payload has run
// past its bounds — a malformed request body.
func (m *Message) Err() bool { return m.payload.Err() }

func (m *Message) GetU8() uint8       { return m.payload.readU8() }
func (m *Message) GetU16() uint16     { return m.payload.readU16() }
func (m *Message) GetU32() uint32     { return m.payload.readU32() }
func (m *Message) GetU64() uint64     { return m.payload.readU64() }
func (m *Message) GetString() string  { return m.payload.readString() }
func (m *Message) GetQid() Qid        { return m.payload.readQid() }
func (m *Message) GetStat() Stat      { return m.payload.readStat() }
func (m *Message) GetBytes(n int) []byte { return m.payload.readBytes(n) }

// PeekFID reads the payload's leading 4 bytes as a little-endian
// uint32 without consuming them or disturbing the sticky error flag,
// so a caller can log the request's fid before a handler's own
// Get calls advance the cursor. It returns 0 if fewer than 4 bytes
// remain.
func (m *Message) PeekFID() uint32 {
	if m.payload.remaining() < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(m.payload.buf[m.payload.pos : m.payload.pos+4])
}

// PeekSize reads only the 4-byte leading size field of a (possibly
// incomplete) buffer, for the session framer to decide whether a full
// frame is available yet. It returns ok=false if fewer than 4 bytes
// are available.
func PeekSize(buf []byte) (size uint32, ok bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[0:4]), true
}

// ErrString writes a bare wire-format string, the payload of an
// Rerror reply.
func ErrString(w *Writer, msg string) {
	w.PutString(msg)
}

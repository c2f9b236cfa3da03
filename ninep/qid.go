package ninep

// Qid is the server-assigned triple that uniquely names a filesystem
// object across its lifetime on this server run. It is 13 bytes on
// the wire: a type byte, a 4-byte version counter and an 8-byte
// identity path.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// QidSize is the wire size of an encoded Qid.
const QidSize = 1 + 4 + 8

// IsDir reports whether the QID names a directory.
func (q Qid) IsDir() bool {
	return q.Type&QTDIR != 0
}

func (c *cursor) readQid() Qid {
	return Qid{
		Type:    c.readU8(),
		Version: c.readU32(),
		Path:    c.readU64(),
	}
}

func (c *cursor) writeQid(q Qid) {
	c.writeU8(q.Type)
	c.writeU32(q.Version)
	c.writeU64(q.Path)
}

package ninep

// Stat is a decoded 9P2000.u stat record: Plan 9's metadata fields
// plus the Unix extensions (numeric uid/gid/muid and an extension
// string). On the wire it is itself prefixed by its own encoded size
// when embedded in an Rstat reply or a directory listing.
type Stat struct {
	Type   uint16
	Dev    uint32
	Qid    Qid
	Mode   uint32
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	UID    string
	GID    string
	MUID   string

	// 9P2000.u extensions.
	Extension string
	NUID      uint32
	NGID      uint32
	NMUID     uint32
}

// encodedSize returns the number of bytes Stat.encode would write,
// excluding the leading 2-byte size prefix.
func (s Stat) encodedSize() int {
	return 2 + 4 + QidSize + 4 + 4 + 4 + 8 +
		2 + len(s.Name) +
		2 + len(s.UID) +
		2 + len(s.GID) +
		2 + len(s.MUID) +
		2 + len(s.Extension) +
		4 + 4 + 4
}

// WireSize is the total number of bytes Stat occupies on the wire,
// including its own 2-byte size prefix.
func (s Stat) WireSize() int {
	return 2 + s.encodedSize()
}

// writeStat appends the size-prefixed stat record to the cursor.
func (c *cursor) writeStat(s Stat) {
	c.writeU16(uint16(s.encodedSize()))
	c.writeU16(s.Type)
	c.writeU32(s.Dev)
	c.writeQid(s.Qid)
	c.writeU32(s.Mode)
	c.writeU32(s.Atime)
	c.writeU32(s.Mtime)
	c.writeU64(s.Length)
	c.writeString(s.Name)
	c.writeString(s.UID)
	c.writeString(s.GID)
	c.writeString(s.MUID)
	c.writeString(s.Extension)
	c.writeU32(s.NUID)
	c.writeU32(s.NGID)
	c.writeU32(s.NMUID)
}

// readStat reads one size-prefixed stat record, bounding every field
// to the record's own declared size rather than the whole buffer.
func (c *cursor) readStat() Stat {
	size := int(c.readU16())
	if c.bad {
		return Stat{}
	}
	if size < 0 || size > c.remaining() {
		c.fail()
		return Stat{}
	}
	// Constrain decoding to exactly the declared record so a
	// malformed inner field can never read into the next record.
	inner := &cursor{buf: c.buf[c.pos : c.pos+size]}
	c.pos += size

	var s Stat
	s.Type = inner.readU16()
	s.Dev = inner.readU32()
	s.Qid = inner.readQid()
	s.Mode = inner.readU32()
	s.Atime = inner.readU32()
	s.Mtime = inner.readU32()
	s.Length = inner.readU64()
	s.Name = inner.readString()
	s.UID = inner.readString()
	s.GID = inner.readString()
	s.MUID = inner.readString()
	s.Extension = inner.readString()
	s.NUID = inner.readU32()
	s.NGID = inner.readU32()
	s.NMUID = inner.readU32()
	if inner.bad {
		c.fail()
	}
	return s
}

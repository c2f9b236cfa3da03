package storage

import "github.com/picocalc/ninepfs/ninep"

// Constant identity fields for every object this server exports: the
// FAT32 volume has no concept of Unix users, so every object is owned
// by the same synthetic identity, per spec §4.2.
const (
	OwnerName        = "picocalc"
	OwnerNumericID    = 1000
	DirMode          = 0o040755
	FileModeReadonly = 0o100444
	FileModeWritable = 0o100644
)

// ToQID builds the wire QID for an entry. The identity path is never
// derived from the driver — it is minted once per walked/created
// object by the session's FID table (fidtable.Table.NextQidPath) and
// threaded through by the caller; Gateway only fills in the type bit.
func ToQID(isDir bool, path uint64) ninep.Qid {
	var t uint8
	if isDir {
		t = ninep.QTDIR
	}
	return ninep.Qid{Type: t, Version: 0, Path: path}
}

// ToStat maps a driver Entry plus an already-minted QID onto a 9P2000.u
// stat record, per spec §4.2's metadata table. atime and mtime are set
// equal: the driver's timestamp granularity does not distinguish them.
func ToStat(e Entry, qid ninep.Qid) ninep.Stat {
	mode := FileModeWritable
	if e.IsDir {
		mode = DirMode
	} else if e.ReadOnly {
		mode = FileModeReadonly
	}
	mtime := uint32(e.ModTime.Unix())
	return ninep.Stat{
		Qid:    qid,
		Mode:   uint32(mode),
		Atime:  mtime,
		Mtime:  mtime,
		Length: e.Size,
		Name:   e.Name,
		UID:    OwnerName,
		GID:    OwnerName,
		MUID:   OwnerName,
		NUID:   OwnerNumericID,
		NGID:   OwnerNumericID,
		NMUID:  OwnerNumericID,
	}
}

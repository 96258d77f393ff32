// Package types defines the core domain types for the in-memory filesystem.
package types

import (
	"time"
)

// FileKind is the kind of an inode.
type FileKind int

const (
	KindRegular FileKind = iota
	KindDirectory
)

func (k FileKind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Mode holds the permission bits of an inode (owner/group/other × rwx).
type Mode uint32

const (
	RUSR Mode = 0o400
	WUSR Mode = 0o200
	XUSR Mode = 0o100
	RGRP Mode = 0o040
	WGRP Mode = 0o020
	XGRP Mode = 0o010
	ROTH Mode = 0o004
	WOTH Mode = 0o002
	XOTH Mode = 0o001

	RWXU Mode = RUSR | WUSR | XUSR
	RWXG Mode = RGRP | WGRP | XGRP
	RWXO Mode = ROTH | WOTH | XOTH

	// PermMask covers every bit the engine stores.
	PermMask Mode = RWXU | RWXG | RWXO
)

// Perm returns the mode with everything outside PermMask cleared.
func (m Mode) Perm() Mode {
	return m & PermMask
}

// String renders the mode the way ls does, e.g. "rwxr-x---".
func (m Mode) String() string {
	const chars = "rwxrwxrwx"
	buf := []byte("---------")
	for i := 0; i < 9; i++ {
		if m&(1<<uint(8-i)) != 0 {
			buf[i] = chars[i]
		}
	}
	return string(buf)
}

// Access is a set of requested access bits, using the "other" triplet layout.
type Access uint32

const (
	AccessExecute Access = 1
	AccessWrite   Access = 2
	AccessRead    Access = 4
)

func (a Access) String() string {
	s := ""
	if a&AccessRead != 0 {
		s += "r"
	}
	if a&AccessWrite != 0 {
		s += "w"
	}
	if a&AccessExecute != 0 {
		s += "x"
	}
	if s == "" {
		return "none"
	}
	return s
}

// OFlags are the flags passed to Open. Values follow Linux so kernel flags
// can be passed through unchanged.
type OFlags uint32

const (
	ReadOnly  OFlags = 0
	WriteOnly OFlags = 1
	ReadWrite OFlags = 2

	// AccessModeMask selects the mutually exclusive access mode.
	AccessModeMask OFlags = 3

	Create    OFlags = 0o100
	Exclusive OFlags = 0o200
	Truncate  OFlags = 0o1000
	Append    OFlags = 0o2000
)

// AccessMode returns the access mode part of the flags.
func (f OFlags) AccessMode() OFlags {
	return f & AccessModeMask
}

// Readable reports whether the flags grant read access.
func (f OFlags) Readable() bool {
	m := f.AccessMode()
	return m == ReadOnly || m == ReadWrite
}

// Writable reports whether the flags grant write access.
func (f OFlags) Writable() bool {
	m := f.AccessMode()
	return m == WriteOnly || m == ReadWrite
}

// Has reports whether all bits of flag are set.
func (f OFlags) Has(flag OFlags) bool {
	return f&flag == flag
}

// Identity is the calling principal. Elevated bypasses permission checks.
type Identity struct {
	UID      uint32 `json:"uid" yaml:"uid"`
	GID      uint32 `json:"gid" yaml:"gid"`
	Elevated bool   `json:"elevated" yaml:"elevated"`
}

// Root is the host superuser: uid 0, gid 0, elevated.
var Root = Identity{UID: 0, GID: 0, Elevated: true}

// FileInfo describes an inode.
type FileInfo struct {
	Ino   uint64    `json:"ino"`
	Kind  FileKind  `json:"kind"`
	Mode  Mode      `json:"mode"`
	UID   uint32    `json:"uid"`
	GID   uint32    `json:"gid"`
	Size  int64     `json:"size"`
	Nlink uint32    `json:"nlink"`
	Atime time.Time `json:"atime"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`
}

// IsDir reports whether the inode is a directory.
func (fi FileInfo) IsDir() bool {
	return fi.Kind == KindDirectory
}

// DirEntry is a single directory entry as returned by ReadDir.
type DirEntry struct {
	Name string   `json:"name"`
	Ino  uint64   `json:"ino"`
	Kind FileKind `json:"kind"`
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Inodes      int `json:"inodes"`
	Orphans     int `json:"orphans"` // unlinked but still open
	Descriptors int `json:"descriptors"`
}

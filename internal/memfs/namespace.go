package memfs

import (
	"strings"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// MaxNameLen is the longest directory entry name accepted.
const MaxNameLen = 255

// walkPath is a parsed absolute path.
type walkPath struct {
	raw      string
	segments []string // without empty and "." segments; ".." is kept
	dirOnly  bool     // trailing "/", "/." or "/.." requires a directory
}

// parsePath splits an absolute '/'-separated path into segments.
func parsePath(op, p string) (walkPath, error) {
	if !strings.HasPrefix(p, "/") {
		return walkPath{}, &types.PathError{Op: op, Path: p, Kind: types.KindInvalidArgument}
	}

	wp := walkPath{raw: p}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		}
		if len(part) > MaxNameLen {
			return walkPath{}, &types.PathError{Op: op, Path: p, Kind: types.KindInvalidArgument}
		}
		wp.segments = append(wp.segments, part)
	}

	last := parts[len(parts)-1]
	wp.dirOnly = len(wp.segments) > 0 && (last == "" || last == "." || last == "..")
	return wp, nil
}

// isRoot reports whether the path names the root directory itself.
func (wp walkPath) isRoot() bool {
	return len(wp.segments) == 0
}

// base returns the final segment.
func (wp walkPath) base() string {
	if wp.isRoot() {
		return "/"
	}
	return wp.segments[len(wp.segments)-1]
}

// lastIsDot reports whether the final component was "." or "..", which
// can never be created or removed.
func (wp walkPath) lastIsDot() bool {
	if wp.isRoot() {
		return false
	}
	trimmed := strings.TrimRight(wp.raw, "/")
	return strings.HasSuffix(trimmed, "/.") || strings.HasSuffix(trimmed, "/..") || wp.base() == ".."
}

// walk follows segments from the root. Every directory searched must grant
// execute to id. The caller must hold f.mu.
func (f *FileSystem) walk(op string, wp walkPath, segments []string, id types.Identity) (*inode, error) {
	cur := f.root
	for _, seg := range segments {
		if !cur.isDir() {
			return nil, &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotADirectory}
		}
		if err := f.check(op, wp.raw, cur, types.AccessExecute, id); err != nil {
			return nil, err
		}

		var next uint64
		if seg == ".." {
			next = cur.parent
		} else {
			ino, ok := cur.entries[seg]
			if !ok {
				return nil, &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotFound}
			}
			next = ino
		}

		n, ok := f.store.get(next)
		if !ok {
			panic("memfs: dangling directory entry " + seg)
		}
		cur = n
	}
	return cur, nil
}

// resolve returns the inode a path names. The caller must hold f.mu.
func (f *FileSystem) resolve(op string, wp walkPath, id types.Identity) (*inode, error) {
	n, err := f.walk(op, wp, wp.segments, id)
	if err != nil {
		return nil, err
	}
	if wp.dirOnly && !n.isDir() {
		return nil, &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotADirectory}
	}
	return n, nil
}

// resolveParent returns the directory that holds (or would hold) the final
// segment, and that segment's name. The caller must hold f.mu and must
// reject root paths before calling.
func (f *FileSystem) resolveParent(op string, wp walkPath, id types.Identity) (*inode, string, error) {
	parent, err := f.walk(op, wp, wp.segments[:len(wp.segments)-1], id)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotADirectory}
	}
	return parent, wp.base(), nil
}

// createEntry links a new inode named name into parent. The caller must
// hold f.mu for writing.
func (f *FileSystem) createEntry(op string, wp walkPath, parent *inode, name string, kind types.FileKind, mode types.Mode, id types.Identity) (*inode, error) {
	if !parent.isDir() {
		return nil, &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotADirectory}
	}
	if _, exists := parent.entries[name]; exists {
		return nil, &types.PathError{Op: op, Path: wp.raw, Kind: types.KindAlreadyExists}
	}
	if err := f.check(op, wp.raw, parent, types.AccessWrite|types.AccessExecute, id); err != nil {
		return nil, err
	}

	now := f.platform.Now()
	n := f.store.alloc(kind, mode, id.UID, id.GID, parent.ino, now)
	parent.entries[name] = n.ino
	parent.touch(now, true)

	f.log.Debug("entry created",
		fieldOp(op),
		fieldPath(wp.raw),
		fieldIno(n.ino),
		fieldString("kind", kind.String()),
		fieldString("mode", n.mode.String()),
	)
	return n, nil
}

// removeEntry unlinks name from parent. wantDir selects rmdir semantics.
// The caller must hold f.mu for writing.
func (f *FileSystem) removeEntry(op string, wp walkPath, parent *inode, name string, wantDir bool, id types.Identity) error {
	ino, ok := parent.entries[name]
	if !ok {
		return &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotFound}
	}
	child, ok := f.store.get(ino)
	if !ok {
		panic("memfs: dangling directory entry " + name)
	}
	if err := f.check(op, wp.raw, parent, types.AccessWrite|types.AccessExecute, id); err != nil {
		return err
	}

	switch {
	case wantDir && !child.isDir():
		return &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotADirectory}
	case !wantDir && child.isDir():
		return &types.PathError{Op: op, Path: wp.raw, Kind: types.KindIsADirectory}
	case !wantDir && wp.dirOnly:
		return &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotADirectory}
	case wantDir && len(child.entries) > 0:
		return &types.PathError{Op: op, Path: wp.raw, Kind: types.KindNotEmpty}
	}

	delete(parent.entries, name)
	now := f.platform.Now()
	parent.touch(now, true)
	child.touch(now, false)
	destroyed := f.store.unlink(ino)

	f.log.Debug("entry removed",
		fieldOp(op),
		fieldPath(wp.raw),
		fieldIno(ino),
		fieldBool("destroyed", destroyed),
	)
	return nil
}

package memfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// rootIno is the inode number of the namespace root.
const rootIno uint64 = 1

// inode is a file or directory. Fields are grouped by the lock guarding them.
type inode struct {
	ino    uint64
	kind   types.FileKind
	parent uint64 // lookup key, not an owning reference

	// Guarded by FileSystem.mu.
	mode    types.Mode
	uid     uint32
	gid     uint32
	entries map[string]uint64

	// Guarded by mu.
	mu    sync.RWMutex
	data  []byte
	mtime time.Time
	ctime time.Time
	atime atomic.Int64 // unix nanoseconds; updated by concurrent readers

	// Guarded by inodeStore.mu.
	linked bool
	opens  int
}

func (n *inode) attr() Attr {
	return Attr{Mode: n.mode, UID: n.uid, GID: n.gid}
}

func (n *inode) isDir() bool {
	return n.kind == types.KindDirectory
}

// info snapshots the inode. The caller must hold FileSystem.mu.
func (n *inode) info(nlink uint32) types.FileInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	size := int64(len(n.data))
	if n.isDir() {
		size = int64(len(n.entries))
	}
	return types.FileInfo{
		Ino:   n.ino,
		Kind:  n.kind,
		Mode:  n.mode,
		UID:   n.uid,
		GID:   n.gid,
		Size:  size,
		Nlink: nlink,
		Atime: time.Unix(0, n.atime.Load()).UTC(),
		Mtime: n.mtime,
		Ctime: n.ctime,
	}
}

// readAt copies from the buffer at off. It returns 0 at or past the end.
func (n *inode) readAt(buf []byte, off int64, now time.Time) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	n.atime.Store(now.UnixNano())
	if off >= int64(len(n.data)) {
		return 0
	}
	return copy(buf, n.data[off:])
}

// writeAtLocked stores data at off, growing and zero-filling the buffer
// as needed. The caller must hold n.mu for writing and bound off+len(data).
func (n *inode) writeAtLocked(data []byte, off int64, now time.Time) int {
	if len(data) == 0 {
		return 0
	}
	end := off + int64(len(data))
	if end > int64(len(n.data)) {
		if end > int64(cap(n.data)) {
			grown := make([]byte, end, growCap(int64(cap(n.data)), end))
			copy(grown, n.data)
			n.data = grown
		} else {
			// Re-slicing exposes stale bytes from an earlier truncate.
			tail := n.data[len(n.data):end]
			clear(tail)
			n.data = n.data[:end]
		}
	}
	copy(n.data[off:], data)
	n.mtime = now
	n.ctime = now
	return len(data)
}

func (n *inode) writeAt(data []byte, off int64, now time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writeAtLocked(data, off, now)
}

// truncate sets the buffer length to size, zero-filling when growing.
func (n *inode) truncate(size int64, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case size < int64(len(n.data)):
		n.data = n.data[:size]
	case size > int64(len(n.data)):
		n.writeAtLocked(make([]byte, size-int64(len(n.data))), int64(len(n.data)), now)
	}
	n.mtime = now
	n.ctime = now
}

func (n *inode) size() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return int64(len(n.data))
}

// touch updates modification and change times.
func (n *inode) touch(now time.Time, modified bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if modified {
		n.mtime = now
	}
	n.ctime = now
}

func growCap(current, need int64) int64 {
	c := current * 2
	if c < 64 {
		c = 64
	}
	if c < need {
		c = need
	}
	return c
}

// inodeStore owns every inode. An inode is destroyed once it has no
// namespace entry and no open descriptor.
type inodeStore struct {
	mu    sync.Mutex
	next  uint64
	nodes map[uint64]*inode
}

func newInodeStore() *inodeStore {
	return &inodeStore{
		next:  rootIno,
		nodes: make(map[uint64]*inode),
	}
}

// alloc creates a linked inode with a fresh number.
func (s *inodeStore) alloc(kind types.FileKind, mode types.Mode, uid, gid uint32, parent uint64, now time.Time) *inode {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := &inode{
		ino:    s.next,
		kind:   kind,
		parent: parent,
		mode:   mode.Perm(),
		uid:    uid,
		gid:    gid,
		mtime:  now,
		ctime:  now,
		linked: true,
	}
	n.atime.Store(now.UnixNano())
	if kind == types.KindDirectory {
		n.entries = make(map[string]uint64)
	}
	if parent == 0 {
		n.parent = n.ino
	}
	s.nodes[n.ino] = n
	s.next++
	return n
}

func (s *inodeStore) get(ino uint64) (*inode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ino]
	return n, ok
}

// nlink reports 1 while the inode has a namespace entry, 0 afterwards.
func (s *inodeStore) nlink(n *inode) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.linked {
		return 1
	}
	return 0
}

// retain records a new open descriptor on ino.
func (s *inodeStore) retain(ino uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[ino]; ok {
		n.opens++
	}
}

// release drops an open descriptor and reports whether the inode was destroyed.
func (s *inodeStore) release(ino uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ino]
	if !ok {
		return false
	}
	if n.opens > 0 {
		n.opens--
	}
	return s.reapLocked(n)
}

// unlink drops the namespace entry and reports whether the inode was destroyed.
func (s *inodeStore) unlink(ino uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ino]
	if !ok {
		return false
	}
	n.linked = false
	return s.reapLocked(n)
}

func (s *inodeStore) reapLocked(n *inode) bool {
	if n.linked || n.opens > 0 {
		return false
	}
	delete(s.nodes, n.ino)
	n.mu.Lock()
	n.data = nil
	n.mu.Unlock()
	return true
}

// counts returns the number of live inodes and of those that are unlinked
// but still open.
func (s *inodeStore) counts() (live, orphans int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if !n.linked {
			orphans++
		}
	}
	return len(s.nodes), orphans
}

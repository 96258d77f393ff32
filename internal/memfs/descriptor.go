package memfs

import (
	"sync"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// firstFD is the first descriptor handed out; 0-2 stay free for stdio.
const firstFD = 3

// descriptor is one open session on an inode.
type descriptor struct {
	fd    int
	ino   uint64
	kind  types.FileKind
	flags types.OFlags
	path  string // as given to Open, for logging only

	mu     sync.Mutex
	offset int64
	closed bool
}

// descriptorTable maps descriptor numbers to open descriptors. Numbers are
// never reused, so a stale number can never alias a newer descriptor.
type descriptorTable struct {
	mu      sync.Mutex
	next    int
	entries map[int]*descriptor
}

func newDescriptorTable() *descriptorTable {
	return &descriptorTable{
		next:    firstFD,
		entries: make(map[int]*descriptor),
	}
}

// insert assigns a number to d and registers it.
func (t *descriptorTable) insert(d *descriptor) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	d.fd = t.next
	t.next++
	t.entries[d.fd] = d
	return d.fd
}

func (t *descriptorTable) get(fd int) (*descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[fd]
	return d, ok
}

// remove unregisters fd. The second result is false if fd was not open.
func (t *descriptorTable) remove(fd int) (*descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	return d, ok
}

func (t *descriptorTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// lookup returns the open descriptor for fd or a BadDescriptor error.
func (f *FileSystem) lookup(op string, fd int) (*descriptor, error) {
	d, ok := f.fds.get(fd)
	if !ok {
		return nil, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindBadDescriptor}
	}
	return d, nil
}

// acquire locks d and returns its inode. It fails with BadDescriptor if d
// was closed after it was looked up. On success the caller must unlock d.mu.
func (f *FileSystem) acquire(op string, d *descriptor) (*inode, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, &types.DescriptorError{Op: op, FD: d.fd, Kind: types.KindBadDescriptor}
	}
	n, ok := f.store.get(d.ino)
	if !ok {
		d.mu.Unlock()
		panic("memfs: open descriptor refers to a destroyed inode")
	}
	return n, nil
}

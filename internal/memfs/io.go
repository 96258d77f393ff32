package memfs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Open opens path and returns a new descriptor positioned at offset 0.
//
// With Create a missing regular file is created with mode, owned by the
// caller; with Create|Exclusive an existing target fails AlreadyExists.
// Truncate empties a file opened for writing. Append moves the cursor to
// the end before every Write. Directories may be opened ReadOnly only,
// without Create.
func (f *FileSystem) Open(ctx context.Context, path string, flags types.OFlags, mode types.Mode) (fd int, err error) {
	const op = "open"
	fd = -1
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path), fieldFD(fd)) }(time.Now())

	id := f.identity(ctx)
	if flags.AccessMode() == types.AccessModeMask {
		return -1, &types.PathError{Op: op, Path: path, Kind: types.KindInvalidArgument}
	}
	wp, err := parsePath(op, path)
	if err != nil {
		return -1, err
	}

	if flags.Has(types.Create) {
		f.mu.Lock()
		defer f.mu.Unlock()
	} else {
		f.mu.RLock()
		defer f.mu.RUnlock()
	}

	n, err := f.resolve(op, wp, id)
	created := false
	switch {
	case err == nil:
		if flags.Has(types.Create | types.Exclusive) {
			return -1, &types.PathError{Op: op, Path: path, Kind: types.KindAlreadyExists}
		}
	case errors.Is(err, types.ErrNotFound) && flags.Has(types.Create):
		if wp.dirOnly {
			return -1, &types.PathError{Op: op, Path: path, Kind: types.KindIsADirectory}
		}
		parent, name, perr := f.resolveParent(op, wp, id)
		if perr != nil {
			return -1, perr
		}
		n, err = f.createEntry(op, wp, parent, name, types.KindRegular, mode, id)
		if err != nil {
			return -1, err
		}
		created = true
	default:
		return -1, err
	}

	if !created {
		if err := f.checkOpen(op, path, n, flags, id); err != nil {
			return -1, err
		}
		if flags.Has(types.Truncate) && flags.Writable() {
			n.truncate(0, f.platform.Now())
		}
	}

	f.store.retain(n.ino)
	fd = f.fds.insert(&descriptor{
		ino:   n.ino,
		kind:  n.kind,
		flags: flags,
		path:  path,
	})
	f.publishStats()
	return fd, nil
}

// checkOpen authorizes opening an existing inode with flags.
func (f *FileSystem) checkOpen(op, path string, n *inode, flags types.OFlags, id types.Identity) error {
	if n.isDir() && (flags.Writable() || flags.Has(types.Truncate) || flags.Has(types.Create)) {
		return &types.PathError{Op: op, Path: path, Kind: types.KindIsADirectory}
	}

	var access types.Access
	if flags.Readable() {
		access |= types.AccessRead
	}
	if flags.Writable() {
		access |= types.AccessWrite
	}
	return f.check(op, path, n, access, id)
}

// Close releases a descriptor. Closing an unknown or closed descriptor
// fails BadDescriptor.
func (f *FileSystem) Close(ctx context.Context, fd int) (err error) {
	const op = "close"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	d, ok := f.fds.remove(fd)
	if !ok {
		return &types.DescriptorError{Op: op, FD: fd, Kind: types.KindBadDescriptor}
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if f.store.release(d.ino) {
		f.log.Debug("inode destroyed on close", fieldFD(fd), fieldIno(d.ino), fieldPath(d.path))
	}
	f.publishStats()
	return nil
}

// ioDescriptor looks up fd for byte I/O, rejecting directories and
// descriptors opened without the needed access. On success d.mu is held.
func (f *FileSystem) ioDescriptor(op string, fd int, write bool) (*descriptor, *inode, error) {
	d, err := f.lookup(op, fd)
	if err != nil {
		return nil, nil, err
	}
	n, err := f.acquire(op, d)
	if err != nil {
		return nil, nil, err
	}

	var kind types.ErrorKind
	switch {
	case d.kind == types.KindDirectory:
		kind = types.KindIsADirectory
	case write && !d.flags.Writable():
		kind = types.KindPermissionDenied
	case !write && !d.flags.Readable():
		kind = types.KindPermissionDenied
	}
	if kind != 0 {
		d.mu.Unlock()
		return nil, nil, &types.DescriptorError{Op: op, FD: fd, Kind: kind}
	}
	return d, n, nil
}

// Read reads from the cursor into buf and advances the cursor. It returns
// 0 at end of file.
func (f *FileSystem) Read(ctx context.Context, fd int, buf []byte) (n int, err error) {
	const op = "read"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	d, node, err := f.ioDescriptor(op, fd, false)
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	n = node.readAt(buf, d.offset, f.platform.Now())
	d.offset += int64(n)
	f.recordBytes("read", n)
	return n, nil
}

// Write writes data at the cursor, growing the file as needed, and advances
// the cursor by len(data).
func (f *FileSystem) Write(ctx context.Context, fd int, data []byte) (n int, err error) {
	const op = "write"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	d, node, err := f.ioDescriptor(op, fd, true)
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	now := f.platform.Now()
	node.mu.Lock()
	defer node.mu.Unlock()

	if d.flags.Has(types.Append) {
		d.offset = int64(len(node.data))
	}
	if !f.fits(d.offset, len(data)) {
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindFileTooLarge}
	}
	n = node.writeAtLocked(data, d.offset, now)

	d.offset += int64(n)
	f.recordBytes("write", n)
	return n, nil
}

// ReadAt reads at off without moving the cursor.
func (f *FileSystem) ReadAt(ctx context.Context, fd int, buf []byte, off int64) (n int, err error) {
	const op = "pread"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	if off < 0 {
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindInvalidArgument}
	}
	d, node, err := f.ioDescriptor(op, fd, false)
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	n = node.readAt(buf, off, f.platform.Now())
	f.recordBytes("read", n)
	return n, nil
}

// WriteAt writes at off without moving the cursor.
func (f *FileSystem) WriteAt(ctx context.Context, fd int, data []byte, off int64) (n int, err error) {
	const op = "pwrite"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	if off < 0 {
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindInvalidArgument}
	}
	d, node, err := f.ioDescriptor(op, fd, true)
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if !f.fits(off, len(data)) {
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindFileTooLarge}
	}

	n = node.writeAt(data, off, f.platform.Now())
	f.recordBytes("write", n)
	return n, nil
}

// Seek moves the cursor. Seeking past the end is allowed; a later write
// zero-fills the gap.
func (f *FileSystem) Seek(ctx context.Context, fd int, offset int64, whence int) (pos int64, err error) {
	const op = "seek"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	d, err := f.lookup(op, fd)
	if err != nil {
		return 0, err
	}
	node, err := f.acquire(op, d)
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if d.kind == types.KindDirectory {
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindIsADirectory}
	}

	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = d.offset + offset
	case io.SeekEnd:
		pos = node.size() + offset
	default:
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindInvalidArgument}
	}
	// Sums that overflow wrap negative.
	if pos < 0 || pos > f.maxSize {
		return 0, &types.DescriptorError{Op: op, FD: fd, Kind: types.KindInvalidArgument}
	}
	d.offset = pos
	return pos, nil
}

// Fstat describes the inode behind fd, even if it has been unlinked.
func (f *FileSystem) Fstat(ctx context.Context, fd int) (info types.FileInfo, err error) {
	const op = "fstat"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	f.mu.RLock()
	defer f.mu.RUnlock()

	d, err := f.lookup(op, fd)
	if err != nil {
		return types.FileInfo{}, err
	}
	node, err := f.acquire(op, d)
	if err != nil {
		return types.FileInfo{}, err
	}
	defer d.mu.Unlock()

	return node.info(f.store.nlink(node)), nil
}

// Ftruncate sets the size of the file behind fd, which must be open for
// writing.
func (f *FileSystem) Ftruncate(ctx context.Context, fd int, size int64) (err error) {
	const op = "ftruncate"
	defer func(start time.Time) { f.observe(op, start, err, fieldFD(fd)) }(time.Now())

	if size < 0 {
		return &types.DescriptorError{Op: op, FD: fd, Kind: types.KindInvalidArgument}
	}
	if size > f.maxSize {
		return &types.DescriptorError{Op: op, FD: fd, Kind: types.KindFileTooLarge}
	}
	d, node, err := f.ioDescriptor(op, fd, true)
	if err != nil {
		return err
	}
	defer d.mu.Unlock()

	node.truncate(size, f.platform.Now())
	return nil
}

// fits reports whether n bytes written at off stay within the size limit.
func (f *FileSystem) fits(off int64, n int) bool {
	return off >= 0 && off <= f.maxSize && int64(n) <= f.maxSize-off
}

func (f *FileSystem) recordBytes(direction string, n int) {
	if f.metrics != nil && n > 0 {
		f.metrics.RecordBytes(direction, n)
	}
}

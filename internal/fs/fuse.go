// Package fs exposes a memfs.FileSystem to the kernel through FUSE.
package fs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/ajaxzhan/sandbox-memfs/internal/memfs"
	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Errors for MemFS
var (
	ErrNilFileSystem     = errors.New("filesystem is required")
	ErrInvalidMountPoint = errors.New("invalid mount point")
)

// MemFSConfig holds the configuration for mounting a memfs.FileSystem.
type MemFSConfig struct {
	FileSystem   *memfs.FileSystem // The engine to expose
	MountPoint   string            // Where to mount the FUSE filesystem
	AllowOther   bool              // Let users other than the mounter access the mount
	Debug        bool              // Log every FUSE request
	EntryTimeout time.Duration     // Kernel name cache lifetime
	AttrTimeout  time.Duration     // Kernel attribute cache lifetime
	Logger       *zap.Logger
}

// MemFS is a FUSE mount of a memfs.FileSystem.
type MemFS struct {
	config  *MemFSConfig
	engine  *memfs.FileSystem
	log     *zap.Logger
	server  *fuse.Server
	mounted atomic.Bool
	mu      sync.Mutex
}

// NewMemFS creates a new MemFS instance.
func NewMemFS(config *MemFSConfig) (*MemFS, error) {
	if config.FileSystem == nil {
		return nil, ErrNilFileSystem
	}
	if config.MountPoint == "" {
		return nil, ErrInvalidMountPoint
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemFS{
		config: config,
		engine: config.FileSystem,
		log:    logger,
	}, nil
}

// Mount mounts the FUSE filesystem. It blocks until the context is cancelled.
func (m *MemFS) Mount(ctx context.Context) error {
	entryTimeout := m.config.EntryTimeout
	attrTimeout := m.config.AttrTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: m.config.AllowOther,
			FsName:     "memfs",
			Name:       "memfs",
			Debug:      m.config.Debug,
		},
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
	}

	server, err := fs.Mount(m.config.MountPoint, &node{mfs: m}, opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.server = server
	m.mounted.Store(true)
	m.mu.Unlock()
	m.log.Info("filesystem mounted",
		zap.String("mount_point", m.config.MountPoint),
		zap.String("fs_id", m.engine.ID()),
	)

	<-ctx.Done()

	if err := server.Unmount(); err != nil {
		return err
	}
	m.mounted.Store(false)
	m.log.Info("filesystem unmounted", zap.String("mount_point", m.config.MountPoint))

	return ctx.Err()
}

// IsMounted returns true if the filesystem is currently mounted.
func (m *MemFS) IsMounted() bool {
	return m.mounted.Load()
}

// callerContext attaches the identity of the process behind a FUSE request.
// Host root is treated as elevated.
func callerContext(ctx context.Context) context.Context {
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return ctx
	}
	return memfs.WithIdentity(ctx, types.Identity{
		UID:      caller.Uid,
		GID:      caller.Gid,
		Elevated: caller.Uid == 0,
	})
}

// openFlags keeps the kernel open flags memfs understands.
func openFlags(flags uint32) types.OFlags {
	const known = types.AccessModeMask | types.Create | types.Exclusive | types.Truncate | types.Append
	return types.OFlags(flags) & known
}

// stableMode returns the file type bits for kind.
func stableMode(kind types.FileKind) uint32 {
	if kind == types.KindDirectory {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

// fillAttr converts engine metadata to a FUSE attribute.
func fillAttr(info types.FileInfo, out *fuse.Attr) {
	out.Ino = info.Ino
	out.Size = uint64(info.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 4096
	out.Mode = stableMode(info.Kind) | uint32(info.Mode.Perm())
	out.Nlink = info.Nlink
	if out.Nlink == 0 && info.Kind == types.KindDirectory {
		out.Nlink = 1
	}
	out.Owner = fuse.Owner{Uid: info.UID, Gid: info.GID}
	out.SetTimes(&info.Atime, &info.Mtime, &info.Ctime)
}

// toErrno converts an engine error to a syscall.Errno.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}
	return types.Errno(err)
}

// node is a file or directory in the mounted tree.
type node struct {
	fs.Inode
	mfs *MemFS
}

var _ = (fs.NodeGetattrer)((*node)(nil))
var _ = (fs.NodeSetattrer)((*node)(nil))
var _ = (fs.NodeLookuper)((*node)(nil))
var _ = (fs.NodeReaddirer)((*node)(nil))
var _ = (fs.NodeMkdirer)((*node)(nil))
var _ = (fs.NodeCreater)((*node)(nil))
var _ = (fs.NodeOpener)((*node)(nil))
var _ = (fs.NodeUnlinker)((*node)(nil))
var _ = (fs.NodeRmdirer)((*node)(nil))

// path returns the engine path of the node.
func (n *node) path() string {
	return "/" + n.Path(nil)
}

// childPath returns the engine path of name inside the node.
func (n *node) childPath(name string) string {
	p := n.Path(nil)
	if p == "" {
		return "/" + name
	}
	return "/" + p + "/" + name
}

// newChild wraps a looked-up or created entry in an inode.
func (n *node) newChild(ctx context.Context, info types.FileInfo, out *fuse.EntryOut) *fs.Inode {
	fillAttr(info, &out.Attr)
	child := &node{mfs: n.mfs}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: stableMode(info.Kind), Ino: info.Ino})
}

// Getattr implements fs.NodeGetattrer.
func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*handle); ok {
		return h.Getattr(ctx, out)
	}

	info, err := n.mfs.engine.Stat(callerContext(ctx), n.path())
	if err != nil {
		return toErrno(err)
	}
	fillAttr(info, &out.Attr)
	return fs.OK
}

// Setattr implements fs.NodeSetattrer for chmod, chown and truncate.
func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	ctx = callerContext(ctx)
	engine := n.mfs.engine
	path := n.path()

	if mode, ok := in.GetMode(); ok {
		if err := engine.Chmod(ctx, path, types.Mode(mode)); err != nil {
			return toErrno(err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		info, err := engine.Stat(ctx, path)
		if err != nil {
			return toErrno(err)
		}
		if !uok {
			uid = info.UID
		}
		if !gok {
			gid = info.GID
		}
		if err := engine.Chown(ctx, path, uid, gid); err != nil {
			return toErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		if errno := n.truncate(ctx, fh, int64(size)); errno != fs.OK {
			return errno
		}
	}

	return n.Getattr(ctx, fh, out)
}

// truncate resizes through fh when the kernel supplies one, otherwise
// through a short-lived write descriptor.
func (n *node) truncate(ctx context.Context, fh fs.FileHandle, size int64) syscall.Errno {
	engine := n.mfs.engine
	if h, ok := fh.(*handle); ok {
		return toErrno(engine.Ftruncate(ctx, h.fd, size))
	}

	fd, err := engine.Open(ctx, n.path(), types.WriteOnly, 0)
	if err != nil {
		return toErrno(err)
	}
	err = engine.Ftruncate(ctx, fd, size)
	if cerr := engine.Close(ctx, fd); err == nil {
		err = cerr
	}
	return toErrno(err)
}

// Lookup implements fs.NodeLookuper.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	info, err := n.mfs.engine.Stat(callerContext(ctx), n.childPath(name))
	if err != nil {
		return nil, toErrno(err)
	}
	return n.newChild(ctx, info, out), fs.OK
}

// Readdir implements fs.NodeReaddirer.
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.mfs.engine.ReadDir(callerContext(ctx), n.path())
	if err != nil {
		return nil, toErrno(err)
	}

	result := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, fuse.DirEntry{
			Name: e.Name,
			Ino:  e.Ino,
			Mode: stableMode(e.Kind),
		})
	}
	return fs.NewListDirStream(result), fs.OK
}

// Mkdir implements fs.NodeMkdirer.
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	ctx = callerContext(ctx)
	path := n.childPath(name)

	if err := n.mfs.engine.Mkdir(ctx, path, types.Mode(mode).Perm()); err != nil {
		return nil, toErrno(err)
	}
	info, err := n.mfs.engine.Stat(ctx, path)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.newChild(ctx, info, out), fs.OK
}

// Create implements fs.NodeCreater.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (inode *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	ctx = callerContext(ctx)
	engine := n.mfs.engine

	fd, err := engine.Open(ctx, n.childPath(name), openFlags(flags)|types.Create, types.Mode(mode).Perm())
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	info, err := engine.Fstat(ctx, fd)
	if err != nil {
		_ = engine.Close(ctx, fd)
		return nil, nil, 0, toErrno(err)
	}

	return n.newChild(ctx, info, out), &handle{engine: engine, fd: fd}, 0, fs.OK
}

// Open implements fs.NodeOpener.
func (n *node) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	fd, err := n.mfs.engine.Open(callerContext(ctx), n.path(), openFlags(flags)&^(types.Create|types.Exclusive), 0)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &handle{engine: n.mfs.engine, fd: fd}, 0, fs.OK
}

// Unlink implements fs.NodeUnlinker.
func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.mfs.engine.Unlink(callerContext(ctx), n.childPath(name)))
}

// Rmdir implements fs.NodeRmdirer.
func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.mfs.engine.Rmdir(callerContext(ctx), n.childPath(name)))
}

// handle is an open engine descriptor.
type handle struct {
	engine *memfs.FileSystem
	fd     int
}

var _ = (fs.FileReader)((*handle)(nil))
var _ = (fs.FileWriter)((*handle)(nil))
var _ = (fs.FileReleaser)((*handle)(nil))
var _ = (fs.FileGetattrer)((*handle)(nil))

// Read implements fs.FileReader.
func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.engine.ReadAt(ctx, h.fd, dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

// Write implements fs.FileWriter.
func (h *handle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	n, err := h.engine.WriteAt(ctx, h.fd, data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(n), fs.OK
}

// Release implements fs.FileReleaser.
func (h *handle) Release(ctx context.Context) syscall.Errno {
	return toErrno(h.engine.Close(ctx, h.fd))
}

// Getattr implements fs.FileGetattrer.
func (h *handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	info, err := h.engine.Fstat(ctx, h.fd)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(info, &out.Attr)
	return fs.OK
}

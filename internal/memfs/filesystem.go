// Package memfs implements an in-memory, POSIX-flavoured filesystem engine
// with owner/group/other permission checks and scoped privilege elevation.
package memfs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajaxzhan/sandbox-memfs/internal/platform"
	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Errors for FileSystem construction
var (
	ErrNilPlatform = errors.New("platform is required")
)

// DefaultRootMode is the permission of the root directory when none is configured.
const DefaultRootMode types.Mode = 0o755

// DefaultMaxFileSize bounds the size of a single file when none is configured.
const DefaultMaxFileSize int64 = 1 << 30

// Recorder receives operation metrics. A nil Recorder disables metrics.
type Recorder interface {
	// RecordOperation records a completed operation and its outcome.
	RecordOperation(op string, duration time.Duration, err error)

	// RecordBytes records bytes moved by read ("read") or write ("write").
	RecordBytes(direction string, n int)

	// SetStats publishes the current engine counters.
	SetStats(stats types.Stats)
}

// Config holds the configuration for creating a FileSystem.
type Config struct {
	Platform  platform.Platform // Identity and clock source (required)
	RootMode  types.Mode        // Root directory permissions, DefaultRootMode if zero
	RootUID   uint32            // Root directory owner
	RootGID   uint32            // Root directory group
	Logger    *zap.Logger       // Defaults to a no-op logger
	Metrics   Recorder          // Optional
	Evaluator Evaluator         // Defaults to NewEvaluator()

	// MaxFileSize is the largest size a file may reach through writes or
	// truncation. DefaultMaxFileSize if zero.
	MaxFileSize int64
}

// FileSystem is the engine. It is safe for concurrent use.
type FileSystem struct {
	id        string
	platform  platform.Platform
	evaluator Evaluator
	log       *zap.Logger
	metrics   Recorder
	maxSize   int64

	// mu guards the namespace: directory entries and inode ownership/mode.
	mu    sync.RWMutex
	root  *inode
	store *inodeStore
	fds   *descriptorTable
}

// New creates an empty filesystem containing only the root directory.
func New(cfg *Config) (*FileSystem, error) {
	if cfg == nil || cfg.Platform == nil {
		return nil, ErrNilPlatform
	}

	rootMode := cfg.RootMode
	if rootMode == 0 {
		rootMode = DefaultRootMode
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = NewEvaluator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	id := uuid.NewString()
	f := &FileSystem{
		id:        id,
		platform:  cfg.Platform,
		evaluator: evaluator,
		log:       logger.With(zap.String("fs_id", id)),
		metrics:   cfg.Metrics,
		maxSize:   maxSize,
		store:     newInodeStore(),
		fds:       newDescriptorTable(),
	}
	f.root = f.store.alloc(types.KindDirectory, rootMode, cfg.RootUID, cfg.RootGID, 0, cfg.Platform.Now())

	f.log.Info("filesystem created",
		zap.String("platform", cfg.Platform.Name()),
		zap.String("root_mode", f.root.mode.String()),
	)
	f.publishStats()
	return f, nil
}

// ID returns the unique identifier of this filesystem instance.
func (f *FileSystem) ID() string {
	return f.id
}

// Stats returns a snapshot of the engine counters.
func (f *FileSystem) Stats() types.Stats {
	live, orphans := f.store.counts()
	return types.Stats{
		Inodes:      live,
		Orphans:     orphans,
		Descriptors: f.fds.len(),
	}
}

func (f *FileSystem) publishStats() {
	if f.metrics != nil {
		f.metrics.SetStats(f.Stats())
	}
}

// observe records the outcome of an operation.
func (f *FileSystem) observe(op string, start time.Time, err error, fields ...zap.Field) {
	if f.metrics != nil {
		f.metrics.RecordOperation(op, time.Since(start), err)
	}
	if err != nil {
		if kind, ok := types.KindOf(err); ok {
			fields = append(fields, zap.String("kind", kind.String()))
		}
		f.log.Debug("operation failed", append(fields, fieldOp(op), zap.Error(err))...)
		return
	}
	f.log.Debug("operation", append(fields, fieldOp(op))...)
}

// Mkdir creates a directory with the given permission bits.
func (f *FileSystem) Mkdir(ctx context.Context, path string, mode types.Mode) (err error) {
	const op = "mkdir"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return err
	}
	if wp.isRoot() || wp.lastIsDot() {
		return &types.PathError{Op: op, Path: path, Kind: types.KindAlreadyExists}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParent(op, wp, id)
	if err != nil {
		return err
	}
	_, err = f.createEntry(op, wp, parent, name, types.KindDirectory, mode, id)
	if err == nil {
		f.publishStats()
	}
	return err
}

// Rmdir removes an empty directory.
func (f *FileSystem) Rmdir(ctx context.Context, path string) (err error) {
	const op = "rmdir"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return err
	}
	if wp.isRoot() || wp.lastIsDot() {
		return &types.PathError{Op: op, Path: path, Kind: types.KindInvalidArgument}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParent(op, wp, id)
	if err != nil {
		return err
	}
	err = f.removeEntry(op, wp, parent, name, true, id)
	if err == nil {
		f.publishStats()
	}
	return err
}

// Unlink removes a regular file's directory entry. The file's contents stay
// reachable through descriptors that are still open.
func (f *FileSystem) Unlink(ctx context.Context, path string) (err error) {
	const op = "unlink"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return err
	}
	if wp.isRoot() || wp.lastIsDot() {
		return &types.PathError{Op: op, Path: path, Kind: types.KindIsADirectory}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParent(op, wp, id)
	if err != nil {
		return err
	}
	err = f.removeEntry(op, wp, parent, name, false, id)
	if err == nil {
		f.publishStats()
	}
	return err
}

// Stat describes the inode at path. Only traversal permission is needed.
func (f *FileSystem) Stat(ctx context.Context, path string) (info types.FileInfo, err error) {
	const op = "stat"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return types.FileInfo{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n, err := f.resolve(op, wp, id)
	if err != nil {
		return types.FileInfo{}, err
	}
	return n.info(f.store.nlink(n)), nil
}

// ReadDir lists a directory in name order. It requires read permission on
// the directory.
func (f *FileSystem) ReadDir(ctx context.Context, path string) (entries []types.DirEntry, err error) {
	const op = "readdir"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	dir, err := f.resolve(op, wp, id)
	if err != nil {
		return nil, err
	}
	if !dir.isDir() {
		return nil, &types.PathError{Op: op, Path: path, Kind: types.KindNotADirectory}
	}
	if err := f.check(op, path, dir, types.AccessRead, id); err != nil {
		return nil, err
	}

	entries = make([]types.DirEntry, 0, len(dir.entries))
	for name, ino := range dir.entries {
		child, ok := f.store.get(ino)
		if !ok {
			panic("memfs: dangling directory entry " + name)
		}
		entries = append(entries, types.DirEntry{Name: name, Ino: ino, Kind: child.kind})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Chmod changes the permission bits. Only the owner or an elevated caller
// may do so.
func (f *FileSystem) Chmod(ctx context.Context, path string, mode types.Mode) (err error) {
	const op = "chmod"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(op, wp, id)
	if err != nil {
		return err
	}
	if !id.Elevated && id.UID != n.uid {
		return &types.PathError{Op: op, Path: path, Kind: types.KindPermissionDenied}
	}
	n.mode = mode.Perm()
	n.touch(f.platform.Now(), false)
	return nil
}

// Chown changes the owner and group. It requires elevation.
func (f *FileSystem) Chown(ctx context.Context, path string, uid, gid uint32) (err error) {
	const op = "chown"
	defer func(start time.Time) { f.observe(op, start, err, fieldPath(path)) }(time.Now())

	id := f.identity(ctx)
	wp, err := parsePath(op, path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.resolve(op, wp, id)
	if err != nil {
		return err
	}
	if !id.Elevated {
		return &types.PathError{Op: op, Path: path, Kind: types.KindPermissionDenied}
	}
	n.uid = uid
	n.gid = gid
	n.touch(f.platform.Now(), false)
	return nil
}

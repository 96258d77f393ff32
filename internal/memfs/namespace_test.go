package memfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path     string
		segments []string
		dirOnly  bool
		wantErr  bool
	}{
		{"/", nil, false, false},
		{"/.", nil, false, false},
		{"//", nil, false, false},
		{"/a", []string{"a"}, false, false},
		{"/a/", []string{"a"}, true, false},
		{"/a//b/./c", []string{"a", "b", "c"}, false, false},
		{"/a/.", []string{"a"}, true, false},
		{"/a/..", []string{"a", ".."}, true, false},
		{"/" + strings.Repeat("n", MaxNameLen), []string{strings.Repeat("n", MaxNameLen)}, false, false},
		{"/" + strings.Repeat("n", MaxNameLen+1), nil, false, true},
		{"relative", nil, false, true},
		{"", nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			wp, err := parsePath("test", tt.path)
			if tt.wantErr {
				requireKind(t, err, types.KindInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.segments, wp.segments)
			assert.Equal(t, tt.dirOnly, wp.dirOnly)
		})
	}
}

func TestNamespace_DotDot(t *testing.T) {
	fs, _ := newTestFS(t)
	ctx := asUser(1000, 1000)

	require.NoError(t, fs.Mkdir(ctx, "/a", 0o755))
	require.NoError(t, fs.Mkdir(ctx, "/a/b", 0o755))
	writeFile(t, fs, ctx, "/top", []byte("top"), 0o644)

	assert.Equal(t, []byte("top"), readFile(t, fs, ctx, "/a/b/../../top"))
	assert.Equal(t, []byte("top"), readFile(t, fs, ctx, "/../../top"))

	info, err := fs.Stat(ctx, "/a/b/..")
	require.NoError(t, err)
	a, err := fs.Stat(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, a.Ino, info.Ino)

	root, err := fs.Stat(ctx, "/..")
	require.NoError(t, err)
	assert.Equal(t, rootIno, root.Ino)
}

func TestNamespace_ErrorKinds(t *testing.T) {
	fs, _ := newTestFS(t)
	ctx := asUser(1000, 1000)

	require.NoError(t, fs.Mkdir(ctx, "/dir", 0o755))
	writeFile(t, fs, ctx, "/file", []byte("x"), 0o644)

	tests := []struct {
		name string
		run  func() error
		kind types.ErrorKind
	}{
		{"open missing", func() error { _, err := fs.Open(ctx, "/nope", types.ReadOnly, 0); return err }, types.KindNotFound},
		{"open under missing dir", func() error { _, err := fs.Open(ctx, "/nope/f", types.Create|types.WriteOnly, 0o644); return err }, types.KindNotFound},
		{"open through file", func() error { _, err := fs.Open(ctx, "/file/x", types.ReadOnly, 0); return err }, types.KindNotADirectory},
		{"create through file", func() error { _, err := fs.Open(ctx, "/file/x", types.Create|types.WriteOnly, 0o644); return err }, types.KindNotADirectory},
		{"create with trailing slash", func() error { _, err := fs.Open(ctx, "/new/", types.Create|types.WriteOnly, 0o644); return err }, types.KindIsADirectory},
		{"stat file with trailing slash", func() error { _, err := fs.Stat(ctx, "/file/"); return err }, types.KindNotADirectory},
		{"open dir for writing", func() error { _, err := fs.Open(ctx, "/dir", types.WriteOnly, 0); return err }, types.KindIsADirectory},
		{"open dir with truncate", func() error { _, err := fs.Open(ctx, "/dir", types.ReadOnly|types.Truncate, 0); return err }, types.KindIsADirectory},
		{"create on existing dir", func() error { _, err := fs.Open(ctx, "/dir", types.Create|types.ReadOnly, 0o644); return err }, types.KindIsADirectory},
		{"exclusive on existing", func() error {
			_, err := fs.Open(ctx, "/file", types.Create|types.Exclusive|types.WriteOnly, 0o644)
			return err
		}, types.KindAlreadyExists},
		{"invalid access mode", func() error { _, err := fs.Open(ctx, "/file", types.AccessModeMask, 0); return err }, types.KindInvalidArgument},
		{"relative path", func() error { _, err := fs.Open(ctx, "file", types.ReadOnly, 0); return err }, types.KindInvalidArgument},
		{"mkdir existing dir", func() error { return fs.Mkdir(ctx, "/dir", 0o755) }, types.KindAlreadyExists},
		{"mkdir existing file", func() error { return fs.Mkdir(ctx, "/file", 0o755) }, types.KindAlreadyExists},
		{"mkdir root", func() error { return fs.Mkdir(ctx, "/", 0o755) }, types.KindAlreadyExists},
		{"mkdir dot", func() error { return fs.Mkdir(ctx, "/dir/.", 0o755) }, types.KindAlreadyExists},
		{"mkdir under file", func() error { return fs.Mkdir(ctx, "/file/sub", 0o755) }, types.KindNotADirectory},
		{"mkdir missing parent", func() error { return fs.Mkdir(ctx, "/a/b", 0o755) }, types.KindNotFound},
		{"rmdir root", func() error { return fs.Rmdir(ctx, "/") }, types.KindInvalidArgument},
		{"rmdir dotdot", func() error { return fs.Rmdir(ctx, "/dir/..") }, types.KindInvalidArgument},
		{"rmdir file", func() error { return fs.Rmdir(ctx, "/file") }, types.KindNotADirectory},
		{"rmdir missing", func() error { return fs.Rmdir(ctx, "/nope") }, types.KindNotFound},
		{"unlink dir", func() error { return fs.Unlink(ctx, "/dir") }, types.KindIsADirectory},
		{"unlink root", func() error { return fs.Unlink(ctx, "/") }, types.KindIsADirectory},
		{"unlink file with trailing slash", func() error { return fs.Unlink(ctx, "/file/") }, types.KindNotADirectory},
		{"unlink missing", func() error { return fs.Unlink(ctx, "/nope") }, types.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, tt.run(), tt.kind)
		})
	}

	// Nothing above changed the namespace.
	entries, err := fs.ReadDir(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dir", entries[0].Name)
	assert.Equal(t, "file", entries[1].Name)
}

func TestNamespace_TrailingSlashOnDirectory(t *testing.T) {
	fs, _ := newTestFS(t)
	ctx := asUser(1000, 1000)

	require.NoError(t, fs.Mkdir(ctx, "/d/", 0o755))
	info, err := fs.Stat(ctx, "/d/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	fd, err := fs.Open(ctx, "/d/", types.ReadOnly, 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close(ctx, fd))

	require.NoError(t, fs.Rmdir(ctx, "/d/"))
	_, err = fs.Stat(ctx, "/d")
	requireKind(t, err, types.KindNotFound)
}

func TestNamespace_RecreateGetsFreshInode(t *testing.T) {
	fs, _ := newTestFS(t)
	ctx := asUser(1000, 1000)

	writeFile(t, fs, ctx, "/f", []byte("old"), 0o644)
	before, err := fs.Stat(ctx, "/f")
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(ctx, "/f"))
	fd, err := fs.Open(ctx, "/f", types.Create|types.ReadWrite, 0o600)
	require.NoError(t, err)
	defer func() { require.NoError(t, fs.Close(ctx, fd)) }()

	after, err := fs.Fstat(ctx, fd)
	require.NoError(t, err)
	assert.NotEqual(t, before.Ino, after.Ino)
	assert.Equal(t, int64(0), after.Size)
	assert.Equal(t, types.Mode(0o600), after.Mode)
}

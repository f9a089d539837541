package badger

import (
	"os"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T) *Fs {
	t.Helper()
	fs, err := New(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFs_WriteReadRoundTrip(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, afero.WriteFile(fs, "/file.bin", []byte("hello"), 0o644))

	data, err := afero.ReadFile(fs, "/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	fi, err := fs.Stat("/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size())
	assert.False(t, fi.IsDir())
}

func TestFs_OpenMissingFile(t *testing.T) {
	fs := newTestFs(t)

	_, err := fs.Open("/missing.bin")
	assert.True(t, os.IsNotExist(err), "expected not-exist error, got: %v", err)

	_, err = fs.Stat("/missing.bin")
	assert.True(t, os.IsNotExist(err))
}

func TestFs_CreateRequiresParentDir(t *testing.T) {
	fs := newTestFs(t)

	_, err := fs.Create("/nodir/file.bin")
	assert.Error(t, err, "creating a file under a missing directory must fail")

	require.NoError(t, fs.Mkdir("/dir", 0o755))
	f, err := fs.Create("/dir/file.bin")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFs_MkdirAndReaddir(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, fs.MkdirAll("/a/b", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/a/top.bin", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/a/b/deep.bin", []byte("y"), 0o644))

	dir, err := fs.Open("/a")
	require.NoError(t, err)
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	require.NoError(t, err)
	sort.Strings(names)
	// Only direct children, nothing from /a/b below
	assert.Equal(t, []string{"b", "top.bin"}, names)
}

func TestFs_MkdirExisting(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, fs.Mkdir("/dir", 0o755))
	err := fs.Mkdir("/dir", 0o755)
	assert.Error(t, err)

	// MkdirAll tolerates existing segments
	assert.NoError(t, fs.MkdirAll("/dir/sub/deep", 0o755))
}

func TestFs_RemoveFileAndDir(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, fs.Mkdir("/dir", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/dir/file.bin", []byte("x"), 0o644))

	// Populated directories are protected
	assert.Error(t, fs.Remove("/dir"))

	require.NoError(t, fs.Remove("/dir/file.bin"))
	require.NoError(t, fs.Remove("/dir"))

	_, err := fs.Stat("/dir")
	assert.True(t, os.IsNotExist(err))
}

func TestFs_RemoveAll(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, fs.MkdirAll("/tree/sub", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/tree/a.bin", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/tree/sub/b.bin", []byte("b"), 0o644))

	require.NoError(t, fs.RemoveAll("/tree"))

	_, err := fs.Stat("/tree")
	assert.True(t, os.IsNotExist(err))
	_, err = fs.Stat("/tree/sub/b.bin")
	assert.True(t, os.IsNotExist(err))
}

func TestFs_RenameFile(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, afero.WriteFile(fs, "/old.bin", []byte("abc"), 0o644))
	require.NoError(t, fs.Rename("/old.bin", "/new.bin"))

	data, err := afero.ReadFile(fs, "/new.bin")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = fs.Stat("/old.bin")
	assert.True(t, os.IsNotExist(err))
}

func TestFs_RenameDirectoryMovesSubtree(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, fs.MkdirAll("/src/sub", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/src/sub/file.bin", []byte("deep"), 0o644))

	require.NoError(t, fs.Rename("/src", "/dst"))

	data, err := afero.ReadFile(fs, "/dst/sub/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))

	_, err = fs.Stat("/src")
	assert.True(t, os.IsNotExist(err))
}

func TestFs_RenameMissingSource(t *testing.T) {
	fs := newTestFs(t)
	assert.Error(t, fs.Rename("/missing", "/dst"))
}

func TestFs_AppendFlag(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, afero.WriteFile(fs, "/log.txt", []byte("one"), 0o644))

	f, err := fs.OpenFile("/log.txt", os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(fs, "/log.txt")
	require.NoError(t, err)
	assert.Equal(t, "onetwo", string(data))
}

func TestFs_TruncateFlag(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, afero.WriteFile(fs, "/f.bin", []byte("longcontent"), 0o644))

	f, err := fs.OpenFile("/f.bin", os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(fs, "/f.bin")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFs_SeekAndReadAt(t *testing.T) {
	fs := newTestFs(t)

	require.NoError(t, afero.WriteFile(fs, "/f.bin", []byte("0123456789"), 0o644))

	f, err := fs.Open("/f.bin")
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(4, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf[:n]))

	n, err = f.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, "789", string(buf[:n]))
}

func TestFs_PersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	fs, err := New(Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/keep.bin", []byte("persisted"), 0o644))
	require.NoError(t, fs.Close())

	fs, err = New(Options{Path: dir})
	require.NoError(t, err)
	defer fs.Close()

	data, err := afero.ReadFile(fs, "/keep.bin")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}

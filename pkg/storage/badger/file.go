package badger

import (
	"io"
	"os"
	"path"
	"sort"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
)

// file buffers the whole value in memory. Writes touch only the buffer;
// Sync and Close flush it back to the database in a single transaction.
type file struct {
	fs   *Fs
	path string
	flag int
	meta nodeMeta

	buf    []byte
	off    int64
	dirty  bool
	closed bool

	dirEntries []os.FileInfo
	dirPos     int
}

var _ afero.File = (*file)(nil)

func (f *file) Name() string { return f.path }

func (f *file) writable() bool {
	return f.flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func (f *file) Read(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if f.meta.IsDir {
		return 0, syscall.EISDIR
	}
	if f.off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.off:])
	f.off += int64(n)
	return n, nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if !f.writable() {
		return 0, syscall.EBADF
	}
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:], p)
	f.dirty = true
	return len(p), nil
}

func (f *file) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.off + offset
	case io.SeekEnd:
		next = int64(len(f.buf)) + offset
	default:
		return 0, syscall.EINVAL
	}
	if next < 0 {
		return 0, syscall.EINVAL
	}
	f.off = next
	return next, nil
}

func (f *file) Truncate(size int64) error {
	if f.closed {
		return os.ErrClosed
	}
	if !f.writable() {
		return syscall.EBADF
	}
	if size < int64(len(f.buf)) {
		f.buf = f.buf[:size]
	} else if size > int64(len(f.buf)) {
		grown := make([]byte, size)
		copy(grown, f.buf)
		f.buf = grown
	}
	f.dirty = true
	return nil
}

func (f *file) Stat() (os.FileInfo, error) {
	meta := f.meta
	meta.Size = int64(len(f.buf))
	if meta.IsDir {
		meta.Size = f.meta.Size
	}
	return &fileInfo{meta: &meta}, nil
}

func (f *file) Sync() error {
	if f.closed {
		return os.ErrClosed
	}
	if !f.dirty {
		return nil
	}
	err := f.fs.db.Update(func(txn *badger.Txn) error {
		f.meta.Size = int64(len(f.buf))
		f.meta.ModTime = time.Now()
		if err := writeMeta(txn, f.path, &f.meta); err != nil {
			return err
		}
		return txn.Set(dataKey(f.path), f.buf)
	})
	if err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func (f *file) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	err := f.Sync()
	f.closed = true
	return err
}

func (f *file) Readdir(count int) ([]os.FileInfo, error) {
	if !f.meta.IsDir {
		return nil, syscall.ENOTDIR
	}
	if f.dirEntries == nil {
		err := f.fs.db.View(func(txn *badger.Txn) error {
			children, err := listChildren(txn, f.path, 0)
			if err != nil {
				return err
			}
			sort.Slice(children, func(i, j int) bool {
				return children[i].Name < children[j].Name
			})
			f.dirEntries = make([]os.FileInfo, 0, len(children))
			for _, child := range children {
				f.dirEntries = append(f.dirEntries, &fileInfo{meta: child})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if f.dirPos >= len(f.dirEntries) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	entries := f.dirEntries[f.dirPos:]
	if count > 0 && count < len(entries) {
		entries = entries[:count]
	}
	f.dirPos += len(entries)
	return entries, nil
}

func (f *file) Readdirnames(n int) ([]string, error) {
	entries, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names, nil
}

// fileInfo adapts a metadata record to os.FileInfo.
type fileInfo struct {
	meta *nodeMeta
}

var _ os.FileInfo = (*fileInfo)(nil)

func (fi *fileInfo) Name() string {
	if fi.meta.Name == "/" {
		return "/"
	}
	return path.Base(fi.meta.Name)
}

func (fi *fileInfo) Size() int64        { return fi.meta.Size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.meta.Mode }
func (fi *fileInfo) ModTime() time.Time { return fi.meta.ModTime }
func (fi *fileInfo) IsDir() bool        { return fi.meta.IsDir }
func (fi *fileInfo) Sys() interface{}   { return nil }

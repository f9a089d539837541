package s3

import (
	"bytes"
	"io"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3api "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
)

// file buffers the whole object in memory. Writes touch only the buffer;
// Sync and Close upload it in a single PutObject.
type file struct {
	fs    *Fs
	path  string
	flag  int
	isDir bool
	mtime time.Time

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
	if f.isDir {
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
	if f.isDir {
		return dirInfo(path.Base(f.path), f.mtime), nil
	}
	return fileInfoFor(path.Base(f.path), int64(len(f.buf)), f.mtime), nil
}

func (f *file) Sync() error {
	if f.closed {
		return os.ErrClosed
	}
	if !f.dirty {
		return nil
	}
	_, err := f.fs.client.PutObject(f.fs.ctx, &s3api.PutObjectInput{
		Bucket: aws.String(f.fs.bucket),
		Key:    aws.String(f.fs.key(f.path)),
		Body:   bytes.NewReader(f.buf),
	})
	if err != nil {
		return err
	}
	f.dirty = false
	f.mtime = time.Now()
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
	if !f.isDir {
		return nil, syscall.ENOTDIR
	}
	if f.dirEntries == nil {
		entries, err := f.fs.listDir(f.path)
		if err != nil {
			return nil, err
		}
		f.dirEntries = entries
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

// fileInfo is the os.FileInfo for bucket entries.
type fileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
	isDir bool
}

var _ os.FileInfo = (*fileInfo)(nil)

func fileInfoFor(name string, size int64, mtime time.Time) *fileInfo {
	return &fileInfo{name: name, size: size, mode: 0o644, mtime: mtime}
}

func dirInfo(name string, mtime time.Time) *fileInfo {
	return &fileInfo{name: name, mode: os.ModeDir | 0o755, mtime: mtime, isDir: true}
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.mtime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() interface{}   { return nil }

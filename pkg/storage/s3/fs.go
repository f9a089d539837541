// Package s3 implements an afero.Fs backed by an S3 bucket. Files map to
// objects under a configurable key prefix and directories are zero-byte
// marker objects whose key ends in "/". It is used for mounts that expose
// bucket contents to clients, for example a backup volume.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
)

// Options configures an S3-backed filesystem.
type Options struct {
	// Client is the S3 client to use. Required.
	Client *s3.Client

	// Bucket is the bucket holding the mount's objects. Required.
	Bucket string

	// KeyPrefix scopes all keys under a common prefix. Optional.
	KeyPrefix string
}

// Fs is an afero.Fs whose files live in an S3 bucket.
//
// Reads buffer the whole object in memory and writes upload the buffer on
// Close, so the backend suits transfer-sized payloads rather than huge
// archives. Renaming directories is not supported; S3 has no atomic prefix
// rename.
type Fs struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	prefix string
}

var _ afero.Fs = (*Fs)(nil)

// New validates the options and returns the filesystem. The context is
// retained for the bucket calls afero's context-free interface cannot
// thread through.
func New(ctx context.Context, opts Options) (*Fs, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("s3 filesystem: client is required")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 filesystem: bucket is required")
	}
	prefix := strings.Trim(opts.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Fs{ctx: ctx, client: opts.Client, bucket: opts.Bucket, prefix: prefix}, nil
}

// Name implements afero.Fs.
func (fs *Fs) Name() string { return "s3fs" }

func cleanPath(name string) string {
	return path.Clean("/" + name)
}

// key maps a cleaned path to the object key (no trailing slash).
func (fs *Fs) key(p string) string {
	return fs.prefix + strings.TrimPrefix(p, "/")
}

func notFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &nf)
}

// Stat implements afero.Fs.
func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	p := cleanPath(name)
	if p == "/" {
		return dirInfo("/", time.Now()), nil
	}

	head, err := fs.client.HeadObject(fs.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.key(p)),
	})
	if err == nil {
		mtime := time.Now()
		if head.LastModified != nil {
			mtime = *head.LastModified
		}
		return fileInfoFor(path.Base(p), aws.ToInt64(head.ContentLength), mtime), nil
	}
	if !notFound(err) {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}

	isDir, err := fs.dirExists(p)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	if isDir {
		return dirInfo(path.Base(p), time.Now()), nil
	}
	return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
}

// dirExists reports whether p is a directory, either via its marker object
// or implicitly through objects nested below it.
func (fs *Fs) dirExists(p string) (bool, error) {
	if p == "/" {
		return true, nil
	}
	out, err := fs.client.ListObjectsV2(fs.ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(fs.bucket),
		Prefix:  aws.String(fs.key(p) + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// Open implements afero.Fs.
func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// Create implements afero.Fs.
func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// OpenFile implements afero.Fs.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	p := cleanPath(name)
	f := &file{fs: fs, path: p, flag: flag, mtime: time.Now()}

	if p == "/" {
		f.isDir = true
		return f, nil
	}

	out, err := fs.client.GetObject(fs.ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.key(p)),
	})
	if err == nil {
		defer out.Body.Close()
		if flag&os.O_TRUNC == 0 {
			f.buf, err = io.ReadAll(out.Body)
			if err != nil {
				return nil, &os.PathError{Op: "open", Path: name, Err: err}
			}
		}
		if out.LastModified != nil {
			f.mtime = *out.LastModified
		}
		if flag&os.O_APPEND != 0 {
			f.off = int64(len(f.buf))
		}
		if flag&os.O_TRUNC != 0 {
			f.dirty = true
		}
		return f, nil
	}
	if !notFound(err) {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	isDir, derr := fs.dirExists(p)
	if derr != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: derr}
	}
	if isDir {
		f.isDir = true
		return f, nil
	}

	if flag&os.O_CREATE == 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	f.dirty = true
	return f, nil
}

// Mkdir implements afero.Fs. Directories are zero-byte marker objects.
// Creating a path that already exists, as a directory or as a file, fails
// with os.ErrExist like the other backends do.
func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	p := cleanPath(name)
	if p == "/" {
		return nil
	}

	isDir, derr := fs.dirExists(p)
	if derr != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: derr}
	}
	if isDir {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}
	_, herr := fs.client.HeadObject(fs.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.key(p)),
	})
	if herr == nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}
	if !notFound(herr) {
		return &os.PathError{Op: "mkdir", Path: name, Err: herr}
	}

	_, err := fs.client.PutObject(fs.ctx, &s3.PutObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.key(p) + "/"),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return nil
}

// MkdirAll implements afero.Fs.
func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	p := cleanPath(name)
	if p == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	cur := ""
	for _, seg := range segments {
		cur += "/" + seg
		if err := fs.Mkdir(cur, perm); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// Remove implements afero.Fs. Removing a non-empty directory fails.
func (fs *Fs) Remove(name string) error {
	p := cleanPath(name)
	if p == "/" {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.EBUSY}
	}

	_, err := fs.client.HeadObject(fs.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(fs.key(p)),
	})
	if err == nil {
		return fs.deleteKey(name, fs.key(p))
	}
	if !notFound(err) {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}

	isDir, derr := fs.dirExists(p)
	if derr != nil {
		return &os.PathError{Op: "remove", Path: name, Err: derr}
	}
	if !isDir {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}

	entries, derr := fs.listDir(p)
	if derr != nil {
		return &os.PathError{Op: "remove", Path: name, Err: derr}
	}
	if len(entries) > 0 {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.ENOTEMPTY}
	}
	return fs.deleteKey(name, fs.key(p)+"/")
}

func (fs *Fs) deleteKey(name, key string) error {
	_, err := fs.client.DeleteObject(fs.ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

// RemoveAll implements afero.Fs.
func (fs *Fs) RemoveAll(name string) error {
	p := cleanPath(name)
	prefix := fs.key(p)
	if p != "/" {
		// Delete the file object, the marker, and everything below
		if err := fs.deleteKey(name, prefix); err != nil {
			return err
		}
		prefix += "/"
	}

	var token *string
	for {
		out, err := fs.client.ListObjectsV2(fs.ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(fs.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return &os.PathError{Op: "removeall", Path: name, Err: err}
		}
		for _, obj := range out.Contents {
			if err := fs.deleteKey(name, aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// Rename implements afero.Fs. Only files can be renamed; S3 has no atomic
// prefix rename, so moving a directory returns an error.
func (fs *Fs) Rename(oldname, newname string) error {
	oldPath := cleanPath(oldname)
	newPath := cleanPath(newname)
	if oldPath == "/" || newPath == "/" {
		return &os.PathError{Op: "rename", Path: oldname, Err: syscall.EBUSY}
	}

	isDir, err := fs.dirExists(oldPath)
	if err != nil {
		return &os.PathError{Op: "rename", Path: oldname, Err: err}
	}
	if isDir {
		return &os.PathError{Op: "rename", Path: oldname, Err: syscall.ENOTSUP}
	}

	_, err = fs.client.CopyObject(fs.ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(fs.bucket),
		CopySource: aws.String(fs.bucket + "/" + fs.key(oldPath)),
		Key:        aws.String(fs.key(newPath)),
	})
	if err != nil {
		if notFound(err) {
			return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
		}
		return &os.PathError{Op: "rename", Path: oldname, Err: err}
	}
	return fs.deleteKey(oldname, fs.key(oldPath))
}

// Chmod implements afero.Fs. Object stores have no permission bits.
func (fs *Fs) Chmod(name string, mode os.FileMode) error { return nil }

// Chown implements afero.Fs. Ownership is not tracked.
func (fs *Fs) Chown(name string, uid, gid int) error { return nil }

// Chtimes implements afero.Fs. Object timestamps are managed by the bucket.
func (fs *Fs) Chtimes(name string, atime, mtime time.Time) error { return nil }

// listDir returns the direct children of dir using a delimited listing.
func (fs *Fs) listDir(dir string) ([]os.FileInfo, error) {
	prefix := fs.key(dir)
	if dir != "/" {
		prefix += "/"
	}

	var entries []os.FileInfo
	var token *string
	for {
		out, err := fs.client.ListObjectsV2(fs.ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(fs.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				// The directory's own marker
				continue
			}
			mtime := time.Now()
			if obj.LastModified != nil {
				mtime = *obj.LastModified
			}
			entries = append(entries, fileInfoFor(path.Base(key), aws.ToInt64(obj.Size), mtime))
		}
		for _, cp := range out.CommonPrefixes {
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			entries = append(entries, dirInfo(name, time.Now()))
		}
		if !aws.ToBool(out.IsTruncated) {
			return entries, nil
		}
		token = out.NextContinuationToken
	}
}

// Package badger implements an afero.Fs backed by BadgerDB. It is used for
// mounts that must survive restarts without depending on the host
// filesystem layout, for example a writable expansion volume stored in a
// single database directory.
package badger

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
)

// Options configures a Badger-backed filesystem.
type Options struct {
	// Path is the directory holding the Badger database files.
	// Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in RAM. Useful for tests and
	// scratch mounts.
	InMemory bool
}

// Fs is an afero.Fs whose files and directories live in a BadgerDB
// database. All methods are safe for concurrent use; Badger transactions
// provide the isolation.
type Fs struct {
	db *badger.DB
}

var _ afero.Fs = (*Fs)(nil)

// nodeMeta is the JSON metadata record stored under the "m:" prefix.
type nodeMeta struct {
	Name    string      `json:"name"`
	Size    int64       `json:"size"`
	Mode    os.FileMode `json:"mode"`
	ModTime time.Time   `json:"mtime"`
	IsDir   bool        `json:"dir"`
}

// New opens (or creates) a Badger database and returns a filesystem rooted
// at "/". The root directory is created on first use.
func New(opts Options) (*Fs, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}

	fs := &Fs{db: db}
	if err := fs.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return fs, nil
}

// Close releases the underlying database.
func (fs *Fs) Close() error {
	return fs.db.Close()
}

func (fs *Fs) ensureRoot() error {
	return fs.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey("/"))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return writeMeta(txn, "/", &nodeMeta{
			Name:    "/",
			Mode:    os.ModeDir | 0o755,
			ModTime: time.Now(),
			IsDir:   true,
		})
	})
}

func cleanPath(name string) string {
	p := path.Clean("/" + name)
	return p
}

func writeMeta(txn *badger.Txn, p string, meta *nodeMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return txn.Set(metaKey(p), raw)
}

func readMeta(txn *badger.Txn, p string) (*nodeMeta, error) {
	item, err := txn.Get(metaKey(p))
	if err != nil {
		return nil, err
	}
	var meta nodeMeta
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	}); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Name implements afero.Fs.
func (fs *Fs) Name() string { return "badgerfs" }

// Stat implements afero.Fs.
func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	p := cleanPath(name)
	var meta *nodeMeta
	err := fs.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = readMeta(txn, p)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	if err != nil {
		return nil, err
	}
	return &fileInfo{meta: meta}, nil
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
	f := &file{fs: fs, path: p, flag: flag}

	err := fs.db.Update(func(txn *badger.Txn) error {
		meta, err := readMeta(txn, p)
		switch {
		case err == badger.ErrKeyNotFound:
			if flag&os.O_CREATE == 0 {
				return os.ErrNotExist
			}
			if err := requireParentDir(txn, p); err != nil {
				return err
			}
			meta = &nodeMeta{
				Name:    path.Base(p),
				Mode:    perm,
				ModTime: time.Now(),
			}
			if err := writeMeta(txn, p, meta); err != nil {
				return err
			}
			f.meta = *meta
			f.dirty = true
			return nil
		case err != nil:
			return err
		}

		f.meta = *meta
		if meta.IsDir {
			if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
				return syscall.EISDIR
			}
			return nil
		}
		if flag&os.O_TRUNC != 0 {
			f.meta.Size = 0
			f.dirty = true
			return nil
		}
		item, err := txn.Get(dataKey(p))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		f.buf, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err == os.ErrNotExist || err == badger.ErrKeyNotFound {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	if flag&os.O_APPEND != 0 {
		f.off = int64(len(f.buf))
	}
	return f, nil
}

// requireParentDir fails unless the parent of p exists and is a directory.
func requireParentDir(txn *badger.Txn, p string) error {
	parent := path.Dir(p)
	meta, err := readMeta(txn, parent)
	if err == badger.ErrKeyNotFound {
		return os.ErrNotExist
	}
	if err != nil {
		return err
	}
	if !meta.IsDir {
		return syscall.ENOTDIR
	}
	return nil
}

// Mkdir implements afero.Fs.
func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	p := cleanPath(name)
	err := fs.db.Update(func(txn *badger.Txn) error {
		if _, err := readMeta(txn, p); err == nil {
			return os.ErrExist
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := requireParentDir(txn, p); err != nil {
			return err
		}
		return writeMeta(txn, p, &nodeMeta{
			Name:    path.Base(p),
			Mode:    os.ModeDir | perm,
			ModTime: time.Now(),
			IsDir:   true,
		})
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
	err := fs.db.Update(func(txn *badger.Txn) error {
		meta, err := readMeta(txn, p)
		if err == badger.ErrKeyNotFound {
			return os.ErrNotExist
		}
		if err != nil {
			return err
		}
		if meta.IsDir {
			empty, err := dirIsEmpty(txn, p)
			if err != nil {
				return err
			}
			if !empty {
				return syscall.ENOTEMPTY
			}
		}
		if err := txn.Delete(metaKey(p)); err != nil {
			return err
		}
		return txn.Delete(dataKey(p))
	})
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

// RemoveAll implements afero.Fs.
func (fs *Fs) RemoveAll(name string) error {
	p := cleanPath(name)
	keys, err := fs.collectSubtreeKeys(p)
	if err != nil {
		return err
	}
	return fs.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if p != "/" {
			if err := txn.Delete(metaKey(p)); err != nil {
				return err
			}
			return txn.Delete(dataKey(p))
		}
		return nil
	})
}

// collectSubtreeKeys returns every metadata and data key strictly below p.
func (fs *Fs) collectSubtreeKeys(p string) ([][]byte, error) {
	childPrefix := p
	if childPrefix != "/" {
		childPrefix += "/"
	}
	var keys [][]byte
	err := fs.db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{metaPrefix, dataPrefix} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix + childPrefix)
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	return keys, err
}

// Rename implements afero.Fs. Directories move with their whole subtree.
func (fs *Fs) Rename(oldname, newname string) error {
	oldPath := cleanPath(oldname)
	newPath := cleanPath(newname)
	if oldPath == "/" || newPath == "/" {
		return &os.PathError{Op: "rename", Path: oldname, Err: syscall.EBUSY}
	}

	subtree, err := fs.collectSubtreeKeys(oldPath)
	if err != nil {
		return err
	}

	err = fs.db.Update(func(txn *badger.Txn) error {
		meta, err := readMeta(txn, oldPath)
		if err == badger.ErrKeyNotFound {
			return os.ErrNotExist
		}
		if err != nil {
			return err
		}
		if err := requireParentDir(txn, newPath); err != nil {
			return err
		}

		move := func(key []byte) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			prefix := string(key[:len(metaPrefix)])
			rest := string(key[len(metaPrefix):])
			newKey := prefix + newPath + strings.TrimPrefix(rest, oldPath)
			if err := txn.Set([]byte(newKey), val); err != nil {
				return err
			}
			return txn.Delete(key)
		}

		meta.Name = path.Base(newPath)
		meta.ModTime = time.Now()
		if err := writeMeta(txn, newPath, meta); err != nil {
			return err
		}
		if err := txn.Delete(metaKey(oldPath)); err != nil {
			return err
		}
		if !meta.IsDir {
			item, err := txn.Get(dataKey(oldPath))
			if err == nil {
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := txn.Set(dataKey(newPath), val); err != nil {
					return err
				}
				if err := txn.Delete(dataKey(oldPath)); err != nil {
					return err
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}
		for _, key := range subtree {
			if err := move(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &os.PathError{Op: "rename", Path: oldname, Err: err}
	}
	return nil
}

// Chmod implements afero.Fs.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return fs.updateMeta(name, func(meta *nodeMeta) {
		meta.Mode = (meta.Mode &^ os.ModePerm) | (mode & os.ModePerm)
	})
}

// Chown implements afero.Fs. Ownership is not tracked.
func (fs *Fs) Chown(name string, uid, gid int) error { return nil }

// Chtimes implements afero.Fs.
func (fs *Fs) Chtimes(name string, atime, mtime time.Time) error {
	return fs.updateMeta(name, func(meta *nodeMeta) {
		meta.ModTime = mtime
	})
}

func (fs *Fs) updateMeta(name string, fn func(*nodeMeta)) error {
	p := cleanPath(name)
	err := fs.db.Update(func(txn *badger.Txn) error {
		meta, err := readMeta(txn, p)
		if err == badger.ErrKeyNotFound {
			return os.ErrNotExist
		}
		if err != nil {
			return err
		}
		fn(meta)
		return writeMeta(txn, p, meta)
	})
	if err != nil {
		return &os.PathError{Op: "chtimes", Path: name, Err: err}
	}
	return nil
}

// dirIsEmpty reports whether the directory at p has any direct children.
func dirIsEmpty(txn *badger.Txn, p string) (bool, error) {
	children, err := listChildren(txn, p, 1)
	if err != nil {
		return false, err
	}
	return len(children) == 0, nil
}

// listChildren returns the metadata of the direct children of dir, up to
// limit entries (limit <= 0 means all).
func listChildren(txn *badger.Txn, dir string, limit int) ([]*nodeMeta, error) {
	childPrefix := dir
	if childPrefix != "/" {
		childPrefix += "/"
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(metaPrefix + childPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var children []*nodeMeta
	for it.Rewind(); it.Valid(); it.Next() {
		rest := string(it.Item().Key()[len(metaPrefix)+len(childPrefix):])
		if rest == "" || strings.IndexByte(rest, '/') >= 0 {
			continue
		}
		var meta nodeMeta
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return nil, err
		}
		children = append(children, &meta)
		if limit > 0 && len(children) >= limit {
			break
		}
	}
	return children, nil
}

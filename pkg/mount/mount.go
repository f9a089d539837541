// Package mount implements the table of named storage roots exposed as the
// top level of the FTP namespace.
//
// A mount maps a device-style name such as "ux0:" to a backing filesystem.
// Native paths have the form "ux0:/foo/bar"; the FTP-visible form is the
// same path with a leading slash ("/ux0:/foo/bar"). The table keeps slot
// order stable across add/remove so root listings stay deterministic.
package mount

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Entry is a single mount point.
type Entry struct {
	// Name is the mount name including the trailing colon, e.g. "ux0:".
	Name string

	// Fs is the backing filesystem for this mount.
	Fs afero.Fs

	valid bool
}

// Table is the registry of mounts. Reads during directory listings take the
// read lock; Add/Remove take the write lock. Mutation is expected to be rare.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTable creates an empty mount table.
func NewTable() *Table {
	return &Table{}
}

// Normalize returns the canonical mount name: trimmed, with a trailing colon.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name != "" && !strings.HasSuffix(name, ":") {
		name += ":"
	}
	return name
}

// Add registers a mount backed by fs. The first invalidated slot is reused
// so slot order stays stable. Adding an already present name is an error.
func (t *Table) Add(name string, fs afero.Fs) error {
	name = Normalize(name)
	if name == ":" || name == "" {
		return fmt.Errorf("mount: empty name")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("mount: name %q must not contain '/'", name)
	}
	if fs == nil {
		return fmt.Errorf("mount: nil filesystem for %q", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].Name == name {
			return fmt.Errorf("mount: %q already mounted", name)
		}
	}
	for i := range t.entries {
		if !t.entries[i].valid {
			t.entries[i] = Entry{Name: name, Fs: fs, valid: true}
			return nil
		}
	}
	t.entries = append(t.entries, Entry{Name: name, Fs: fs, valid: true})
	return nil
}

// Remove invalidates the named mount in place. The slot is kept so later
// additions reuse it and listing order stays stable.
func (t *Table) Remove(name string) error {
	name = Normalize(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].Name == name {
			t.entries[i].valid = false
			t.entries[i].Fs = nil
			return nil
		}
	}
	return fmt.Errorf("mount: %q not mounted", name)
}

// Lookup returns the filesystem backing the named mount.
func (t *Table) Lookup(name string) (afero.Fs, bool) {
	name = Normalize(name)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].Name == name {
			return t.entries[i].Fs, true
		}
	}
	return nil, false
}

// Resolve splits a native path of the form "ux0:/foo/bar" into the backing
// filesystem and the path inside the mount ("/foo/bar"). A bare mount name
// ("ux0:" or "ux0:/") resolves to "/".
func (t *Table) Resolve(nativePath string) (afero.Fs, string, error) {
	idx := strings.Index(nativePath, ":")
	if idx < 0 {
		return nil, "", fmt.Errorf("mount: path %q has no mount component", nativePath)
	}

	name := nativePath[:idx+1]
	fs, ok := t.Lookup(name)
	if !ok {
		return nil, "", fmt.Errorf("mount: %q not mounted", name)
	}

	// Paths built by joining a mount root with a relative name carry a
	// doubled slash ("ux0://file"); Clean collapses it.
	rest := path.Clean("/" + nativePath[idx+1:])
	return fs, rest, nil
}

// Names returns the valid mount names in slot order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for i := range t.entries {
		if t.entries[i].valid {
			names = append(names, t.entries[i].Name)
		}
	}
	return names
}

// Snapshot returns a copy of the valid entries in slot order. Listings
// iterate the snapshot so concurrent add/remove never tears a listing.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries))
	for i := range t.entries {
		if t.entries[i].valid {
			out = append(out, t.entries[i])
		}
	}
	return out
}

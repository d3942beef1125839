// Package vfs maps virtual resource paths such as "/scenes/bloom.json" onto
// directories below a resource root.
package vfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StandardMounts are the resource directories a renderer expects below its root.
var StandardMounts = []string{"models", "textures", "shaders", "fonts", "scenes"}

// FS is a set of named mount points. It is safe for concurrent use.
type FS struct {
	mu     sync.RWMutex
	mounts map[string]string
}

// New returns an empty FS.
func New() *FS {
	return &FS{mounts: make(map[string]string)}
}

// MountRoot mounts every standard directory under root. The root itself must
// exist; missing subdirectories are tolerated so a renderer can start with a
// partial resource tree.
func MountRoot(root string) (*FS, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("resource root %q: %w", root, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("resource root %q is not a directory", root)
	}

	fs := New()
	for _, name := range StandardMounts {
		fs.Mount(name, filepath.Join(root, name), false)
	}
	return fs, nil
}

// Mount binds name to a physical directory. An existing mount is replaced only
// when override is set.
func (f *FS) Mount(name, dir string, override bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounts[name]; ok && !override {
		return
	}
	f.mounts[name] = filepath.Clean(dir)
}

// Mounts returns the mount names in sorted order.
func (f *FS) Mounts() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.mounts))
	for name := range f.mounts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dir returns the physical directory of a mount.
func (f *FS) Dir(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	dir, ok := f.mounts[name]
	return dir, ok
}

// Resolve maps a virtual path ("/mount/rest") to a physical path inside the
// mount directory. Relative paths and ".." segments are rejected.
func (f *FS) Resolve(virtual string) (string, error) {
	if !IsVirtual(virtual) {
		return "", fmt.Errorf("virtual path %q must start with / and may not contain ..", virtual)
	}

	clean := path.Clean(virtual)
	parts := strings.SplitN(strings.TrimPrefix(clean, "/"), "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("virtual path %q names no file", virtual)
	}

	dir, ok := f.Dir(parts[0])
	if !ok {
		return "", fmt.Errorf("virtual path %q: no mount named %q", virtual, parts[0])
	}

	physical := filepath.Join(dir, filepath.FromSlash(parts[1]))
	rel, err := filepath.Rel(dir, physical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("virtual path %q escapes mount %q", virtual, parts[0])
	}
	return physical, nil
}

// Exists reports whether a virtual path resolves to a regular file.
func (f *FS) Exists(virtual string) bool {
	p, err := f.Resolve(virtual)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// IsVirtual reports whether p is an absolute virtual path without ".."
// segments, e.g. "/models/cat.obj".
func IsVirtual(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

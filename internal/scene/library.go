package scene

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
	"pyro/internal/vfs"
)

// ScenesMount is the vfs mount scene files are read from.
const ScenesMount = "scenes"

// Library loads scene files by name from the scenes mount. Once Watch is
// running, file contents are cached and evicted when the file changes on disk.
type Library struct {
	fs  *vfs.FS
	log *logger.Logger

	mu       sync.RWMutex
	cache    map[string][]byte
	watching bool
	watchDir string
}

func NewLibrary(fs *vfs.FS, log *logger.Logger) *Library {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Library{
		fs:    fs,
		log:   log.WithComponent("scene.library"),
		cache: make(map[string][]byte),
	}
}

// Load returns the raw bytes of the scene file name, e.g. "bloom.json".
func (l *Library) Load(name string) ([]byte, error) {
	const op = "scene.Load"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.ValidationField("fp", "scene file name is required")
	}

	// names are relative to the scenes mount and may not leave it
	virtual := "/" + ScenesMount + "/" + name
	if strings.HasPrefix(name, "/") || !vfs.IsVirtual(virtual) {
		return nil, errors.ValidationField("fp", "scene file name must stay inside the scenes directory").
			WithField("fp", name)
	}

	physical, err := l.fs.Resolve(virtual)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, op, "invalid scene file name").
			WithField("fp", name)
	}

	l.mu.RLock()
	data, ok := l.cache[physical]
	l.mu.RUnlock()
	if ok {
		return data, nil
	}

	data, err = os.ReadFile(physical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeSceneNotFound, "scene file not found").
				WithField("fp", name)
		}
		return nil, errors.Wrap(err, op, "read scene file")
	}

	l.mu.Lock()
	if l.watching && filepath.Dir(physical) == l.watchDir {
		l.cache[physical] = data
	}
	l.mu.Unlock()

	return data, nil
}

// Watch starts watching the scenes directory and blocks until ctx is done.
// Only files directly inside the directory are cached.
func (l *Library) Watch(ctx context.Context) error {
	dir, ok := l.fs.Dir(ScenesMount)
	if !ok {
		return errors.Unavailable("scenes mount")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "scene.Watch", "create watcher")
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return errors.Wrap(err, "scene.Watch", "watch scenes directory").WithField("dir", dir)
	}

	l.mu.Lock()
	l.watching = true
	l.watchDir = dir
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.watching = false
		l.cache = make(map[string][]byte)
		l.mu.Unlock()
	}()

	l.log.Info("hot reload enabled", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				l.evict(filepath.Clean(ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("watcher error", "error", err)
		}
	}
}

func (l *Library) evict(physical string) {
	l.mu.Lock()
	_, ok := l.cache[physical]
	delete(l.cache, physical)
	l.mu.Unlock()
	if ok {
		l.log.Debug("scene file changed", "path", physical)
	}
}

package kvcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	fileSuffix     = ".cache"
	tempPrefix     = ".tmp-"
	privateDirPerm = 0o700
	privateFile    = 0o600
)

// FileCache stores one file per key in a directory. Several processes may
// share the directory; Watch reports their writes.
type FileCache struct {
	dir string
}

// NewFileCache creates dir if needed and returns a cache rooted there.
func NewFileCache(dir string) (*FileCache, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, fmt.Errorf("cache dir is required")
	}
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Dir returns the backing directory.
func (c *FileCache) Dir() string { return c.dir }

func (c *FileCache) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(c.dir, url.PathEscape(key)+fileSuffix), nil
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

// Get returns the value for key. Unreadable entries read as absent.
func (c *FileCache) Get(key string) (string, bool) {
	p, err := c.path(key)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("key", key).Msg("Failed to read cache entry")
		}
		return "", false
	}
	return string(data), true
}

// Set writes value atomically via a temp file and rename.
func (c *FileCache) Set(key, value string) error {
	p, err := c.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Chmod(privateFile); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *FileCache) Delete(key string) error {
	p, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Watch reports writes to the cache directory until ctx is done. It returns
// once the watch is established.
func (c *FileCache) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cache watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch cache dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				key, ok := keyFromPath(event.Name)
				if !ok {
					continue
				}
				switch {
				case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
					value, found := c.Get(key)
					if !found {
						continue
					}
					fn(Change{Key: key, Value: value})
				case event.Op&fsnotify.Remove != 0:
					fn(Change{Key: key, Deleted: true})
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Str("dir", c.dir).Msg("Cache watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var errInvalidID = errors.New("invalid document id")

// keyedMutex hands out one mutex per key so writers of different documents
// never wait on each other. Unused keys are released.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is held and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()

	lock, ok := k.locks[key]
	if !ok {
		lock = &refLock{}
		k.locks[key] = lock
	}

	lock.refs++
	k.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		k.mu.Lock()
		lock.refs--

		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// collection is a directory of JSON documents named <id>.json.
type collection struct {
	dir string

	// beforeWrite, when set, runs before every write and aborts it on error.
	beforeWrite func(id string) error
}

func (c collection) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", errInvalidID, id)
	}

	return filepath.Join(c.dir, id+".json"), nil
}

// read decodes the document into v. It reports false when the document does not exist.
func (c collection) read(id string, v any) (bool, error) {
	path, err := c.path(id)
	if err != nil {
		return false, nil //nolint:nilerr // an id that cannot name a file names no document
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return true, nil
}

// write replaces the document atomically so concurrent readers never see a partial file.
func (c collection) write(id string, v any) error {
	path, err := c.path(id)
	if err != nil {
		return err
	}

	if c.beforeWrite != nil {
		if err := c.beforeWrite(id); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", id, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to rename %s: %w", id, err)
	}

	return nil
}

// remove deletes the document. It reports false when the document did not exist.
func (c collection) remove(id string) (bool, error) {
	path, err := c.path(id)
	if err != nil {
		return false, nil //nolint:nilerr // an id that cannot name a file names no document
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return true, nil
}

// ids lists the document ids in the collection.
func (c collection) ids() ([]string, error) {
	files, err := fs.Glob(os.DirFS(c.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

// all decodes every document, skipping documents removed mid-scan.
func all[T any](c collection) ([]*T, error) {
	ids, err := c.ids()
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0, len(ids))

	for _, id := range ids {
		item := new(T)

		found, err := c.read(id, item)
		if err != nil {
			return nil, err
		}

		if found {
			items = append(items, item)
		}
	}

	return items, nil
}

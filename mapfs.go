package s3fs

import (
	"context"
	"fmt"
	"strings"
)

// Map is a key-value view onto all objects below one root prefix: map
// keys are paths relative to the root, values are object contents. It is
// the storage-backend shape consumed by chunked-array libraries.
type Map struct {
	fs   *FileSystem
	root string
}

// NewMap returns a Map rooted at root ("bucket" or "bucket/prefix").
// With create, the bucket is created if missing; with check, the root
// must already exist.
func (fs *FileSystem) NewMap(ctx context.Context, root string, check, create bool) (*Map, error) {
	root = normPath(root)
	if root == "" {
		return nil, fmt.Errorf("%w: map root must include a bucket", ErrInvalidArgument)
	}
	if create {
		bucket, _ := SplitPath(root)
		ok, err := fs.Exists(ctx, bucket)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := fs.Mkdir(ctx, bucket, ""); err != nil {
				return nil, err
			}
		}
	} else if check {
		ok, err := fs.Exists(ctx, root)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: map root %s does not exist", ErrNotFound, root)
		}
	}
	return &Map{fs: fs, root: root}, nil
}

// Root returns the normalized root path of the map.
func (m *Map) Root() string { return m.root }

func (m *Map) path(key string) string {
	return m.root + "/" + strings.Trim(key, "/")
}

// Get returns the value stored under key. A missing key is NotFound.
func (m *Map) Get(ctx context.Context, key string) ([]byte, error) {
	return m.fs.Cat(ctx, m.path(key))
}

// Set stores value under key, overwriting any previous value.
func (m *Map) Set(ctx context.Context, key string, value []byte) error {
	f, err := m.fs.Open(ctx, m.path(key), "wb", nil)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		return err
	}
	return f.Close()
}

// Delete removes key. A missing key is NotFound.
func (m *Map) Delete(ctx context.Context, key string) error {
	return m.fs.Rm(ctx, m.path(key), false)
}

// Contains reports whether key is present.
func (m *Map) Contains(ctx context.Context, key string) (bool, error) {
	return m.fs.Exists(ctx, m.path(key))
}

// Keys returns every key under the root, relative to it.
func (m *Map) Keys(ctx context.Context) ([]string, error) {
	files, err := m.fs.Walk(ctx, m.root)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, strings.TrimPrefix(f, m.root+"/"))
	}
	return keys, nil
}

// Len returns the number of keys under the root.
func (m *Map) Len(ctx context.Context) (int, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear removes every key under the root.
func (m *Map) Clear(ctx context.Context) error {
	keys, err := m.fs.walkKeys(ctx, m.root)
	if err != nil {
		return err
	}
	return m.fs.BulkDelete(ctx, keys)
}

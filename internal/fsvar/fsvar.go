// Package fsvar stores filesystem-backed variables as JSON blobs in a
// fileblob bucket under the manifest directory.
package fsvar

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/Obirvalger/lineup/internal/errs"
)

// Store serializes reads and writes per variable name. Two writers
// racing on the same name is a manifest bug and is reported as such.
type Store struct {
	bucket *blob.Bucket
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// Open roots the store at <dir>/.lineup/fs-vars.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, ".lineup", "fs-vars")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errs.Wrap(errs.Backend, err, "create fs-vars dir")
	}
	bucket, err := fileblob.OpenBucket(path, &fileblob.Options{NoTempDir: true})
	if err != nil {
		return nil, errs.Wrap(errs.Backend, err, "open fs-vars bucket")
	}
	return &Store{bucket: bucket, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

func validName(name string) error {
	if name == "" {
		return errs.New(errs.Resolve, "fs var name should not be empty")
	}
	for _, c := range name {
		ok := c == '_' || (c >= '0' && c <= '9') ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			return errs.New(errs.Resolve,
				"fs var name should be alphanumeric, but get `%s`", name)
		}
	}
	return nil
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Write stores value under name. A concurrent writer on the same name
// is flagged instead of silently racing.
func (s *Store) Write(ctx context.Context, name string, value interface{}) error {
	if err := validName(name); err != nil {
		return err
	}
	l := s.lock(name)
	if !l.TryLock() {
		return errs.New(errs.Backend, "concurrent write to fs var `%s`", name)
	}
	defer l.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.Backend, err, "encoding fs var %s", name)
	}
	if err := s.bucket.WriteAll(ctx, name, data, nil); err != nil {
		return errs.Wrap(errs.Backend, err, "writing fs var %s", name)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	return s.bucket.Exists(ctx, name)
}

func (s *Store) Read(ctx context.Context, name string) (interface{}, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	data, err := s.bucket.ReadAll(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.Backend, err, "reading fs var %s", name)
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errs.Wrap(errs.Backend, err, "decoding fs var %s", name)
	}
	return value, nil
}

// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileSuffix = ".json"

// FileStore keeps one file per record under <dir>/<kind>/<key>.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	for _, k := range Kinds {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0o750); err != nil {
			return nil, fmt.Errorf("error creating state directory: %w", err)
		}
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(kind Kind, key string) string {
	return filepath.Join(f.dir, string(kind), filepath.Base(key)+fileSuffix)
}

func (f *FileStore) Load(_ context.Context, kind Kind, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(kind, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, key)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s/%s: %w", kind, key, err)
	}
	return data, nil
}

// Save writes to a temporary file in the same directory and renames it over
// the target, so readers see either the old or the new record.
func (f *FileStore) Save(ctx context.Context, kind Kind, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := f.path(kind, key)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("error creating temp file for %s/%s: %w", kind, key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing %s/%s: %w", kind, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error syncing %s/%s: %w", kind, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing %s/%s: %w", kind, key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("error replacing %s/%s: %w", kind, key, err)
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, kind Kind, key string) error {
	err := os.Remove(f.path(kind, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) Keys(_ context.Context, kind Kind) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("error listing %s records: %w", kind, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileSuffix))
	}
	return keys, nil
}

func (f *FileStore) Close() error { return nil }

package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SchemaFile is the descriptor file name inside every key directory.
const SchemaFile = "schema.json"

// FS writes units as JSON files below a root directory.
type FS struct {
	root string
}

// NewFS creates a filesystem writer rooted at root.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("output root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &FS{root: root}, nil
}

// Root returns the writer's root directory.
func (w *FS) Root() string {
	return w.root
}

// UnitPath returns the file that holds the unit for key at offset.
func (w *FS) UnitPath(key Key, offset int) string {
	return filepath.Join(w.root, filepath.FromSlash(key.Dir()), UnitName(offset))
}

// WriteSchema creates schema.json exclusively. An existing file is left as is.
func (w *FS) WriteSchema(_ context.Context, d Descriptor) error {
	dir := filepath.Join(w.root, filepath.FromSlash(d.Key.Dir()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, SchemaFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write schema: %w", err)
	}
	return f.Close()
}

// WriteUnit writes the unit to a temporary file and renames it into place,
// so readers never see a partial unit.
func (w *FS) WriteUnit(ctx context.Context, u Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := w.UnitPath(u.Key, u.Offset)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal unit: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".batch-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write unit: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close unit: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename unit: %w", err)
	}
	return nil
}

// ReadUnit loads a previously written unit.
func (w *FS) ReadUnit(key Key, offset int) (Unit, error) {
	var u Unit
	data, err := os.ReadFile(w.UnitPath(key, offset))
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("decode unit: %w", err)
	}
	return u, nil
}

// Close is a no-op; every write is complete when it returns.
func (w *FS) Close(context.Context) error {
	return nil
}

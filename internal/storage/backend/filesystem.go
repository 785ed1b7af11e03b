package backend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/xtxerr/quarry/internal/errors"
)

// Filesystem serves partition objects from a local directory tree. Object
// paths map directly onto files below the root.
type Filesystem struct {
	name string
	root string
}

// NewFilesystem creates a filesystem backend rooted at dir.
func NewFilesystem(name, dir string) *Filesystem {
	return &Filesystem{name: name, root: dir}
}

// Name implements Backend.
func (f *Filesystem) Name() string { return f.name }

// Root returns the root directory of the backend.
func (f *Filesystem) Root() string { return f.root }

func (f *Filesystem) resolve(p string) string {
	return filepath.Join(f.root, filepath.FromSlash(path.Clean("/"+p)))
}

// Open implements Backend.
func (f *Filesystem) Open(ctx context.Context, p string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.resolve(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", p, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	return &fileBlob{File: file, size: stat.Size()}, nil
}

// List implements Backend. Missing intermediate directories are not errors;
// they yield no paths.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	root := f.resolve(prefix)
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

// Exists implements Backend.
func (f *Filesystem) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(f.resolve(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Health implements Backend. The backend is healthy when the root exists
// and is a readable directory.
func (f *Filesystem) Health(ctx context.Context) Health {
	h := Health{Backend: f.name, OK: true}
	stat, err := os.Stat(f.root)
	switch {
	case err != nil:
		h.OK = false
		h.Issues = append(h.Issues, fmt.Sprintf("root %s: %v", f.root, err))
	case !stat.IsDir():
		h.OK = false
		h.Issues = append(h.Issues, fmt.Sprintf("root %s is not a directory", f.root))
	}
	return h
}

type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 { return b.size }

package backend

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/thanos-io/objstore"

	"github.com/xtxerr/quarry/internal/errors"
)

// Object serves partition objects from an object store through the
// objstore.Bucket abstraction (S3, GCS, Azure Blob, or in-memory for
// tests). Partitions are fetched whole: they are sized for that, and the
// columnar decoder needs random access anyway.
type Object struct {
	name   string
	bucket objstore.Bucket
}

// NewObject wraps an objstore bucket as a backend.
func NewObject(name string, bucket objstore.Bucket) *Object {
	return &Object{name: name, bucket: bucket}
}

// Name implements Backend.
func (o *Object) Name() string { return o.name }

// Open implements Backend. The object is downloaded into memory and served
// as a random-access blob.
func (o *Object) Open(ctx context.Context, path string) (Blob, error) {
	rc, err := o.bucket.Get(ctx, path)
	if err != nil {
		if o.bucket.IsObjNotFoundErr(err) {
			return nil, fmt.Errorf("%s: %w", path, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &memBlob{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

// List implements Backend.
func (o *Object) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := o.bucket.Iter(ctx, prefix, func(name string) error {
		out = append(out, name)
		return nil
	}, objstore.WithRecursiveIter)
	if err != nil {
		return nil, fmt.Errorf("iter %s: %w", prefix, err)
	}
	return out, nil
}

// Exists implements Backend.
func (o *Object) Exists(ctx context.Context, path string) (bool, error) {
	ok, err := o.bucket.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", path, err)
	}
	return ok, nil
}

// Health implements Backend. Probes the bucket with a cheap listing of the
// root prefix.
func (o *Object) Health(ctx context.Context) Health {
	h := Health{Backend: o.name, OK: true}
	err := o.bucket.Iter(ctx, "", func(string) error {
		return errStopIter
	})
	if err != nil && !stderrors.Is(err, errStopIter) {
		h.OK = false
		h.Issues = append(h.Issues, err.Error())
	}
	return h
}

var errStopIter = stderrors.New("stop iteration")

type memBlob struct {
	*bytes.Reader
	size int64
}

func (b *memBlob) Size() int64 { return b.size }

func (b *memBlob) Close() error { return nil }

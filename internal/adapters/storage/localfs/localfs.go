// Package localfs stores artifacts as plain files under a root directory.
package localfs

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/ports"
)

// LocalFS implements ports.StorageProvider on the local filesystem.
// Objects are created exclusively and never overwritten.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

// Root returns the directory objects are stored in.
func (l *LocalFS) Root() string { return l.root }

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	const op = "localfs.put"

	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, op, "create storage root")
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ports.PutObjectOutput{}, errors.WrapWithCode(err, errors.CodeFailedPrecond, op, "object already exists").
				WithField("object_key", in.ObjectKey)
		}
		return ports.PutObjectOutput{}, errors.Wrap(err, op, "create object")
	}

	n, err := io.Copy(f, in.Reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return ports.PutObjectOutput{}, errors.Wrap(err, op, "write object")
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p, err := l.path(objectKey)
	if err != nil {
		return nil, "", 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", 0, errors.NotFound("object", objectKey)
		}
		return nil, "", 0, errors.Wrap(err, "localfs.get", "open object")
	}

	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	contentType = mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, io.SeekStart)
		contentType = http.DetectContentType(buf[:n])
	}

	return f, contentType, size, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, objectKey string) error {
	p, err := l.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.NotFound("object", objectKey)
		}
		return errors.Wrap(err, "localfs.delete", "remove object")
	}
	return nil
}

// ListObjects returns the regular files directly under the root.
// A missing root yields an empty list.
func (l *LocalFS) ListObjects(ctx context.Context) ([]ports.ObjectInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "localfs.list", "read storage root")
	}

	out := make([]ports.ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ports.ObjectInfo{
			ObjectKey: e.Name(),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return out, nil
}

// path maps a flat key to a file under root, rejecting anything that could
// escape it.
func (l *LocalFS) path(objectKey string) (string, error) {
	if objectKey == "" || objectKey == "." || objectKey == ".." ||
		strings.ContainsAny(objectKey, `/\`) {
		return "", errors.Validation("invalid object key").WithField("object_key", objectKey)
	}
	return filepath.Join(l.root, objectKey), nil
}

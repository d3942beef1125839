// Package localfs stores rendered frames under a directory on the local disk.
package localfs

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pyro/internal/pkg/errors"
	"pyro/internal/ports"
)

const ProviderName = "localfs"

// LocalFS implements ports.StorageProvider on a root directory. Object keys
// are slash separated and may not leave the root.
type LocalFS struct {
	root string
}

var _ ports.StorageProvider = (*LocalFS)(nil)

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return ProviderName }

func (l *LocalFS) Root() string { return l.root }

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := ctx.Err(); err != nil {
		return ports.PutObjectOutput{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.PutObject", "create directory")
	}

	// Write next to the target and rename so readers never see a partial frame.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.PutObject", "create temp file")
	}
	n, err := io.Copy(tmp, in.Reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.PutObject", "write object")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.PutObject", "rename object")
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
		if os.IsNotExist(err) {
			return nil, "", 0, errors.NotFound("object", objectKey)
		}
		return nil, "", 0, errors.Wrap(err, "localfs.GetObject", "open object")
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
		if os.IsNotExist(err) {
			return errors.NotFound("object", objectKey)
		}
		return errors.Wrap(err, "localfs.DeleteObject", "remove object")
	}
	return nil
}

// GetSignedURL is not supported; frames are served through the API.
func (l *LocalFS) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{}, errors.New(errors.CodeBadRequest, "signed urls are not supported by localfs")
}

func (l *LocalFS) path(objectKey string) (string, error) {
	key := strings.TrimSpace(objectKey)
	if key == "" {
		return "", errors.ValidationField("object_key", "object key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.ValidationField("object_key", "object key escapes storage root").WithField("object_key", objectKey)
	}
	return filepath.Join(l.root, clean), nil
}

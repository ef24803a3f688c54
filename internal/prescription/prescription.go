// Package prescription stores uploaded prescription artifacts and hands back
// a stable URL for them.
package prescription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"medquote/internal/apperr"
)

type Store interface {
	Save(ctx context.Context, content io.Reader) (string, error)
	Remove(ctx context.Context, url string) error
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// DiskStore writes artifacts under dir and serves them below baseURL.
type DiskStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

func NewDiskStore(dir, baseURL string, maxBytes int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prescription dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

func (s *DiskStore) Save(ctx context.Context, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(content, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %v: %w", err, apperr.ErrUpload)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty file: %w", apperr.ErrUpload)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("file exceeds %d bytes: %w", s.maxBytes, apperr.ErrUpload)
	}

	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ext, ok := extensions[ct]
	if !ok {
		return "", fmt.Errorf("unsupported content type %s: %w", ct, apperr.ErrUpload)
	}

	name := uuid.NewString() + ext
	if err := writeFile(filepath.Join(s.dir, name), data); err != nil {
		return "", fmt.Errorf("store upload: %v: %w", err, apperr.ErrUpload)
	}
	return s.baseURL + "/" + name, nil
}

// Remove deletes an artifact previously returned by Save. Unknown URLs are
// ignored.
func (s *DiskStore) Remove(_ context.Context, url string) error {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return nil
	}
	name := filepath.Base(strings.TrimPrefix(url, prefix))
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Handler serves stored artifacts; mount it at the path of baseURL.
func (s *DiskStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

package photos

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStorage writes photos under Dir and hands out refs under PublicPrefix,
// e.g. "/uploads/personal/123_20240101120000_ab12cd34.jpeg".
type FileStorage struct {
	dir          string
	publicPrefix string
}

func NewFileStorage(dir, publicPrefix string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	return &FileStorage{dir: dir, publicPrefix: "/" + strings.Trim(publicPrefix, "/")}, nil
}

func (s *FileStorage) Save(_ context.Context, name string, p Photo) (string, error) {
	name = filepath.Base(name)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(p.Data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return path.Join(s.publicPrefix, name), nil
}

// Delete removes the file behind ref. Missing files are not an error.
func (s *FileStorage) Delete(_ context.Context, ref string) error {
	name, ok := strings.CutPrefix(ref, s.publicPrefix+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("photo ref %q is not managed by this storage", ref)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}

// PublicPrefix is the URL path refs start with.
func (s *FileStorage) PublicPrefix() string {
	return s.publicPrefix
}

// Handler serves stored photos; mount it so that PublicPrefix resolves, with
// the prefix already stripped. Directory listings are refused.
func (s *FileStorage) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}

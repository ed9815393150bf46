package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DiskStore keeps images in a directory on the local filesystem and serves them
// under BaseURL. This results in files like: <root>/user/1/<uuid>.png.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore returns a DiskStore rooted at root whose URLs start with baseURL, e.g. "/uploads".
func NewDiskStore(root, baseURL string) *DiskStore {
	return &DiskStore{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Put writes body to the file named by key, creating directories as needed.
func (ds *DiskStore) Put(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error) {
	p, err := ds.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	dst, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, body); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return ds.baseURL + "/" + key, nil
}

// Key returns the key of a URL handed out by Put.
func (ds *DiskStore) Key(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, ds.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Remove deletes the file behind url. Foreign URLs and missing files are not an error.
func (ds *DiskStore) Remove(ctx context.Context, url string) error {
	key, ok := ds.Key(url)
	if !ok {
		return nil
	}
	p, err := ds.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Handler serves the stored files under the store's base URL.
func (ds *DiskStore) Handler() http.Handler {
	return http.StripPrefix(ds.baseURL+"/", http.FileServer(http.Dir(ds.root)))
}

// path maps a key to a file below root and refuses keys escaping it.
func (ds *DiskStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return filepath.Join(ds.root, filepath.FromSlash(clean)), nil
}

/*
Package drive provides billing.Uploader implementations.

PURPOSE:
  Invoices are filed as <root>/<year>/<month>/<file>. Local mirrors the
  folder layout of the shared drive on the local filesystem; folder ids are
  paths relative to the root.

SEMANTICS:
  - EnsureFolder creates missing levels and returns the folder id.
  - Upload replaces a file of the same name in its parent folder, so
    re-uploading an invoice never produces duplicates.
*/
package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/grandcedre/billing/billing"
	"go.uber.org/zap"
)

type Local struct {
	root string
	log  *zap.Logger

	mu      sync.Mutex
	folders map[string]string
}

var _ billing.Uploader = (*Local)(nil)

func NewLocal(root string, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{root: root, log: log.Named("drive"), folders: make(map[string]string)}
}

// Root is the directory files are uploaded under.
func (l *Local) Root() string { return l.root }

func (l *Local) EnsureFolder(ctx context.Context, path ...string) (string, error) {
	for _, p := range path {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("invalid folder name %q", p)
		}
	}
	id := filepath.Join(path...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.folders[id]; ok {
		return id, nil
	}
	if err := os.MkdirAll(filepath.Join(l.root, id), 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", id, err)
	}
	l.log.Info("folder ready", zap.String("folder", id))
	l.folders[id] = id
	return id, nil
}

func (l *Local) Upload(ctx context.Context, u billing.Upload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.RemoteName == "" || strings.ContainsAny(u.RemoteName, `/\`) {
		return fmt.Errorf("invalid file name %q", u.RemoteName)
	}

	src, err := os.Open(u.LocalPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dir := filepath.Join(l.root, u.ParentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write next to the target then rename, so a failed upload leaves the
	// previous version in place.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to upload %s: %w", u.RemoteName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	target := filepath.Join(dir, u.RemoteName)
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	l.log.Info("uploaded file",
		zap.String("name", u.RemoteName),
		zap.String("folder", u.ParentID),
		zap.String("mime_type", u.MimeType),
		zap.String("description", u.Description))
	return nil
}

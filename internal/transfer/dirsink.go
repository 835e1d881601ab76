// internal/transfer/dirsink.go
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirSink delivers units into a destination directory tree, typically a
// mounted network share collected by the central side. Idempotent by
// remote name: a redelivered unit replaces the previous copy.
type DirSink struct {
	root string
}

func NewDirSink(root string) (*DirSink, error) {
	if root == "" {
		return nil, errors.New("transfer: sink directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return &DirSink{root: root}, nil
}

func (s *DirSink) Put(ctx context.Context, localPath, remoteName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(remoteName))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	defer src.Close()

	// copy to a temp name, rename over the final one: a reader on the
	// collection side never sees a half-written unit
	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("transfer: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("transfer: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("transfer: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

var _ Sink = (*DirSink)(nil)

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invoicepipe/invoicepipe/internal/common"
)

// Local is a DocumentStore rooted at a directory. Keys map to file paths
// under the root; Move is an atomic rename where the OS provides one.
type Local struct {
	root string
	log  *slog.Logger
}

func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Local{root: abs, log: logger}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	dir := l.path(strings.TrimSuffix(prefix, "/"))
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if isMarker(key) {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) Read(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %q: %w", key, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return b, nil
}

func (l *Local) Write(_ context.Context, key string, payload []byte) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := os.WriteFile(p, payload, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (l *Local) Move(_ context.Context, key, newPrefix string) (string, error) {
	newKey := JoinPrefix(newPrefix, BaseName(key))
	src, dst := l.path(key), l.path(newKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("move %q: %w", key, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("move %q: %w", key, common.ErrNotFound)
		}
		return "", fmt.Errorf("move %q: %w", key, err)
	}
	l.log.Debug("store.local.move", "from", key, "to", newKey)
	return newKey, nil
}

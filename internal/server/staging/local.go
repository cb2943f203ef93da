package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/filex"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/google/uuid"
)

// LocalStager keeps staged files under root/<owner>/<uuid>. The API server
// and the workers must see the same root.
type LocalStager struct {
	root   string
	logger logging.Logger
}

func NewLocalStager(root string, logger logging.Logger) *LocalStager {
	return &LocalStager{root: root, logger: logger.With("module", "staging", "backend", "local")}
}

func (s *LocalStager) resolve(key string) (string, error) {
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("invalid staging key %q", key)
	}
	return filepath.Join(s.root, key), nil
}

func (s *LocalStager) Stage(ctx context.Context, owner string, content []byte) (string, error) {
	if !filepath.IsLocal(owner) {
		return "", fmt.Errorf("invalid owner namespace %q", owner)
	}

	dir, err := filex.EnsureDir(s.root, owner)
	if err != nil {
		return "", err
	}

	name := uuid.NewString()
	if err := filex.WriteFileAtomic(filepath.Join(dir, name), content, 0o600); err != nil {
		return "", fmt.Errorf("stage: %w", err)
	}

	return filepath.Join(owner, name), nil
}

func (s *LocalStager) Open(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrStagedContentNotPresent, key)
		}
		return nil, err
	}
	return b, nil
}

func (s *LocalStager) Release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	path, err := s.resolve(key)
	if err != nil {
		s.logger.Warn(ctx, "release skipped", "key", key, "error", err)
		return
	}
	removed, err := filex.RemoveIfExists(path)
	if err != nil {
		s.logger.Warn(ctx, "release failed", "key", key, "error", err)
		return
	}
	if !removed {
		s.logger.Debug(ctx, "release: nothing to remove", "key", key)
	}
}

// Package staging holds uploaded files between admission and
// classification. A staged file is addressed by an opaque key that the
// admission path stores on the task and the worker later opens and releases.
package staging

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/config"
)

// Stager stores upload content under a per-owner namespace.
type Stager interface {
	// Stage persists content and returns its key.
	Stage(ctx context.Context, owner string, content []byte) (string, error)
	// Open returns staged content. A missing key yields
	// common.ErrStagedContentNotPresent.
	Open(ctx context.Context, key string) ([]byte, error)
	// Release removes staged content. It is best effort: a missing key is a
	// no-op and other failures are logged, never returned.
	Release(ctx context.Context, key string)
}

// New builds the stager selected by cfg.StagingBackend, sealed when
// cfg.StagingEncryptionKey is set.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (Stager, error) {
	var (
		s   Stager
		err error
	)
	switch cfg.StagingBackend {
	case config.StagingLocal, "":
		s = NewLocalStager(cfg.StagingDir, logger)
	case config.StagingS3:
		s, err = NewS3Stager(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown staging backend %q", cfg.StagingBackend)
	}

	if cfg.StagingEncryptionKey != "" {
		s = NewSealedStager(s, cfg.StagingEncryptionKey)
	}
	return s, nil
}

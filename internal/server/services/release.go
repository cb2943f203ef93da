package services

import (
	"context"

	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
)

// releaseStaged frees the staged files of tasks whose terminal state or
// deletion is already committed. Nothing retries a release, so it must not
// be cut short by a request that has gone away.
func releaseStaged(ctx context.Context, stager staging.Stager, released []models.ReleasedTask) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range released {
		if r.StagedPath != "" {
			stager.Release(ctx, r.StagedPath)
		}
	}
}

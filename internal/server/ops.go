package server

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/ratelimit"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
	"github.com/dmitrijs2005/classifyd/internal/server/worker"
)

// Operator tasks run by classifyctl against the same stores as the services.

func (app *App) CreateUser(ctx context.Context, in services.NewUser) (*models.User, error) {
	signer, err := auth.NewTokenSigner(app.config.SecretKey, app.config.SigningAlgorithm, app.config.AccessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("token signer: %w", err)
	}
	svc := services.NewUserService(dbx.NewRunner(app.db), app.repomanager, signer, app.stager, app.logger)
	return svc.Create(ctx, in)
}

func (app *App) IssueAPIKey(ctx context.Context, in services.NewAPIKey) (*models.IssuedAPIKey, error) {
	svc := services.NewAPIKeyService(dbx.NewRunner(app.db), app.repomanager, app.stager, app.config, app.logger)
	return svc.Issue(ctx, in)
}

// Reconcile runs one stuck task sweep and returns how many tasks it failed.
func (app *App) Reconcile(ctx context.Context) (int, error) {
	r := worker.NewReconciler(app.db, app.repomanager, app.stager, app.config.StuckTaskDeadline, app.config.ReconcileInterval, app.logger)
	released, err := r.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	return len(released), nil
}

func (app *App) RateLimitTotals(ctx context.Context) (map[string]int64, error) {
	return ratelimit.NewRedisStats(app.rdb, statsRetention).Totals(ctx)
}

func (app *App) QueueDepth(ctx context.Context) (int64, error) {
	return app.queue().Depth(ctx)
}

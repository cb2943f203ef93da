package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/httpapi"
	"github.com/dmitrijs2005/classifyd/internal/server/ratelimit"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
)

const (
	shutdownTimeout = 10 * time.Second
	statsRetention  = 7 * 24 * time.Hour
)

// Handler assembles the public API over the app's stores.
func (app *App) Handler() (http.Handler, error) {
	c := app.config

	signer, err := auth.NewTokenSigner(c.SecretKey, c.SigningAlgorithm, c.AccessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("token signer: %w", err)
	}

	runner := dbx.NewRunner(app.db)
	limiter := ratelimit.NewService(
		ratelimit.NewRedisWindow(app.rdb, c.RateLimit, c.RateWindow),
		ratelimit.NewRedisStats(app.rdb, statsRetention),
		app.logger,
	)

	api := httpapi.NewServer(httpapi.Deps{
		Verifier:          services.NewVerifier(app.db, app.repomanager, signer),
		Limiter:           limiter,
		Admission:         services.NewAdmissionService(runner, app.repomanager, app.stager, app.queue(), c, app.logger),
		Users:             services.NewUserService(runner, app.repomanager, signer, app.stager, app.logger),
		APIKeys:           services.NewAPIKeyService(runner, app.repomanager, app.stager, c, app.logger),
		Tasks:             services.NewTaskService(runner, app.repomanager, app.stager, app.logger),
		Logger:            app.logger,
		TrustForwardedFor: c.TrustForwardedFor,
		Ready:             app.ready,
	})
	return api.Handler(), nil
}

// RunAPI migrates the schema and serves the HTTP API until a termination
// signal arrives or ctx is cancelled.
func (app *App) RunAPI(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting API server...", "address", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	if err := app.Migrate(ctx); err != nil {
		return err
	}

	handler, err := app.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	app.logger.Info(shutdownCtx, "Stopping API server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Package server wires the classification service processes: the public
// API server and the classification worker. Both share one PostgreSQL
// database, one Redis instance and one staging backend.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/config"
	"github.com/dmitrijs2005/classifyd/internal/server/queue"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	rdb         *redis.Client
	repomanager repomanager.RepositoryManager
	stager      staging.Stager
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	stager, err := staging.New(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("staging init error: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		rdb:         rdb,
		repomanager: repomanager.NewPostgresRepositoryManager(),
		stager:      stager,
	}, nil
}

// Close releases the database and Redis connections.
func (app *App) Close() error {
	rerr := app.rdb.Close()
	if err := app.db.Close(); err != nil {
		return err
	}
	return rerr
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Migrate applies the embedded schema migrations.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}

// ready reports whether the database and Redis answer.
func (app *App) ready(ctx context.Context) error {
	if err := app.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := app.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (app *App) queue() *queue.RedisQueue {
	return queue.NewRedisQueue(app.rdb, app.config.QueueName, app.config.WorkerID)
}

package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/tasks"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	APIKeys(db dbx.DBTX) apikeys.Repository
	Tasks(db dbx.DBTX) tasks.Repository
}

package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/signups"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories and runs
// the embedded schema migrations.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Certificates(db dbx.DBTX) certificates.Repository {
	return certificates.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Signups(db dbx.DBTX) signups.Repository {
	return signups.NewPostgresRepository(db)
}

// Seams for testing goose.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
)

func setupGoose() error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return nil
}

// RunMigrations applies all pending embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// RollbackMigration reverts the most recent migration.
func (m *PostgresRepositoryManager) RollbackMigration(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return gooseDownContext(ctx, db, ".")
}

// Package certctl implements the certkeeper administration CLI: minting
// admin tokens, running migrations, recording enrollments and auditing a
// single certificate.
package certctl

import (
	"context"
	"database/sql"
	"errors"
	"io"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/repomanager"
)

// ErrIntegrity is returned by the audit command when the stored payload
// hash does not match the certificate fields.
var ErrIntegrity = errors.New("payload hash mismatch")

// SecretEnv names the environment variable holding the JWT secret.
const SecretEnv = "CERTKEEPER_SECRET"

// migrator applies or reverts schema migrations.
type migrator interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	RollbackMigration(ctx context.Context, db *sql.DB) error
}

// store bundles a database handle with the repositories bound to it.
type store struct {
	db    dbx.DBTX
	repos repomanager.RepositoryManager
	close func() error
}

// Test seams.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newMigrator = func() migrator {
		return repomanager.NewPostgresRepositoryManager()
	}
	openStore = func(dsn string) (*store, error) {
		db, err := openDB(dsn)
		if err != nil {
			return nil, err
		}
		return &store{db: db, repos: repomanager.NewPostgresRepositoryManager(), close: db.Close}, nil
	}
)

// NewRootCommand builds the certctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "certctl",
		Short:         "certctl administers a certkeeper deployment",
		Long:          `Tools for minting admin tokens, migrating the database, recording enrollments and auditing certificates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(newTokenCommand(), newMigrateCommand(), newSignupCommand(), newAuditCommand())
	return root
}

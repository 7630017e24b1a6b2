package certctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Long:      `"up" (the default) applies all pending migrations; "down" reverts the latest one.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			db, err := openDB(dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			m := newMigrator()
			if direction == "down" {
				err = m.RollbackMigration(cmd.Context(), db)
			} else {
				err = m.RunMigrations(cmd.Context(), db)
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrations %s: ok\n", direction)
			return err
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

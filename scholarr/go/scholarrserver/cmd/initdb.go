package cmd

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/sql"
)

var initDbFlags struct {
	configFile string
}

// initDbCmd represents the init-db command.
var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Apply the database schema.",
	Long: `Applies the generated schema to the configured database. All
statements are CREATE TABLE IF NOT EXISTS, so running against an existing
database is safe.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.InstanceConfigFromFile(initDbFlags.configFile)
		if err != nil {
			return err
		}
		ctx := context.Background()
		db, err := pgxpool.Connect(ctx, cfg.ConnectionString)
		if err != nil {
			return skerr.Wrapf(err, "connecting to %q", cfg.ConnectionString)
		}
		defer db.Close()
		if _, err := db.Exec(ctx, sql.Schema); err != nil {
			return skerr.Wrapf(err, "applying schema")
		}
		sklog.Infof("Schema applied.")
		return nil
	},
}

func initDbInit() {
	rootCmd.AddCommand(initDbCmd)
	initDbCmd.Flags().StringVar(&initDbFlags.configFile, "config", "", "Instance config file. Must be supplied.")
	_ = initDbCmd.MarkFlagRequired("config")
}

package cmd

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/users/sqluserstore"
)

var addUserFlags struct {
	configFile string
	email      string
	admin      bool
}

// addUserCmd represents the add-user command.
var addUserCmd = &cobra.Command{
	Use:   "add-user",
	Short: "Create an account.",
	Long: `Creates an account for the given email with default settings.
Identity comes from the auth proxy in front of the server, so this is the
only provisioning step.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.InstanceConfigFromFile(addUserFlags.configFile)
		if err != nil {
			return err
		}
		ctx := context.Background()
		db, err := pgxpool.Connect(ctx, cfg.ConnectionString)
		if err != nil {
			return skerr.Wrapf(err, "connecting to %q", cfg.ConnectionString)
		}
		defer db.Close()
		u, err := sqluserstore.New(db).Create(ctx, addUserFlags.email, addUserFlags.admin)
		if err != nil {
			return skerr.Wrapf(err, "creating user %q", addUserFlags.email)
		}
		sklog.Infof("Created user %s with id %d.", u.Email, u.ID)
		return nil
	},
}

func addUserInit() {
	rootCmd.AddCommand(addUserCmd)
	addUserCmd.Flags().StringVar(&addUserFlags.configFile, "config", "", "Instance config file. Must be supplied.")
	addUserCmd.Flags().StringVar(&addUserFlags.email, "email", "", "Email address of the new account. Must be supplied.")
	addUserCmd.Flags().BoolVar(&addUserFlags.admin, "admin", false, "Grant the new account admin rights.")
	_ = addUserCmd.MarkFlagRequired("config")
	_ = addUserCmd.MarkFlagRequired("email")
}

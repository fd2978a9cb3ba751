package app

import (
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/ariesdb/src/app"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Recovers the database and keeps it open until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.DBEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
			})
		},
	})
}

package app

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/ariesdb/src/app"
	"github.com/Blackdeer1524/ariesdb/src/cfg"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
)

func initDump() {
	var fromPage uint64

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Prints the log records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := cfg.Load(rootCmd.Options.ConfigPath)
			if err != nil {
				return err
			}

			return app.DumpLog(
				afero.NewOsFs(),
				config.DataDir,
				common.MakeLSN(fromPage, 0),
				cmd.OutOrStdout(),
			)
		},
	}

	cmd.Flags().Uint64Var(&fromPage, "from-page", 1, "First log page to print")

	rootCmd.AddCommand(cmd)
}

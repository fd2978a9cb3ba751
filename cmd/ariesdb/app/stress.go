package app

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/ariesdb/src/app"
	"github.com/Blackdeer1524/ariesdb/src/cfg"
)

func initStress() {
	var (
		opts  app.StressOptions
		crash bool
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Runs random concurrent transactions against the database",
		Long: "Runs random concurrent transactions against the database. " +
			"With --crash the process exits without flushing anything, " +
			"so the next start has to recover.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := cfg.Load(rootCmd.Options.ConfigPath)
			if err != nil {
				return err
			}

			log := app.NewLogger(config.Environment)

			db, err := app.OpenDB(cmd.Context(), afero.NewOsFs(), config, log)
			if err != nil {
				return err
			}

			started := time.Now()

			report, err := app.RunStress(cmd.Context(), db, opts)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(),
				"committed=%d aborted=%d died=%d elapsed=%s\n",
				report.Committed,
				report.Aborted,
				report.Died,
				time.Since(started),
			)

			if err := app.VerifyStress(db, opts.Pages, report.Expected); err != nil {
				return err
			}

			if crash {
				_ = log.Sync()
				os.Exit(0)
			}

			return db.Close()
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Txns, "txns", 1000, "Number of transactions")
	flags.IntVar(&opts.Workers, "workers", 8, "Number of concurrent workers")
	flags.IntVar(&opts.Pages, "pages", 64, "Number of pages in the stress partition")
	flags.IntVar(&opts.PagesPerTxn, "pages-per-txn", 4, "Pages written by each transaction")
	flags.Float64Var(&opts.AbortRatio, "abort-ratio", 0.2, "Share of transactions that abort on purpose")
	flags.IntVar(&opts.CheckpointEvery, "checkpoint-every", 100, "Take a checkpoint every n transactions")
	flags.Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "Random seed")
	flags.BoolVar(&crash, "crash", false, "Exit without closing the database")

	rootCmd.AddCommand(cmd)
}

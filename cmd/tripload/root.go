package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "tripload",
		Short: "Load NYC taxi trip records into BigQuery and PostgreSQL",
		Long: `tripload stages NYC TLC trip record files in Cloud Storage and
materializes one BigQuery table per taxi category, reconciling column
types that drift between monthly files.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			cfg, err := loadConfig(cfgFile, cmd.Flags(), commandDefaults[cmd.Name()])
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := logger.WithContext(cmd.Context())
			cmd.SetContext(withConfig(ctx, cfg))

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./tripload.yaml)")
	pf.String("project", "", "GCP project ID")
	pf.String("dataset", "", "BigQuery dataset of target tables")
	pf.String("staging-dataset", "", "BigQuery dataset for staging tables (default: --dataset)")
	pf.String("bucket", "", "Cloud Storage bucket holding trip files")
	pf.String("credentials", "", "service account key file")
	pf.Int("concurrency", 0, "concurrent requests per table")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.Bool("pretty", false, "human friendly logs")

	root.AddCommand(
		newMaterializeCmd(),
		newIngestCmd(),
		newPgloadCmd(),
		newProbeCmd(),
	)

	return root
}

func newLogger(cfg *Config, w io.Writer) (zerolog.Logger, error) {
	lv, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), xerrors.Errorf("failed to parse log level %q: %w", cfg.LogLevel, err)
	}

	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lv).With().Timestamp().Logger(), nil
}

// addSelectionFlags registers --category, --year and --month.
func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("category", nil, "taxi categories (yellow,green)")
	cmd.Flags().StringSlice("year", nil, "years, e.g. 2019,2020")
	cmd.Flags().StringSlice("month", nil, "months or ranges, e.g. 1-12")
}

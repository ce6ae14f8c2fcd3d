package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/xerrors"

	"go.nownabe.dev/tripload"
)

func newMaterializeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Create one BigQuery table per category from staged trip files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := configFrom(ctx)

			if err := cfg.requireGCP(); err != nil {
				return err
			}
			if cfg.Dataset == "" {
				return xerrors.New("dataset is required")
			}

			targets, err := buildTargets(cfg)
			if err != nil {
				return err
			}

			engine, err := tripload.NewBigQueryEngine(ctx, cfg.Project, cfg.clientOptions()...)
			if err != nil {
				return err
			}
			defer engine.Close()

			verifier, err := tripload.NewStorageVerifier(ctx, cfg.clientOptions()...)
			if err != nil {
				return err
			}
			defer verifier.Close()

			opts := []tripload.Option{
				tripload.WithLogLevel(cfg.LogLevel),
				tripload.WithConcurrency(cfg.Concurrency),
				tripload.WithEngine(engine),
				tripload.WithSourceVerifier(verifier),
			}
			if cfg.Pretty {
				opts = append(opts, tripload.WithPrettyLogging())
			}
			if cfg.SlackToken != "" {
				opts = append(opts, tripload.WithNotifier(&tripload.SlackNotifier{
					Channel:  cfg.SlackChannel,
					Token:    cfg.SlackToken,
					Username: "tripload",
				}))
			}

			loader, err := tripload.New(opts...)
			if err != nil {
				return err
			}
			defer loader.Close()

			for _, t := range targets {
				if err := loader.AddTarget(ctx, t); err != nil {
					return err
				}
			}

			results, err := loader.Run(ctx)
			printResults(cmd.OutOrStdout(), results)

			return err
		},
	}

	addSelectionFlags(cmd)

	return cmd
}

// buildTargets returns one target per selected category, named
// <category>_tripdata.
func buildTargets(cfg *Config) ([]*tripload.Target, error) {
	cats, err := cfg.categories()
	if err != nil {
		return nil, err
	}
	years, err := cfg.years()
	if err != nil {
		return nil, xerrors.Errorf("invalid years: %w", err)
	}
	months, err := cfg.months()
	if err != nil {
		return nil, xerrors.Errorf("invalid months: %w", err)
	}

	targets := make([]*tripload.Target, len(cats))
	for i, c := range cats {
		targets[i] = &tripload.Target{
			Name:           c.String(),
			Category:       c,
			Sources:        tripload.Sources(cfg.Bucket, c, years, months),
			Project:        cfg.Project,
			Dataset:        cfg.Dataset,
			Table:          c.String() + "_tripdata",
			StagingDataset: cfg.StagingDataset,
		}
	}

	return targets, nil
}

func printResults(w io.Writer, results []*tripload.Result) {
	p := message.NewPrinter(language.English)

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Error != nil {
			fmt.Fprintf(w, "%s\tFAILED\t%v\n", r.Target.Name, r.Error)
			continue
		}
		p.Fprintf(w, "%s\t%s\t%d rows\t%.2f MB\t%s\n",
			r.Target.Name, r.Path, r.NumRows, float64(r.NumBytes)/(1024*1024), r.Duration)
	}
}

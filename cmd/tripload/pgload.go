package main

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"go.nownabe.dev/tripload"
	"go.nownabe.dev/tripload/pgload"
	"go.nownabe.dev/tripload/tripfile"
)

func newPgloadCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "pgload",
		Short: "Replace a PostgreSQL table with one month of trip records",
		Long: `Replace a PostgreSQL table with one month of trip records.

The month is selected by --category, --year and --month, which must each
resolve to a single value. Without them pgload loads yellow 2021-01.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := configFrom(ctx)

			src, err := singleSource(cfg)
			if err != nil {
				return err
			}

			uri := source
			if uri == "" {
				uri = strings.TrimSuffix(cfg.BaseURL, "/") + "/" + src.Name()
			}

			table := cfg.PostgresTable
			if table == "" {
				table = src.Category.String() + "_taxi_data"
			}

			opener, closeOpener, err := newOpener(ctx, cfg, uri)
			if err != nil {
				return err
			}
			defer closeOpener()

			f, err := opener.Open(ctx, uri)
			if err != nil {
				return err
			}
			defer f.Close()

			pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
			if err != nil {
				return xerrors.Errorf("failed to connect to postgres: %w", err)
			}
			defer pool.Close()

			n, err := pgload.New(pool, pgload.WithChunkSize(cfg.ChunkSize)).Load(ctx, table, src.Category, f)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d records into %s\n", n, table)

			return nil
		},
	}

	addSelectionFlags(cmd)
	cmd.Flags().StringVar(&source, "source", "", "file URI to load (default: <base-url>/<file>)")
	cmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	cmd.Flags().String("postgres-table", "", "target table (default: <category>_taxi_data)")
	cmd.Flags().Int64("chunk-size", 0, "rows per COPY")
	cmd.Flags().String("base-url", "", "trip record download endpoint")

	return cmd
}

// singleSource requires exactly one category, year and month.
func singleSource(cfg *Config) (tripload.Source, error) {
	cats, err := cfg.categories()
	if err != nil {
		return tripload.Source{}, err
	}
	years, err := cfg.years()
	if err != nil {
		return tripload.Source{}, xerrors.Errorf("invalid years: %w", err)
	}
	months, err := cfg.months()
	if err != nil {
		return tripload.Source{}, xerrors.Errorf("invalid months: %w", err)
	}

	if len(cats) != 1 || len(years) != 1 || len(months) != 1 {
		return tripload.Source{}, xerrors.New("exactly one --category, --year and --month are required")
	}

	return tripload.Source{Category: cats[0], Year: years[0], Month: months[0], Bucket: cfg.Bucket}, nil
}

// newOpener returns an opener with a storage client when any uri is gs://.
func newOpener(ctx context.Context, cfg *Config, uris ...string) (*tripfile.Opener, func(), error) {
	o := &tripfile.Opener{}

	for _, u := range uris {
		if !strings.HasPrefix(u, "gs://") {
			continue
		}

		client, err := storage.NewClient(ctx, cfg.clientOptions()...)
		if err != nil {
			return nil, nil, xerrors.Errorf("failed to build storage client: %w", err)
		}
		o.Storage = client

		return o, func() { _ = client.Close() }, nil
	}

	return o, func() {}, nil
}

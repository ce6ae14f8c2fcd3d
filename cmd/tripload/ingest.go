package main

import (
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"go.nownabe.dev/tripload"
	"go.nownabe.dev/tripload/ingest"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Download trip files from TLC and upload them to Cloud Storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := configFrom(ctx)

			if err := cfg.requireGCP(); err != nil {
				return err
			}

			targets, err := buildTargets(cfg)
			if err != nil {
				return err
			}

			client, err := storage.NewClient(ctx, cfg.clientOptions()...)
			if err != nil {
				return xerrors.Errorf("failed to build storage client: %w", err)
			}
			defer client.Close()

			in := ingest.New(ingest.NewGCSBucket(client, cfg.Bucket, cfg.Project),
				ingest.WithBaseURL(cfg.BaseURL),
				ingest.WithDownloadDir(cfg.DownloadDir),
				ingest.WithConcurrency(cfg.Concurrency),
			)

			if err := in.EnsureBucket(ctx); err != nil {
				return err
			}

			var sources []tripload.Source
			for _, t := range targets {
				sources = append(sources, t.Sources...)
			}

			return in.Ingest(ctx, sources)
		},
	}

	addSelectionFlags(cmd)
	cmd.Flags().String("base-url", "", "trip record download endpoint")
	cmd.Flags().String("download-dir", "", "directory for downloaded files")

	return cmd
}

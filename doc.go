/*

Package tripload materializes NYC taxi trip record files staged in Cloud
Storage into one BigQuery table per taxi category.

Monthly Parquet files published by TLC do not agree on column types: a
column such as airport_fee is INT32 in one month and DOUBLE in another.
tripload first tries a single bulk load of every file. When BigQuery
rejects it with a type conflict, it stages each file as an external table,
casts every column to the canonical schema of the category and builds the
target with one UNION ALL query. Staging tables are always dropped
afterwards.

Getting started

	package main

	import (
		"context"
		"os"

		"go.nownabe.dev/tripload"
	)

	func main() {
		ctx := context.Background()

		loader, err := tripload.New(tripload.WithLogLevel("debug"), tripload.WithConcurrency(8))
		if err != nil {
			panic(err)
		}
		defer loader.Close()

		bucket := os.Getenv("TRIP_BUCKET")
		years := []int{2019, 2020}
		months := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

		for _, c := range tripload.Categories {
			loader.MustAddTarget(ctx, &tripload.Target{
				Name:     c.String(),
				Category: c,
				Sources:  tripload.Sources(bucket, c, years, months),
				Notifier: &tripload.SlackNotifier{
					Token:   os.Getenv("SLACK_TOKEN"),
					Channel: os.Getenv("SLACK_CHANNEL"),
				},

				// Destination.
				Project: os.Getenv("BIGQUERY_PROJECT_ID"),
				Dataset: os.Getenv("BIGQUERY_DATASET_ID"),
				Table:   c.String() + "_tripdata",
			})
		}

		if _, err := loader.Run(ctx); err != nil {
			panic(err)
		}
	}

The tripload command wraps the same flow and adds downloading files from
TLC (ingest), loading a single file into PostgreSQL (pgload) and printing
the physical schema of files (probe).

*/
package tripload

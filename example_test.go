package tripload_test

import (
	"fmt"

	"go.nownabe.dev/tripload"
)

func ExampleSources() {
	for _, s := range tripload.Sources("trips", tripload.Green, []int{2020, 2019}, []int{2, 1}) {
		fmt.Println(s.FullPath(), s.StagingName())
	}
	// Output:
	// gs://trips/green_tripdata_2019-01.parquet _stage_green_2019_01
	// gs://trips/green_tripdata_2019-02.parquet _stage_green_2019_02
	// gs://trips/green_tripdata_2020-01.parquet _stage_green_2020_01
	// gs://trips/green_tripdata_2020-02.parquet _stage_green_2020_02
}

func ExampleSchema_CastRules() {
	for _, r := range tripload.Yellow.MustSchema().CastRules()[:4] {
		fmt.Println(r.Expr)
	}
	// Output:
	// CAST(VendorID AS INT64) AS VendorID
	// tpep_pickup_datetime AS tpep_pickup_datetime
	// tpep_dropoff_datetime AS tpep_dropoff_datetime
	// CAST(passenger_count AS FLOAT64) AS passenger_count
}

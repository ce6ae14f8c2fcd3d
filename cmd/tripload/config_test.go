package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nownabe.dev/tripload"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tripload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_defaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"yellow", "green"}, cfg.Categories)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.EqualValues(t, 100000, cfg.ChunkSize)

	months, err := cfg.months()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, months)
}

func TestLoadConfig_layers(t *testing.T) {
	path := writeConfig(t, `
project: from-file
dataset: hw3
bucket: trips
years: [2019]
concurrency: 2
`)
	t.Setenv("TRIPLOAD_DATASET", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("concurrency", 0, "")
	flags.StringSlice("category", nil, "")
	flags.StringSlice("month", nil, "")
	require.NoError(t, flags.Parse([]string{"--concurrency=8", "--category=green", "--month=1-3,6"}))

	cfg, err := loadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Project)
	assert.Equal(t, "from-env", cfg.Dataset)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, []string{"green"}, cfg.Categories)

	years, err := cfg.years()
	require.NoError(t, err)
	assert.Equal(t, []int{2019}, years)

	months, err := cfg.months()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 6}, months)
}

func TestLoadConfig_errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "concurrency: 0\n"), nil)
	assert.Error(t, err)
}

func TestParseInts(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []int
		wantErr bool
	}{
		{name: "single", in: []string{"3"}, want: []int{3}},
		{name: "range and list", in: []string{"10-12", "1"}, want: []int{1, 10, 11, 12}},
		{name: "comma separated", in: []string{"2,2,1"}, want: []int{1, 2}},
		{name: "out of range", in: []string{"0-3"}, wantErr: true},
		{name: "reversed", in: []string{"5-2"}, wantErr: true},
		{name: "not a number", in: []string{"jan"}, wantErr: true},
		{name: "empty", in: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInts(tt.in, 1, 12)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildTargets(t *testing.T) {
	cfg := &Config{
		Project:    "p",
		Dataset:    "hw3",
		Bucket:     "trips",
		Categories: []string{"yellow,green"},
		Years:      []string{"2019", "2020"},
		Months:     []string{"1-2"},
	}

	targets, err := buildTargets(cfg)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "yellow_tripdata", targets[0].Table)
	assert.Equal(t, tripload.Green, targets[1].Category)
	require.Len(t, targets[0].Sources, 4)
	assert.Equal(t, "gs://trips/yellow_tripdata_2019-01.parquet", targets[0].Sources[0].FullPath())
	assert.Equal(t, "gs://trips/yellow_tripdata_2020-02.parquet", targets[0].Sources[3].FullPath())

	cfg.Categories = []string{"blue"}
	_, err = buildTargets(cfg)
	assert.Error(t, err)
}

func TestSingleSource(t *testing.T) {
	cfg := &Config{Categories: []string{"green"}, Years: []string{"2021"}, Months: []string{"1"}}

	s, err := singleSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "green_tripdata_2021-01.parquet", s.Name())

	cfg.Months = []string{"1-2"}
	_, err = singleSource(cfg)
	assert.Error(t, err)
}

func TestLoadConfig_pgloadDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil, commandDefaults["pgload"])
	require.NoError(t, err)

	s, err := singleSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "yellow_tripdata_2021-01.parquet", s.Name())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringSlice("category", nil, "")
	require.NoError(t, flags.Parse([]string{"--category=green"}))

	cfg, err = loadConfig("", flags, commandDefaults["pgload"])
	require.NoError(t, err)

	s, err = singleSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "green_tripdata_2021-01.parquet", s.Name())
}

func TestCategories_dedup(t *testing.T) {
	cfg := &Config{Categories: []string{"yellow,green", "Yellow", "green"}}

	cats, err := cfg.categories()
	require.NoError(t, err)
	assert.Equal(t, []tripload.Category{tripload.Yellow, tripload.Green}, cats)

	targets, err := buildTargets(&Config{
		Bucket:     "trips",
		Categories: []string{"yellow", "yellow"},
		Years:      []string{"2019"},
		Months:     []string{"1"},
	})
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

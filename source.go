package tripload

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// Category is a taxi category. Each category has its own canonical schema.
type Category int

const (
	// Yellow is the yellow taxi category (tpep_* records).
	Yellow Category = iota + 1

	// Green is the green taxi category (lpep_* records).
	Green
)

// Categories lists all known categories in enumeration order.
var Categories = []Category{Yellow, Green}

func (c Category) String() string {
	switch c {
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// ParseCategory parses a category name such as "yellow".
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yellow":
		return Yellow, nil
	case "green":
		return Green, nil
	default:
		return 0, xerrors.Errorf("unknown taxi category: %q", s)
	}
}

// Source is a monthly trip record file.
type Source struct {
	Category Category
	Year     int
	Month    int

	// Bucket is the Cloud Storage bucket holding the file.
	Bucket string
}

// Name returns the object name like "yellow_tripdata_2019-01.parquet".
func (s Source) Name() string {
	return fmt.Sprintf("%s_tripdata_%04d-%02d.parquet", s.Category, s.Year, s.Month)
}

// FullPath returns full path of storage object beginning with gs://.
func (s Source) FullPath() string {
	return fmt.Sprintf("gs://%s/%s", s.Bucket, s.Name())
}

// StagingName returns the deterministic name of the staging relation for s.
func (s Source) StagingName() string {
	return fmt.Sprintf("_stage_%s_%04d_%02d", s.Category, s.Year, s.Month)
}

// Sources enumerates sources of a category ordered by year then month.
func Sources(bucket string, c Category, years, months []int) []Source {
	ys := append([]int(nil), years...)
	ms := append([]int(nil), months...)
	sort.Ints(ys)
	sort.Ints(ms)

	srcs := make([]Source, 0, len(ys)*len(ms))
	for _, y := range ys {
		for _, m := range ms {
			srcs = append(srcs, Source{Category: c, Year: y, Month: m, Bucket: bucket})
		}
	}

	return srcs
}

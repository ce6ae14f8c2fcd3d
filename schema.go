package tripload

import (
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"golang.org/x/xerrors"
)

// ColumnType is a canonical column type.
type ColumnType int

const (
	Int64 ColumnType = iota + 1
	Float64
	String
	Timestamp
)

// SQL returns the GoogleSQL type name.
func (t ColumnType) SQL() string {
	switch t {
	case Int64:
		return "INT64"
	case Float64:
		return "FLOAT64"
	case String:
		return "STRING"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

func (t ColumnType) String() string { return t.SQL() }

// FieldType returns the type reported by BigQuery table metadata.
func (t ColumnType) FieldType() bigquery.FieldType {
	switch t {
	case Int64:
		return bigquery.IntegerFieldType
	case Float64:
		return bigquery.FloatFieldType
	case String:
		return bigquery.StringFieldType
	case Timestamp:
		return bigquery.TimestampFieldType
	default:
		return ""
	}
}

// Postgres returns the PostgreSQL column type.
func (t ColumnType) Postgres() string {
	switch t {
	case Int64:
		return "BIGINT"
	case Float64:
		return "DOUBLE PRECISION"
	case String:
		return "TEXT"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return ""
	}
}

// Coerce converts a single decoded value into the Go representation of t.
// nil stays nil. Coerce(Coerce(v)) == Coerce(v) for every accepted v.
func (t ColumnType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case Int64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint64:
			if n > math.MaxInt64 {
				return nil, xerrors.Errorf("%d overflows INT64", n)
			}
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, xerrors.Errorf("%v is not an integral value", n)
			}
			return int64(n), nil
		case float32:
			return Int64.Coerce(float64(n))
		}
	case Float64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int16:
			return float64(n), nil
		case int8:
			return float64(n), nil
		case int:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case uint32:
			return float64(n), nil
		case uint16:
			return float64(n), nil
		case uint8:
			return float64(n), nil
		}
	case String:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case Timestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	}

	return nil, xerrors.Errorf("cannot coerce %T to %s", v, t)
}

// CastKind tells how a source column is coerced into its canonical type.
type CastKind int

const (
	// Widen casts numerics whose physical width varies across files to FLOAT64.
	Widen CastKind = iota + 1

	// Fixed casts identifier columns to INT64.
	Fixed

	// Passthrough keeps flag, text and timestamp columns as they are.
	Passthrough
)

// Column is a canonical column.
type Column struct {
	Name   string
	Type   ColumnType
	Source string
	Cast   CastKind
}

// Expr returns the projection expression for the column, aliased to its
// canonical name.
func (c Column) Expr() string {
	if c.Cast == Passthrough {
		return fmt.Sprintf("%s AS %s", c.Source, c.Name)
	}
	return fmt.Sprintf("CAST(%s AS %s) AS %s", c.Source, c.Type.SQL(), c.Name)
}

// CastRule is a (canonical name, cast expression, source name) triple.
type CastRule struct {
	Name   string
	Expr   string
	Source string
}

// Schema is the canonical schema of a category.
type Schema struct {
	Category Category
	Columns  []Column
}

// CastRules returns cast rules in column order.
func (s *Schema) CastRules() []CastRule {
	rules := make([]CastRule, len(s.Columns))
	for i, c := range s.Columns {
		rules[i] = CastRule{Name: c.Name, Expr: c.Expr(), Source: c.Source}
	}
	return rules
}

// SelectList renders the projection list used by both materialization paths.
func (s *Schema) SelectList() string {
	exprs := make([]string, len(s.Columns))
	for i, r := range s.CastRules() {
		exprs[i] = r.Expr
	}
	return strings.Join(exprs, ",\n  ")
}

// Column returns the named canonical column.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// BigQuery returns the expected BigQuery schema of a target table.
func (s *Schema) BigQuery() bigquery.Schema {
	bs := make(bigquery.Schema, len(s.Columns))
	for i, c := range s.Columns {
		bs[i] = &bigquery.FieldSchema{Name: c.Name, Type: c.Type.FieldType()}
	}
	return bs
}

func col(name string, t ColumnType, k CastKind) Column {
	return Column{Name: name, Type: t, Source: name, Cast: k}
}

var yellowSchema = &Schema{
	Category: Yellow,
	Columns: []Column{
		col("VendorID", Int64, Fixed),
		col("tpep_pickup_datetime", Timestamp, Passthrough),
		col("tpep_dropoff_datetime", Timestamp, Passthrough),
		col("passenger_count", Float64, Widen),
		col("trip_distance", Float64, Widen),
		col("RatecodeID", Float64, Widen),
		col("store_and_fwd_flag", String, Passthrough),
		col("PULocationID", Int64, Fixed),
		col("DOLocationID", Int64, Fixed),
		col("payment_type", Float64, Widen),
		col("fare_amount", Float64, Widen),
		col("extra", Float64, Widen),
		col("mta_tax", Float64, Widen),
		col("tip_amount", Float64, Widen),
		col("tolls_amount", Float64, Widen),
		col("improvement_surcharge", Float64, Widen),
		col("total_amount", Float64, Widen),
		col("congestion_surcharge", Float64, Widen),
		col("airport_fee", Float64, Widen),
	},
}

var greenSchema = &Schema{
	Category: Green,
	Columns: []Column{
		col("VendorID", Int64, Fixed),
		col("lpep_pickup_datetime", Timestamp, Passthrough),
		col("lpep_dropoff_datetime", Timestamp, Passthrough),
		col("store_and_fwd_flag", String, Passthrough),
		col("RatecodeID", Float64, Widen),
		col("PULocationID", Int64, Fixed),
		col("DOLocationID", Int64, Fixed),
		col("passenger_count", Float64, Widen),
		col("trip_distance", Float64, Widen),
		col("fare_amount", Float64, Widen),
		col("extra", Float64, Widen),
		col("mta_tax", Float64, Widen),
		col("tip_amount", Float64, Widen),
		col("tolls_amount", Float64, Widen),
		col("ehail_fee", Float64, Widen),
		col("improvement_surcharge", Float64, Widen),
		col("total_amount", Float64, Widen),
		col("payment_type", Float64, Widen),
		col("trip_type", Float64, Widen),
		col("congestion_surcharge", Float64, Widen),
	},
}

// Schema returns the canonical schema of the category.
func (c Category) Schema() (*Schema, error) {
	switch c {
	case Yellow:
		return yellowSchema, nil
	case Green:
		return greenSchema, nil
	default:
		return nil, xerrors.Errorf("no schema for %s", c)
	}
}

// MustSchema is like Schema but panics on unknown categories.
func (c Category) MustSchema() *Schema {
	s, err := c.Schema()
	if err != nil {
		panic(err)
	}
	return s
}

package tripload

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"golang.org/x/xerrors"
)

var (
	// ErrTypeConflict is reported by an Engine when source files store the
	// same column with physical types the engine cannot reconcile.
	ErrTypeConflict = xerrors.New("incompatible column types across source files")

	// ErrSourceNotFound is reported when a source file does not exist.
	ErrSourceNotFound = xerrors.New("source file not found")
)

// TableID identifies a BigQuery table.
type TableID struct {
	Project string
	Dataset string
	Table   string
}

func (t TableID) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// Quoted returns the identifier quoted for GoogleSQL.
func (t TableID) Quoted() string {
	return "`" + t.String() + "`"
}

// TableMetadata is what materialization reads back from a table.
type TableMetadata struct {
	Schema   bigquery.Schema
	NumRows  uint64
	NumBytes int64
}

// Projection selects every source table through the canonical cast rules
// and concatenates the results in order.
type Projection struct {
	Schema *Schema
	From   []TableID
}

// SQL renders the projection as a UNION ALL query.
func (p *Projection) SQL() string {
	selects := make([]string, len(p.From))
	list := p.Schema.SelectList()
	for i, t := range p.From {
		selects[i] = fmt.Sprintf("SELECT\n  %s\nFROM %s", list, t.Quoted())
	}
	return strings.Join(selects, "\nUNION ALL\n")
}

// Engine is the analytical store materialization runs against.
type Engine interface {
	// Load replaces dst with all rows of uris in one bulk load, relying on
	// the engine's own type coercion.
	Load(ctx context.Context, dst TableID, uris []string) error

	// Stage creates or replaces an external table backed by exactly one file.
	Stage(ctx context.Context, dst TableID, uri string) error

	// Materialize creates or replaces dst with the result of p atomically.
	Materialize(ctx context.Context, dst TableID, p *Projection) error

	// Drop deletes t. Dropping a missing table succeeds.
	Drop(ctx context.Context, t TableID) error

	// Metadata reads the schema and size of t.
	Metadata(ctx context.Context, t TableID) (*TableMetadata, error)
}

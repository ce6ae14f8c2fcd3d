package tripload

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"golang.org/x/xerrors"
)

type fakeColumn struct {
	name     string
	physical string
}

type fakeFile struct {
	columns []fakeColumn
	rows    uint64
}

type fakeTable struct {
	schema   bigquery.Schema
	rows     uint64
	external bool
}

// fakeEngine is an in-memory Engine. Tables are keyed by TableID.String().
type fakeEngine struct {
	mu sync.Mutex

	files  map[string]fakeFile
	tables map[string]*fakeTable

	// forceConflict makes Load report a type conflict regardless of files.
	forceConflict  bool
	loadErr        error
	stageErr       map[string]error
	materializeErr error
	dropErr        map[string]error

	// afterStage runs after each successful Stage with the number staged so far.
	afterStage func(staged int)

	staged      int
	calls       []string
	projections []*Projection
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		files:    map[string]fakeFile{},
		tables:   map[string]*fakeTable{},
		stageErr: map[string]error{},
		dropErr:  map[string]error{},
	}
}

func physicalFieldType(p string) bigquery.FieldType {
	switch p {
	case "INT32", "INT64":
		return bigquery.IntegerFieldType
	case "FLOAT", "DOUBLE":
		return bigquery.FloatFieldType
	case "TIMESTAMP":
		return bigquery.TimestampFieldType
	default:
		return bigquery.StringFieldType
	}
}

func (f fakeFile) schema() bigquery.Schema {
	s := make(bigquery.Schema, len(f.columns))
	for i, c := range f.columns {
		s[i] = &bigquery.FieldSchema{Name: c.name, Type: physicalFieldType(c.physical)}
	}
	return s
}

func (e *fakeEngine) record(format string, args ...any) {
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

func (e *fakeEngine) Load(_ context.Context, dst TableID, uris []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("load %s", dst)

	if e.loadErr != nil {
		return e.loadErr
	}
	if e.forceConflict {
		return xerrors.Errorf("forced: %w", ErrTypeConflict)
	}

	types := map[string]string{}
	var (
		rows  uint64
		first fakeFile
	)
	for i, u := range uris {
		f, ok := e.files[u]
		if !ok {
			return xerrors.Errorf("%s: %w", u, ErrSourceNotFound)
		}
		if i == 0 {
			first = f
		}
		for _, c := range f.columns {
			if t, ok := types[c.name]; ok && t != c.physical {
				return xerrors.Errorf("column %s has %s and %s: %w", c.name, t, c.physical, ErrTypeConflict)
			}
			types[c.name] = c.physical
		}
		rows += f.rows
	}

	e.tables[dst.String()] = &fakeTable{schema: first.schema(), rows: rows}

	return nil
}

func (e *fakeEngine) Stage(ctx context.Context, dst TableID, uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("stage %s %s", dst, uri)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.stageErr[uri]; err != nil {
		return err
	}

	f, ok := e.files[uri]
	if !ok {
		return xerrors.Errorf("%s: %w", uri, ErrSourceNotFound)
	}

	e.tables[dst.String()] = &fakeTable{schema: f.schema(), rows: f.rows, external: true}

	e.staged++
	if e.afterStage != nil {
		e.afterStage(e.staged)
	}

	return nil
}

func (e *fakeEngine) Materialize(ctx context.Context, dst TableID, p *Projection) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("materialize %s", dst)
	e.projections = append(e.projections, p)

	if err := ctx.Err(); err != nil {
		return err
	}

	if e.materializeErr != nil {
		return e.materializeErr
	}

	var rows uint64
	for _, from := range p.From {
		t, ok := e.tables[from.String()]
		if !ok {
			return xerrors.Errorf("table %s not found", from)
		}
		for _, c := range p.Schema.Columns {
			if !hasField(t.schema, c.Source) {
				return xerrors.Errorf("unrecognized name %s in %s", c.Source, from)
			}
		}
		rows += t.rows
	}

	e.tables[dst.String()] = &fakeTable{schema: p.Schema.BigQuery(), rows: rows}

	return nil
}

func (e *fakeEngine) Drop(ctx context.Context, t TableID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("drop %s", t)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.dropErr[t.String()]; err != nil {
		return err
	}
	delete(e.tables, t.String())

	return nil
}

func (e *fakeEngine) Metadata(ctx context.Context, t TableID) (*TableMetadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tbl, ok := e.tables[t.String()]
	if !ok {
		return nil, xerrors.Errorf("table %s not found", t)
	}

	return &TableMetadata{Schema: tbl.schema, NumRows: tbl.rows, NumBytes: int64(tbl.rows) * 100}, nil
}

func (e *fakeEngine) count(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for name := range e.tables {
		if strings.Contains(name, "."+prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) called(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for _, c := range e.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func hasField(s bigquery.Schema, name string) bool {
	for _, f := range s {
		if f.Name == name {
			return true
		}
	}
	return false
}

// tripFile builds a file carrying every column of c's canonical schema with
// a plausible physical type. overrides replaces physical types by column.
func tripFile(c Category, rows uint64, overrides map[string]string) fakeFile {
	var cols []fakeColumn
	for _, col := range c.MustSchema().Columns {
		p := "DOUBLE"
		switch col.Type {
		case Int64:
			p = "INT64"
		case String:
			p = "BYTE_ARRAY"
		case Timestamp:
			p = "TIMESTAMP"
		}
		if o, ok := overrides[col.Name]; ok {
			p = o
		}
		cols = append(cols, fakeColumn{name: col.Name, physical: p})
	}
	return fakeFile{columns: cols, rows: rows}
}

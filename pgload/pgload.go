// Package pgload loads a single trip file into a PostgreSQL table shaped by
// the canonical schema of its category.
package pgload

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"go.nownabe.dev/tripload"
	"go.nownabe.dev/tripload/tripfile"
)

// DefaultChunkSize is the number of rows sent per COPY.
const DefaultChunkSize = 100000

// DB begins transactions. *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Source yields Arrow record batches. *tripfile.File satisfies it.
type Source interface {
	Records(ctx context.Context, batchSize int64, fn func(arrow.Record) error) error
}

// Loader replaces PostgreSQL tables with the contents of trip files.
type Loader struct {
	db        DB
	chunkSize int64
}

// Option configures Loader.
type Option func(*Loader)

// WithChunkSize sets the number of rows per COPY.
func WithChunkSize(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

// New returns a Loader writing through db.
func New(db DB, opts ...Option) *Loader {
	l := &Loader{db: db, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load drops and recreates table with the canonical schema of c and copies
// every row of src into it in one transaction. It returns the number of
// copied rows. On error the previous table is left untouched.
func (l *Loader) Load(ctx context.Context, table string, c tripload.Category, src Source) (int64, error) {
	schema, err := c.Schema()
	if err != nil {
		return 0, xerrors.Errorf("failed to get schema: %w", err)
	}

	ident := Identifier(table)
	logger := log.Ctx(ctx).With().Str("table", table).Str("category", c.String()).Logger()

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return 0, xerrors.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// no-op after commit
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
		return 0, xerrors.Errorf("failed to drop %s: %w", table, err)
	}

	if _, err := tx.Exec(ctx, CreateTableSQL(ident, schema)); err != nil {
		return 0, xerrors.Errorf("failed to create %s: %w", table, err)
	}

	names := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		names[i] = col.Name
	}

	var total int64
	err = src.Records(ctx, l.chunkSize, func(rec arrow.Record) error {
		rows, err := Rows(rec, schema)
		if err != nil {
			return err
		}

		n, err := tx.CopyFrom(ctx, ident, names, pgx.CopyFromRows(rows))
		if err != nil {
			return xerrors.Errorf("failed to copy rows into %s: %w", table, err)
		}
		total += n

		logger.Debug().Int64("rows", n).Int64("total", total).Msg("copied chunk")
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("failed to load %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, xerrors.Errorf("failed to commit: %w", err)
	}

	logger.Info().Int64("rows", total).Msg("table loaded")

	return total, nil
}

// Identifier splits "schema.table" into a pgx.Identifier.
func Identifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// CreateTableSQL returns the CREATE TABLE statement for schema.
func CreateTableSQL(ident pgx.Identifier, schema *tripload.Schema) string {
	defs := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		defs[i] = fmt.Sprintf("%s %s", pgx.Identifier{col.Name}.Sanitize(), col.Type.Postgres())
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", ident.Sanitize(), strings.Join(defs, ",\n  "))
}

// Rows converts rec into COPY rows ordered by the canonical columns.
// Columns missing from rec are NULL.
func Rows(rec arrow.Record, schema *tripload.Schema) ([][]any, error) {
	idx := make([]int, len(schema.Columns))
	for i, col := range schema.Columns {
		idx[i] = -1
		if found := rec.Schema().FieldIndices(col.Source); len(found) > 0 {
			idx[i] = found[0]
		}
	}

	rows := make([][]any, rec.NumRows())
	for r := range rows {
		row := make([]any, len(schema.Columns))
		for i, col := range schema.Columns {
			if idx[i] < 0 {
				continue
			}

			v, err := tripfile.Value(rec.Column(idx[i]), r)
			if err != nil {
				return nil, xerrors.Errorf("failed to read %s at row %d: %w", col.Source, r, err)
			}

			row[i], err = col.Type.Coerce(v)
			if err != nil {
				return nil, xerrors.Errorf("failed to coerce %s at row %d: %w", col.Name, r, err)
			}
		}
		rows[r] = row
	}

	return rows, nil
}

// Package tripfile reads trip record Parquet files from Cloud Storage, HTTP
// or the local filesystem.
package tripfile

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// DefaultBatchSize is the number of rows per record batch.
const DefaultBatchSize = 64 * 1024

// Opener fetches files by URI.
type Opener struct {
	// Storage is used for gs:// URIs.
	Storage *storage.Client

	// HTTPClient is used for http(s):// URIs. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Open fetches and opens the file at uri.
func (o *Opener) Open(ctx context.Context, uri string) (*File, error) {
	b, err := o.fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Debug().Str("uri", uri).Int("bytes", len(b)).Msg("fetched file")

	return Read(uri, b)
}

func (o *Opener) fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse %s: %w", uri, err)
	}

	switch u.Scheme {
	case "gs":
		if o.Storage == nil {
			return nil, xerrors.Errorf("no storage client to read %s", uri)
		}
		r, err := o.Storage.Bucket(u.Host).Object(strings.TrimPrefix(u.Path, "/")).NewReader(ctx)
		if err != nil {
			return nil, xerrors.Errorf("failed to get reader of %s: %w", uri, err)
		}
		defer r.Close()
		return readAll(uri, r)

	case "http", "https":
		c := o.HTTPClient
		if c == nil {
			c = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, xerrors.Errorf("failed to build http request: %w", err)
		}
		resp, err := c.Do(req)
		if err != nil {
			return nil, xerrors.Errorf("failed to download %s: %w", uri, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, xerrors.Errorf("failed to download %s: status %d", uri, resp.StatusCode)
		}
		return readAll(uri, resp.Body)

	default:
		b, err := os.ReadFile(uri)
		if err != nil {
			return nil, xerrors.Errorf("failed to read %s: %w", uri, err)
		}
		return b, nil
	}
}

func readAll(uri string, r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", uri, err)
	}
	return b, nil
}

// Column is a physical column of a Parquet file.
type Column struct {
	Name     string
	Physical string
	Logical  string
}

// File is an opened Parquet file held in memory.
type File struct {
	URI string

	reader *file.Reader
}

// Read opens Parquet bytes. Parquet needs random access, so the whole
// file is kept in memory.
func Read(uri string, b []byte) (*File, error) {
	if len(b) == 0 {
		return nil, xerrors.Errorf("%s is empty", uri)
	}

	r, err := file.NewParquetReader(bytes.NewReader(b))
	if err != nil {
		return nil, xerrors.Errorf("failed to open parquet file %s: %w", uri, err)
	}

	return &File{URI: uri, reader: r}, nil
}

// Close releases the underlying reader.
func (f *File) Close() error {
	return f.reader.Close()
}

// NumRows returns the total number of rows.
func (f *File) NumRows() int64 {
	return f.reader.NumRows()
}

// Columns returns the physical schema stored in the file footer.
func (f *File) Columns() []Column {
	s := f.reader.MetaData().Schema
	cols := make([]Column, s.NumColumns())
	for i := range cols {
		c := s.Column(i)
		cols[i] = Column{
			Name:     c.Name(),
			Physical: c.PhysicalType().String(),
			Logical:  c.LogicalType().String(),
		}
	}
	return cols
}

// Records calls fn for every record batch of at most batchSize rows.
// Records passed to fn are released after fn returns.
func (f *File) Records(ctx context.Context, batchSize int64, fn func(arrow.Record) error) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	fr, err := pqarrow.NewFileReader(f.reader, pqarrow.ArrowReadProperties{BatchSize: batchSize}, memory.DefaultAllocator)
	if err != nil {
		return xerrors.Errorf("failed to create arrow reader for %s: %w", f.URI, err)
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return xerrors.Errorf("failed to read table from %s: %w", f.URI, err)
	}
	defer tbl.Release()

	tr := array.NewTableReader(tbl, batchSize)
	defer tr.Release()

	for tr.Next() {
		if err := fn(tr.Record()); err != nil {
			return err
		}
	}

	return nil
}

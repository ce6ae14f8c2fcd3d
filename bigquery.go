package tripload

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var conflictRE = regexp.MustCompile(
	`(?i)(does not match the target|has changed type|incompatible types?|type mismatch|cannot be converted)`)

var notFoundRE = regexp.MustCompile(`(?i)^not found: (uri|files?)`)

// BigQueryEngine runs materialization statements as BigQuery query jobs.
type BigQueryEngine struct {
	client *bigquery.Client
}

// NewBigQueryEngine builds an engine billing jobs to project.
// Close() must be called after you have finished using the engine.
func NewBigQueryEngine(ctx context.Context, project string, opts ...option.ClientOption) (*BigQueryEngine, error) {
	bq, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to build bigquery client for %s: %w", project, err)
	}

	return &BigQueryEngine{client: bq}, nil
}

// Close releases any resources held by the engine.
func (e *BigQueryEngine) Close() error {
	return e.client.Close()
}

// Load implements Engine.
func (e *BigQueryEngine) Load(ctx context.Context, dst TableID, uris []string) error {
	quoted := make([]string, len(uris))
	for i, u := range uris {
		quoted[i] = quoteString(u)
	}

	sql := fmt.Sprintf(`LOAD DATA OVERWRITE %s
FROM FILES (
  format = 'PARQUET',
  uris = [%s],
  enable_logical_types = true
)`, dst.Quoted(), strings.Join(quoted, ", "))

	return e.run(ctx, sql)
}

// Stage implements Engine.
func (e *BigQueryEngine) Stage(ctx context.Context, dst TableID, uri string) error {
	sql := fmt.Sprintf(`CREATE OR REPLACE EXTERNAL TABLE %s
OPTIONS (format = 'PARQUET', uris = [%s])`, dst.Quoted(), quoteString(uri))

	return e.run(ctx, sql)
}

// Materialize implements Engine.
func (e *BigQueryEngine) Materialize(ctx context.Context, dst TableID, p *Projection) error {
	sql := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS\n%s", dst.Quoted(), p.SQL())
	return e.run(ctx, sql)
}

// Drop implements Engine.
func (e *BigQueryEngine) Drop(ctx context.Context, t TableID) error {
	err := e.table(t).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return xerrors.Errorf("failed to delete %s: %w", t, err)
	}
	return nil
}

// Metadata implements Engine.
func (e *BigQueryEngine) Metadata(ctx context.Context, t TableID) (*TableMetadata, error) {
	md, err := e.table(t).Metadata(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to get metadata of %s: %w", t, err)
	}

	return &TableMetadata{Schema: md.Schema, NumRows: md.NumRows, NumBytes: md.NumBytes}, nil
}

func (e *BigQueryEngine) table(t TableID) *bigquery.Table {
	return e.client.DatasetInProject(t.Project, t.Dataset).Table(t.Table)
}

func (e *BigQueryEngine) run(ctx context.Context, sql string) error {
	l := log.Ctx(ctx)
	l.Debug().Msgf("sql = %s", sql)

	job, err := e.client.Query(sql).Run(ctx)
	if err != nil {
		return classify(xerrors.Errorf("failed to run bigquery query job: %w", err), err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return classify(xerrors.Errorf("failed to wait job %s: %w", job.ID(), err), err)
	}

	if status.Err() != nil {
		l.Debug().Msgf("job %s errors = %v", job.ID(), status.Errors)
		err := xerrors.Errorf("job %s failed: %w", job.ID(), status.Err())
		for _, je := range status.Errors {
			if c := classify(err, je); c != err {
				return c
			}
		}
		return classify(err, status.Err())
	}

	return nil
}

// classify wraps err with a sentinel when cause is a known engine failure.
func classify(err error, cause error) error {
	switch {
	case isTypeConflict(cause):
		return xerrors.Errorf("%v: %w", err, ErrTypeConflict)
	case isNotFound(cause):
		return xerrors.Errorf("%v: %w", err, ErrSourceNotFound)
	default:
		return err
	}
}

func isTypeConflict(err error) bool {
	var be *bigquery.Error
	if xerrors.As(err, &be) {
		return be.Reason == "invalid" && conflictRE.MatchString(be.Message)
	}

	var ge *googleapi.Error
	if xerrors.As(err, &ge) {
		return ge.Code == http.StatusBadRequest && conflictRE.MatchString(ge.Message)
	}

	return false
}

func isNotFound(err error) bool {
	var be *bigquery.Error
	if xerrors.As(err, &be) {
		return be.Reason == "notFound" || notFoundRE.MatchString(be.Message)
	}

	var ge *googleapi.Error
	if xerrors.As(err, &ge) {
		return ge.Code == http.StatusNotFound
	}

	return false
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}

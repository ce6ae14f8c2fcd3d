package tripload

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Path is the materialization path that produced a table.
type Path int

const (
	// FastPath is the single bulk load.
	FastPath Path = iota + 1

	// FallbackPath is per-file staging followed by concatenation.
	FallbackPath
)

func (p Path) String() string {
	switch p {
	case FastPath:
		return "fast"
	case FallbackPath:
		return "fallback"
	default:
		return "none"
	}
}

// Stage names the step a materialization failed in.
type Stage string

const (
	StagePreflight   Stage = "preflight"
	StageLoad        Stage = "load"
	StagePromote     Stage = "promote"
	StageStage       Stage = "stage"
	StageConcatenate Stage = "concatenate"
	StageVerify      Stage = "verify"
)

// MaterializeError is a fatal materialization error with the table, stage
// and source file it happened on.
type MaterializeError struct {
	Table  TableID
	Stage  Stage
	Source string
	Err    error

	// Replaced is set when the target already holds the new rows, so its
	// prior state is gone.
	Replaced bool
}

func (e *MaterializeError) Error() string {
	var msg string
	if e.Source == "" {
		msg = fmt.Sprintf("%s: %s failed: %v", e.Table, e.Stage, e.Err)
	} else {
		msg = fmt.Sprintf("%s: %s of %s failed: %v", e.Table, e.Stage, e.Source, e.Err)
	}
	if e.Replaced {
		msg += " (table was already replaced)"
	}
	return msg
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}

type outcome int

const (
	outcomeLoaded outcome = iota + 1
	outcomeConflict
)

const scratchPrefix = "_load_"

type materializer struct {
	engine      Engine
	verifier    SourceVerifier
	concurrency int
}

// run materializes t and returns the path that produced the table.
func (m *materializer) run(ctx context.Context, t *Target) (Path, *TableMetadata, error) {
	l := log.Ctx(ctx)

	schema, err := t.Category.Schema()
	if err != nil {
		return 0, nil, xerrors.Errorf("failed to resolve schema of %s: %w", t.Name, err)
	}

	if err := m.preflight(ctx, t); err != nil {
		return 0, nil, err
	}

	path := FastPath
	o, err := m.fastPath(ctx, t, schema)
	if err != nil {
		return 0, nil, err
	}

	if o == outcomeConflict {
		l.Warn().Msg("fast path hit a type conflict, falling back to per-file staging")
		path = FallbackPath
		if err := m.fallback(ctx, t, schema); err != nil {
			return FallbackPath, nil, err
		}
	}

	md, err := m.verify(ctx, t, schema)
	if err != nil {
		return path, nil, err
	}

	return path, md, nil
}

func (m *materializer) preflight(ctx context.Context, t *Target) error {
	if m.verifier == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, src := range t.Sources {
		g.Go(func() error {
			if err := m.verifier.Verify(gctx, src); err != nil {
				return &MaterializeError{Table: t.id(), Stage: StagePreflight, Source: src.FullPath(), Err: err}
			}
			return nil
		})
	}

	return g.Wait()
}

// fastPath bulk loads every source into a scratch table and promotes it into
// the target. The target is untouched unless the load succeeded.
func (m *materializer) fastPath(ctx context.Context, t *Target, schema *Schema) (outcome, error) {
	l := log.Ctx(ctx)
	dst := t.id()
	scratch := t.stagingID(scratchPrefix + t.Table)
	defer m.cleanup(ctx, []TableID{scratch})

	l.Info().Int("sources", len(t.Sources)).Msg("loading all sources in one job")

	if err := m.engine.Load(ctx, scratch, t.uris()); err != nil {
		if xerrors.Is(err, ErrTypeConflict) {
			l.Debug().Msgf("load error = %v", err)
			return outcomeConflict, nil
		}
		return 0, &MaterializeError{Table: dst, Stage: StageLoad, Source: missingSource(t, err), Err: err}
	}

	p := &Projection{Schema: schema, From: []TableID{scratch}}
	if err := m.engine.Materialize(context.WithoutCancel(ctx), dst, p); err != nil {
		return 0, &MaterializeError{Table: dst, Stage: StagePromote, Err: err}
	}

	return outcomeLoaded, nil
}

// missingSource returns the source a not-found load error names, if any.
func missingSource(t *Target, err error) string {
	if !xerrors.Is(err, ErrSourceNotFound) {
		return ""
	}
	msg := err.Error()
	for _, src := range t.Sources {
		if strings.Contains(msg, src.FullPath()) {
			return src.FullPath()
		}
	}
	return ""
}

// fallback stages one external table per source, then concatenates all of
// them through the cast rules in a single create-as-select.
func (m *materializer) fallback(ctx context.Context, t *Target, schema *Schema) error {
	l := log.Ctx(ctx)
	dst := t.id()

	staged := make([]TableID, len(t.Sources))
	for i, src := range t.Sources {
		staged[i] = t.stagingID(src.StagingName())
	}
	defer m.cleanup(ctx, staged)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for i, src := range t.Sources {
		g.Go(func() error {
			l.Info().Str("source", src.FullPath()).Msgf("staging %04d-%02d", src.Year, src.Month)
			if err := m.engine.Stage(gctx, staged[i], src.FullPath()); err != nil {
				return &MaterializeError{Table: dst, Stage: StageStage, Source: src.FullPath(), Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	l.Info().Int("sources", len(staged)).Msg("creating table from staged sources")

	// Once submitted, the final query runs to completion or failure.
	p := &Projection{Schema: schema, From: staged}
	if err := m.engine.Materialize(context.WithoutCancel(ctx), dst, p); err != nil {
		return &MaterializeError{Table: dst, Stage: StageConcatenate, Err: err}
	}

	return nil
}

// cleanup drops every table independently, even after ctx is canceled.
// Failures are logged only.
func (m *materializer) cleanup(ctx context.Context, tables []TableID) {
	l := log.Ctx(ctx)
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, t := range tables {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.engine.Drop(ctx, t); err != nil {
				l.Warn().Err(err).Str("relation", t.String()).Msg("failed to drop staging relation")
			}
		}()
	}
	wg.Wait()
}

// verify reads back the target after it was replaced. It runs after the
// commit point, so it ignores cancellation and its errors are marked
// Replaced.
func (m *materializer) verify(ctx context.Context, t *Target, schema *Schema) (*TableMetadata, error) {
	md, err := m.engine.Metadata(context.WithoutCancel(ctx), t.id())
	if err != nil {
		return nil, &MaterializeError{Table: t.id(), Stage: StageVerify, Err: err, Replaced: true}
	}

	want := schema.BigQuery()
	if len(md.Schema) != len(want) {
		return nil, &MaterializeError{Table: t.id(), Stage: StageVerify, Replaced: true,
			Err: xerrors.Errorf("table has %d columns, want %d", len(md.Schema), len(want))}
	}

	for i, f := range md.Schema {
		if f.Name != want[i].Name || f.Type != want[i].Type {
			return nil, &MaterializeError{Table: t.id(), Stage: StageVerify, Replaced: true,
				Err: xerrors.Errorf("column %d is %s %s, want %s %s", i, f.Name, f.Type, want[i].Name, want[i].Type)}
		}
	}

	return md, nil
}

package tripload

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/xerrors"
)

const defaultConcurrency = 4

// Loader materializes trip record tables from Cloud Storage into BigQuery.
type Loader interface {
	AddTarget(context.Context, *Target) error
	MustAddTarget(context.Context, *Target)
	Run(context.Context) ([]*Result, error)
	Close() error
}

// New build a new Loader.
func New(opts ...Option) (Loader, error) {
	l := &loader{
		targets:     []*Target{},
		mu:          sync.RWMutex{},
		concurrency: defaultConcurrency,
		logLevel:    zerolog.InfoLevel,
	}

	for _, o := range opts {
		if err := o.apply(l); err != nil {
			return nil, xerrors.Errorf("failed to apply option: %w", err)
		}
	}

	var w = zerolog.New(os.Stderr)
	if l.prettyLogging {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	l.logger = w.Level(l.logLevel).With().Timestamp().Logger()

	return l, nil
}

type loader struct {
	targets []*Target
	mu      sync.RWMutex

	engine   Engine
	verifier SourceVerifier
	notifier Notifier
	owned    []*BigQueryEngine

	concurrency   int
	logLevel      zerolog.Level
	prettyLogging bool
	logger        zerolog.Logger
}

func (l *loader) AddTarget(ctx context.Context, t *Target) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := t.Category.Schema(); err != nil {
		return xerrors.Errorf("invalid target %s: %w", t.Name, err)
	}

	if len(t.Sources) == 0 {
		return xerrors.Errorf("target %s has no sources", t.Name)
	}

	if t.engine == nil {
		t.engine = l.engine
	}

	if t.engine == nil {
		e, err := NewBigQueryEngine(ctx, t.Project)
		if err != nil {
			return err
		}
		l.owned = append(l.owned, e)
		t.engine = e
	}

	l.targets = append(l.targets, t)

	return nil
}

func (l *loader) MustAddTarget(ctx context.Context, t *Target) {
	if err := l.AddTarget(ctx, t); err != nil {
		panic(err)
	}
}

// Run materializes every target concurrently. Targets share no state, so a
// failing target does not stop the others. The returned error is the first
// target error in registration order.
func (l *loader) Run(ctx context.Context) ([]*Result, error) {
	l.mu.RLock()
	targets := append([]*Target(nil), l.targets...)
	l.mu.RUnlock()

	ctx = l.logger.WithContext(ctx)
	log := zerolog.Ctx(ctx)
	log.Info().Msg("loader started")
	defer log.Info().Msg("loader finished")

	results := make([]*Result, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = l.materialize(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Error != nil {
			return results, r.Error
		}
	}

	return results, nil
}

func (l *loader) materialize(ctx context.Context, t *Target) *Result {
	ctx = withRun(ctx)
	log := zerolog.Ctx(ctx).With().
		Str("target", t.Name).
		Str("table", t.id().String()).
		Str("category", t.Category.String()).
		Logger()
	ctx = log.WithContext(ctx)

	m := &materializer{engine: t.engine, verifier: l.verifier, concurrency: l.concurrency}
	path, md, err := m.run(ctx, t)

	r := &Result{Target: t, Path: path, Error: err, Duration: elapsed(ctx)}
	if md != nil {
		r.NumRows = md.NumRows
		r.NumBytes = md.NumBytes
	}

	if err != nil {
		log.Error().Err(err).Stringer("path", path).Msg("materialization failed")
	} else {
		p := message.NewPrinter(language.English)
		log.Info().Stringer("path", path).Msg(p.Sprintf(
			"table created: %d rows, %.2f MB in %s", r.NumRows, float64(r.NumBytes)/(1024*1024), r.Duration.Round(time.Millisecond)))
	}

	n := t.Notifier
	if n == nil {
		n = l.notifier
	}
	if n != nil {
		if err := n.Notify(ctx, r); err != nil {
			log.Error().Err(err).Msg("failed to notify")
		}
	}

	return r
}

func (l *loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for _, e := range l.owned {
		if err := e.Close(); err != nil && first == nil {
			first = xerrors.Errorf("failed to close engine: %w", err)
		}
	}
	l.owned = nil

	return first
}

package tripload

import (
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Option configures Loader.
type Option interface {
	apply(*loader) error
}

type optionFunc func(*loader) error

func (f optionFunc) apply(l *loader) error {
	return f(l)
}

// WithPrettyLogging configures Loader to print human friendly logs.
func WithPrettyLogging() Option {
	return optionFunc(func(l *loader) error {
		l.prettyLogging = true
		return nil
	})
}

// WithLogLevel configures log level of Loader such as "debug" or "info".
func WithLogLevel(level string) Option {
	return optionFunc(func(l *loader) error {
		lv, err := zerolog.ParseLevel(level)
		if err != nil {
			return xerrors.Errorf("failed to parse log level %q: %w", level, err)
		}
		l.logLevel = lv
		return nil
	})
}

// WithConcurrency limits concurrent staging and preflight requests per target.
func WithConcurrency(n int) Option {
	return optionFunc(func(l *loader) error {
		if n < 1 {
			return xerrors.Errorf("concurrency must be positive: %d", n)
		}
		l.concurrency = n
		return nil
	})
}

// WithEngine shares one Engine between all targets.
func WithEngine(e Engine) Option {
	return optionFunc(func(l *loader) error {
		l.engine = e
		return nil
	})
}

// WithSourceVerifier checks every source before any engine work.
func WithSourceVerifier(v SourceVerifier) Option {
	return optionFunc(func(l *loader) error {
		l.verifier = v
		return nil
	})
}

// WithNotifier notifies results of targets without their own notifier.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(l *loader) error {
		l.notifier = n
		return nil
	})
}

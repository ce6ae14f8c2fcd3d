// Package ingest downloads TLC trip record files and uploads them to Cloud
// Storage.
package ingest

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"go.nownabe.dev/tripload"
)

// BaseURL is the TLC trip record distribution endpoint.
const BaseURL = "https://d37ci6vzurychx.cloudfront.net/trip-data/"

var errNotVerified = xerrors.New("uploaded object not found")

// Ingester moves trip files from the TLC endpoint into a bucket.
type Ingester struct {
	bucket        Bucket
	baseURL       string
	dir           string
	httpClient    *http.Client
	concurrency   int
	attempts      uint64
	retryInterval time.Duration
}

// Option configures Ingester.
type Option func(*Ingester)

// WithBaseURL overrides BaseURL.
func WithBaseURL(u string) Option {
	return func(in *Ingester) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		in.baseURL = u
	}
}

// WithDownloadDir sets the directory downloads are written to.
func WithDownloadDir(dir string) Option {
	return func(in *Ingester) { in.dir = dir }
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(in *Ingester) { in.httpClient = c }
}

// WithConcurrency limits the number of files processed at once.
func WithConcurrency(n int) Option {
	return func(in *Ingester) {
		if n > 0 {
			in.concurrency = n
		}
	}
}

// WithRetry sets upload attempts and the constant interval between them.
func WithRetry(attempts uint64, interval time.Duration) Option {
	return func(in *Ingester) {
		if attempts > 0 {
			in.attempts = attempts
		}
		if interval > 0 {
			in.retryInterval = interval
		}
	}
}

// New returns an Ingester uploading into bucket.
func New(bucket Bucket, opts ...Option) *Ingester {
	in := &Ingester{
		bucket:        bucket,
		baseURL:       BaseURL,
		dir:           os.TempDir(),
		httpClient:    http.DefaultClient,
		concurrency:   1,
		attempts:      3,
		retryInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// EnsureBucket creates the bucket when it does not exist.
func (in *Ingester) EnsureBucket(ctx context.Context) error {
	ok, err := in.bucket.Exists(ctx)
	if err != nil {
		return xerrors.Errorf("failed to check bucket: %w", err)
	}

	if ok {
		log.Ctx(ctx).Info().Str("bucket", in.bucket.Name()).Msg("bucket exists")
		return nil
	}

	if err := in.bucket.Create(ctx); err != nil {
		return xerrors.Errorf("failed to create bucket: %w", err)
	}

	log.Ctx(ctx).Info().Str("bucket", in.bucket.Name()).Msg("bucket created")

	return nil
}

// Ingest processes every source. A failing file does not stop the others;
// the returned error names all files that failed.
func (in *Ingester) Ingest(ctx context.Context, sources []tripload.Source) error {
	var (
		mu     sync.Mutex
		failed []string
	)

	eg := new(errgroup.Group)
	eg.SetLimit(in.concurrency)

	for _, s := range sources {
		eg.Go(func() error {
			if err := in.IngestFile(ctx, s); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("source", s.Name()).Msg("failed to ingest file")
				mu.Lock()
				failed = append(failed, s.Name())
				mu.Unlock()
			}
			return nil
		})
	}

	_ = eg.Wait()

	if len(failed) > 0 {
		return xerrors.Errorf("failed to ingest %d of %d files: %s", len(failed), len(sources), strings.Join(failed, ", "))
	}

	log.Ctx(ctx).Info().Int("files", len(sources)).Msg("all files ingested and verified")

	return nil
}

// IngestFile downloads one source, uploads it and removes the local copy
// once the upload is verified.
func (in *Ingester) IngestFile(ctx context.Context, s tripload.Source) error {
	logger := log.Ctx(ctx).With().Str("source", s.Name()).Logger()

	path, err := in.download(ctx, s.Name())
	if err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("downloaded")

	if err := in.upload(ctx, path, s.Name()); err != nil {
		return err
	}
	logger.Info().Str("bucket", in.bucket.Name()).Msg("uploaded and verified")

	if err := os.Remove(path); err != nil {
		return xerrors.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

func (in *Ingester) download(ctx context.Context, name string) (string, error) {
	url := in.baseURL + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", xerrors.Errorf("failed to build request: %w", err)
	}

	resp, err := in.httpClient.Do(req)
	if err != nil {
		return "", xerrors.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", xerrors.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	path := filepath.Join(in.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", xerrors.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", xerrors.Errorf("failed to write %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return "", xerrors.Errorf("failed to close %s: %w", path, err)
	}

	return path, nil
}

func (in *Ingester) upload(ctx context.Context, path, object string) error {
	var attempt int
	b := retry.WithMaxRetries(in.attempts-1, retry.NewConstant(in.retryInterval))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		log.Ctx(ctx).Debug().Str("source", object).Int("attempt", attempt).Msg("uploading")

		f, err := os.Open(path)
		if err != nil {
			return xerrors.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		if err := in.bucket.Upload(ctx, object, f); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("source", object).Int("attempt", attempt).Msg("upload failed")
			return retry.RetryableError(err)
		}

		ok, err := in.bucket.ObjectExists(ctx, object)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !ok {
			log.Ctx(ctx).Warn().Str("source", object).Int("attempt", attempt).Msg("verification failed")
			return retry.RetryableError(errNotVerified)
		}

		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to upload %s after %d attempts: %w", object, attempt, err)
	}

	return nil
}

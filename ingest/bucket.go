package ingest

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"golang.org/x/xerrors"
)

// ChunkSize is the resumable upload chunk size.
const ChunkSize = 8 << 20

// Bucket is the object store trip files are uploaded to.
type Bucket interface {
	Name() string
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
	Upload(ctx context.Context, object string, r io.Reader) error
	ObjectExists(ctx context.Context, object string) (bool, error)
}

// GCSBucket is a Cloud Storage bucket.
type GCSBucket struct {
	client  *storage.Client
	name    string
	project string
}

// NewGCSBucket returns a Bucket backed by Cloud Storage. project is used
// only when the bucket has to be created.
func NewGCSBucket(client *storage.Client, name, project string) *GCSBucket {
	return &GCSBucket{client: client, name: name, project: project}
}

// Name returns the bucket name.
func (b *GCSBucket) Name() string {
	return b.name
}

// Exists reports whether the bucket exists.
func (b *GCSBucket) Exists(ctx context.Context) (bool, error) {
	_, err := b.client.Bucket(b.name).Attrs(ctx)
	if xerrors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Errorf("failed to get attributes of bucket %s: %w", b.name, err)
	}
	return true, nil
}

// Create creates the bucket in the configured project.
func (b *GCSBucket) Create(ctx context.Context) error {
	if err := b.client.Bucket(b.name).Create(ctx, b.project, nil); err != nil {
		return xerrors.Errorf("failed to create bucket %s: %w", b.name, err)
	}
	return nil
}

// Upload writes r to object in chunks of ChunkSize.
func (b *GCSBucket) Upload(ctx context.Context, object string, r io.Reader) error {
	open := func(ctx context.Context) io.WriteCloser {
		w := b.client.Bucket(b.name).Object(object).NewWriter(ctx)
		w.ChunkSize = ChunkSize
		return w
	}

	if err := write(ctx, open, r); err != nil {
		return xerrors.Errorf("failed to upload gs://%s/%s: %w", b.name, object, err)
	}

	return nil
}

// write copies r into the writer returned by open. A failed copy cancels the
// writer's context before closing it so no partial object is committed.
func write(ctx context.Context, open func(context.Context) io.WriteCloser, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := open(ctx)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return xerrors.Errorf("failed to write: %w", err)
	}

	if err := w.Close(); err != nil {
		return xerrors.Errorf("failed to close writer: %w", err)
	}

	return nil
}

// ObjectExists reports whether object exists in the bucket.
func (b *GCSBucket) ObjectExists(ctx context.Context, object string) (bool, error) {
	_, err := b.client.Bucket(b.name).Object(object).Attrs(ctx)
	if xerrors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Errorf("failed to get attributes of gs://%s/%s: %w", b.name, object, err)
	}
	return true, nil
}

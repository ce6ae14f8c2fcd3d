package tripload

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
	"google.golang.org/api/option"
)

// SourceVerifier checks that a source file exists and is readable.
type SourceVerifier interface {
	Verify(context.Context, Source) error
}

// StorageVerifier verifies sources with Cloud Storage object metadata.
type StorageVerifier struct {
	storage *storage.Client
}

// NewStorageVerifier builds a verifier. Close() must be called after use.
func NewStorageVerifier(ctx context.Context, opts ...option.ClientOption) (*StorageVerifier, error) {
	s, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to build storage client: %w", err)
	}

	return &StorageVerifier{storage: s}, nil
}

// Verify implements SourceVerifier.
func (v *StorageVerifier) Verify(ctx context.Context, src Source) error {
	attrs, err := v.storage.Bucket(src.Bucket).Object(src.Name()).Attrs(ctx)
	if xerrors.Is(err, storage.ErrObjectNotExist) || xerrors.Is(err, storage.ErrBucketNotExist) {
		return xerrors.Errorf("%s: %w", src.FullPath(), ErrSourceNotFound)
	}
	if err != nil {
		return xerrors.Errorf("failed to get attributes of %s: %w", src.FullPath(), err)
	}

	if attrs.Size == 0 {
		return xerrors.Errorf("%s is empty", src.FullPath())
	}

	log.Ctx(ctx).Debug().Str("source", src.FullPath()).Int64("size", attrs.Size).Msg("source verified")

	return nil
}

// Close releases the storage client.
func (v *StorageVerifier) Close() error {
	return v.storage.Close()
}

package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/npezzotti/galchat/internal/types"
)

// JetStreamBackend keeps blobs in a NATS JetStream object store bucket, one
// object per digest.
type JetStreamBackend struct {
	bucket string
	store  jetstream.ObjectStore
}

// NewJetStreamBackend opens the bucket, creating it when missing.
func NewJetStreamBackend(ctx context.Context, nc *nats.Conn, bucket string) (*JetStreamBackend, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "galchat uploads and avatars",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("object store %q: %w", bucket, err)
	}

	return &JetStreamBackend{bucket: bucket, store: store}, nil
}

func (j *JetStreamBackend) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := j.store.GetInfo(ctx, digest)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	return true, nil
}

func (j *JetStreamBackend) Write(ctx context.Context, digest string, data []byte) error {
	if _, err := j.store.PutBytes(ctx, digest, data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	return nil
}

func (j *JetStreamBackend) Location(digest string) string {
	return "nats://" + j.bucket + "/" + digest
}

func (j *JetStreamBackend) Read(ctx context.Context, digest string) ([]byte, error) {
	data, err := j.store.GetBytes(ctx, digest)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	return data, nil
}

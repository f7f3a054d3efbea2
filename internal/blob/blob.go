package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/stats"
	"github.com/npezzotti/galchat/internal/types"
	"golang.org/x/sync/singleflight"
)

// Backend stores blob bytes under their digest.
type Backend interface {
	Exists(ctx context.Context, digest string) (bool, error)
	Write(ctx context.Context, digest string, data []byte) error
	// Location names where a digest is kept, for the index.
	Location(digest string) string
	// Read returns types.ErrNotFound when nothing is stored under digest.
	Read(ctx context.Context, digest string) ([]byte, error)
}

// Index records which blobs exist.
type Index interface {
	InsertBlob(ctx context.Context, params database.CreateBlobParams) (database.Blob, error)
	GetBlobByDigest(ctx context.Context, digest string) (database.Blob, error)
	GetBlobById(ctx context.Context, id int64) (database.Blob, error)
}

// Store is content addressed: equal bytes are stored once and always map to
// the same blob id.
type Store struct {
	log     *log.Logger
	index   Index
	backend Backend
	stats   stats.StatsProvider
	flight  singleflight.Group
}

func NewStore(logger *log.Logger, index Index, backend Backend, su stats.StatsProvider) *Store {
	return &Store{
		log:     logger,
		index:   index,
		backend: backend,
		stats:   su,
	}
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidDigest reports whether s looks like a value returned by Digest.
func ValidDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Put stores data unless identical bytes are already stored. Concurrent
// puts of the same bytes share one write.
func (s *Store) Put(ctx context.Context, data []byte) (database.Blob, error) {
	digest := Digest(data)

	v, err, _ := s.flight.Do(digest, func() (any, error) {
		return s.put(context.WithoutCancel(ctx), digest, data)
	})
	if err != nil {
		return database.Blob{}, err
	}

	return v.(database.Blob), nil
}

func (s *Store) put(ctx context.Context, digest string, data []byte) (database.Blob, error) {
	b, err := s.index.GetBlobByDigest(ctx, digest)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return database.Blob{}, err
	}

	exists, err := s.backend.Exists(ctx, digest)
	if err != nil {
		return database.Blob{}, fmt.Errorf("blob exists: %w", err)
	}

	if !exists {
		if err := s.backend.Write(ctx, digest, data); err != nil {
			return database.Blob{}, fmt.Errorf("blob write: %w", err)
		}
		s.stats.Incr(stats.BlobWrites)
		s.log.Printf("stored blob %s (%d bytes)", digest, len(data))
	}

	return s.index.InsertBlob(ctx, database.CreateBlobParams{
		Digest:   digest,
		Location: s.backend.Location(digest),
		Size:     int64(len(data)),
	})
}

// Get returns the bytes stored under digest.
func (s *Store) Get(ctx context.Context, digest string) ([]byte, error) {
	if !ValidDigest(digest) {
		return nil, fmt.Errorf("blob %q: %w", digest, types.ErrNotFound)
	}

	b, err := s.index.GetBlobByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}

	return s.read(ctx, b)
}

// GetById returns the record and bytes of a blob.
func (s *Store) GetById(ctx context.Context, id int64) (database.Blob, []byte, error) {
	b, err := s.index.GetBlobById(ctx, id)
	if err != nil {
		return database.Blob{}, nil, err
	}

	data, err := s.read(ctx, b)
	if err != nil {
		return database.Blob{}, nil, err
	}

	return b, data, nil
}

func (s *Store) read(ctx context.Context, b database.Blob) ([]byte, error) {
	data, err := s.backend.Read(ctx, b.Digest)
	if err != nil {
		return nil, fmt.Errorf("blob read %s: %w", b.Digest, err)
	}

	if Digest(data) != b.Digest {
		return nil, fmt.Errorf("blob %s: digest mismatch: %w", b.Digest, types.ErrInvalidContent)
	}

	return data, nil
}

package metastore

import (
	"context"
	"errors"
)

// ErrNil is returned by SRandMember on an empty set and by Get on a missing
// key, mirroring Redis' nil reply.
var ErrNil = errors.New("metastore: nil")

// Store is the shared coordination substrate the coordinator keeps its
// metadata in: set-, list- and scalar-valued keys. Multi-step updates are not
// transactional; callers accept that a crash between calls can leave
// metadata inconsistent.
type Store interface {
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// SAdd is a no-op for members already present.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRandMember(ctx context.Context, key string) (string, error)

	// LPush pushes values to the front of a list, most recent first.
	LPush(ctx context.Context, key string, values ...string) error
	// LRange returns elements start..stop inclusive; negative indices count
	// from the end of the list.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LTrim keeps only elements start..stop, indexed as in LRange.
	LTrim(ctx context.Context, key string, start, stop int64) error

	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)

	// FlushAll wipes every key.
	FlushAll(ctx context.Context) error
	Close() error
}

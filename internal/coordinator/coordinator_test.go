package coordinator

import (
	"context"
	"math/rand/v2"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/drift/internal/metastore"
	"github.com/dreamware/drift/internal/node"
	"github.com/dreamware/drift/internal/storage"
)

// newTestCoordinator builds a coordinator over n in-memory nodes with a
// seeded random source.
func newTestCoordinator(t *testing.T, n int, opts ...Option) (*Coordinator, *metastore.MemoryStore) {
	t.Helper()
	nodes := make([]*node.Node, n)
	for i := range nodes {
		nodes[i] = node.NewMemory(i)
	}
	meta := metastore.NewMemoryStore()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(42, 7)))}, opts...)
	c, err := New(nodes, meta, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.WaitFanout() })
	return c, meta
}

// replicate adds a replica of name on id the way ReadBalance would
func replicate(t *testing.T, c *Coordinator, name string, id int) {
	t.Helper()
	ctx := context.Background()
	origin, err := c.Origin(ctx, name)
	require.NoError(t, err)
	vv, err := c.nodes[origin].Read(name)
	require.NoError(t, err)
	require.NoError(t, c.nodes[id].AddReplica(name, vv))
	require.NoError(t, c.addMember(ctx, name, id))
}

// TestNew tests construction and validation
func TestNew(t *testing.T) {
	meta := metastore.NewMemoryStore()

	t.Run("empty pool", func(t *testing.T) {
		_, err := New(nil, meta)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("ids must match pool index", func(t *testing.T) {
		_, err := New([]*node.Node{node.NewMemory(0), node.NewMemory(5)}, meta)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("non-positive window", func(t *testing.T) {
		_, err := New([]*node.Node{node.NewMemory(0)}, meta, WithReadWindow(0))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("node lookup outside pool", func(t *testing.T) {
		c, _ := newTestCoordinator(t, 3)
		_, err := c.Node(3)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = c.Node(-1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, 3, c.PoolSize())
	})
}

// TestWriteNewFile tests creation of a file on a single origin node
func TestWriteNewFile(t *testing.T) {
	ctx := context.Background()
	c, meta := newTestCoordinator(t, 10)

	vv, err := c.Write(ctx, "a", "1", 1)
	require.NoError(t, err)
	assert.Equal(t, storage.NewValueVersion("1", 1), vv)

	origin, err := c.Origin(ctx, "a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, origin, 0)
	assert.Less(t, origin, 10)

	members, err := c.Members(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{origin}, members)

	files, err := c.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, files)

	// write-then-read-own-value on the origin
	got, err := c.nodes[origin].Read("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, got.Values)
	assert.Equal(t, 1, got.Version)

	indexed, err := meta.SMembers(ctx, serverKey(origin))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, indexed)

	stamps, err := meta.LRange(ctx, accessKey(origin), 0, -1)
	require.NoError(t, err)
	assert.Len(t, stamps, 1)
}

// TestInvalidArguments tests caller contract violations
func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	c, meta := newTestCoordinator(t, 3)

	_, err := c.Write(ctx, "", "v", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Read(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// names must fit in one URL path segment
	_, err = c.Write(ctx, "dir/a", "v", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Read(ctx, "dir/a")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Origin(ctx, "dir/a")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	files, err := c.Files(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = c.Origin(ctx, "never-written")
	assert.ErrorIs(t, err, ErrFileNotFound)

	// a membership entry pointing outside the pool is rejected, not indexed
	require.NoError(t, meta.SAdd(ctx, allFilesKey, "bad"))
	require.NoError(t, meta.SAdd(ctx, membersKey("bad"), "9"))
	_, err = c.Read(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// TestRead tests the read path
func TestRead(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown file", func(t *testing.T) {
		c, meta := newTestCoordinator(t, 3)

		_, err := c.Read(ctx, "missing")
		assert.ErrorIs(t, err, ErrFileNotFound)

		reads, err := meta.LRange(ctx, readsKey, 0, -1)
		require.NoError(t, err)
		assert.Empty(t, reads)
	})

	t.Run("records access history", func(t *testing.T) {
		c, meta := newTestCoordinator(t, 3)
		_, err := c.Write(ctx, "a", "1", 1)
		require.NoError(t, err)
		origin, err := c.Origin(ctx, "a")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			vv, err := c.Read(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []string{"1"}, vv.Values)
		}

		reads, err := meta.LRange(ctx, readsKey, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "a", "a"}, reads)

		stamps, err := meta.LRange(ctx, accessKey(origin), 0, -1)
		require.NoError(t, err)
		assert.Len(t, stamps, 4) // creation + three reads
	})

	t.Run("unavailable replica", func(t *testing.T) {
		c, _ := newTestCoordinator(t, 3)
		_, err := c.Write(ctx, "a", "1", 1)
		require.NoError(t, err)
		origin, _ := c.Origin(ctx, "a")
		c.nodes[origin].SetAvailable(false)

		_, err = c.Read(ctx, "a")
		assert.ErrorIs(t, err, node.ErrUnavailable)
	})
}

// TestWriteExistingFile tests the fan-out path
// TestHistoryStaysWithinWindows tests that read and access history is capped
// at what the balancing passes look at
func TestHistoryStaysWithinWindows(t *testing.T) {
	ctx := context.Background()
	tick := int64(0)
	clock := func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}
	c, meta := newTestCoordinator(t, 1, WithReadWindow(5), WithLoadWindow(3), WithClock(clock))

	_, err := c.Write(ctx, "a", "v", 1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := c.Read(ctx, "a")
		require.NoError(t, err)
	}
	_, err = c.Write(ctx, "b", "v", 1)
	require.NoError(t, err)
	_, err = c.Read(ctx, "b")
	require.NoError(t, err)

	reads, err := meta.LRange(ctx, readsKey, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "a", "a", "a"}, reads)

	stamps, err := meta.LRange(ctx, accessKey(0), 0, -1)
	require.NoError(t, err)
	require.Len(t, stamps, 3)
	assert.Equal(t, strconv.FormatInt(tick, 10), stamps[0], "newest access first")
}

func TestWriteExistingFile(t *testing.T) {
	ctx := context.Background()

	t.Run("every member converges", func(t *testing.T) {
		c, _ := newTestCoordinator(t, 6)
		_, err := c.Write(ctx, "a", "1", 1)
		require.NoError(t, err)
		origin, _ := c.Origin(ctx, "a")
		for id := 0; id < 6; id++ {
			if id != origin {
				replicate(t, c, "a", id)
			}
		}

		vv, err := c.Write(ctx, "a", "2", 2)
		require.NoError(t, err)
		assert.Equal(t, storage.NewValueVersion("2", 2), vv)

		c.WaitFanout()
		for id := 0; id < 6; id++ {
			got, err := c.nodes[id].Read("a")
			require.NoError(t, err)
			assert.Equal(t, storage.NewValueVersion("2", 2), got, "node %d", id)
		}
	})

	t.Run("write replica is chosen from the file name", func(t *testing.T) {
		c, meta := newTestCoordinator(t, 4)
		_, err := c.Write(ctx, "a", "1", 1)
		require.NoError(t, err)
		origin, _ := c.Origin(ctx, "a")
		replicate(t, c, "a", (origin+1)%4)

		members, _ := c.Members(ctx, "a")
		writer := members[writeReplica("a", len(members))]

		before, _ := meta.LRange(ctx, accessKey(writer), 0, -1)
		_, err = c.Write(ctx, "a", "2", 2)
		require.NoError(t, err)
		after, _ := meta.LRange(ctx, accessKey(writer), 0, -1)
		assert.Len(t, after, len(before)+1)
	})

	t.Run("unavailable peer silently misses the update", func(t *testing.T) {
		c, _ := newTestCoordinator(t, 3)
		_, err := c.Write(ctx, "a", "1", 1)
		require.NoError(t, err)
		origin, _ := c.Origin(ctx, "a")
		for id := 0; id < 3; id++ {
			if id != origin {
				replicate(t, c, "a", id)
			}
		}
		members, _ := c.Members(ctx, "a")
		writer := members[writeReplica("a", len(members))]
		down := members[(writeReplica("a", len(members))+1)%len(members)]
		c.nodes[down].SetAvailable(false)

		vv, err := c.Write(ctx, "a", "2", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, vv.Version)
		c.WaitFanout()

		c.nodes[down].SetAvailable(true)
		stale, err := c.nodes[down].Read("a")
		require.NoError(t, err)
		assert.Equal(t, storage.NewValueVersion("1", 1), stale)

		fresh, err := c.nodes[writer].Read("a")
		require.NoError(t, err)
		assert.Equal(t, storage.NewValueVersion("2", 2), fresh)
	})

	t.Run("unavailable write replica fails the write", func(t *testing.T) {
		c, _ := newTestCoordinator(t, 3)
		_, err := c.Write(ctx, "a", "1", 1)
		require.NoError(t, err)
		origin, _ := c.Origin(ctx, "a")
		c.nodes[origin].SetAvailable(false)

		_, err = c.Write(ctx, "a", "2", 2)
		assert.ErrorIs(t, err, node.ErrUnavailable)
	})
}

// TestConflictSurfacing verifies same-version writes surface as a value set
// and a replica never loses the value it applied last
func TestConflictSurfacing(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 4)

	_, err := c.Write(ctx, "a", "0", 1)
	require.NoError(t, err)
	origin, _ := c.Origin(ctx, "a")
	replicate(t, c, "a", (origin+1)%4)
	replicate(t, c, "a", (origin+2)%4)

	_, err = c.Write(ctx, "a", "x", 2)
	require.NoError(t, err)
	last, err := c.Write(ctx, "a", "y", 2)
	require.NoError(t, err)
	assert.True(t, last.Contains("y"))
	assert.True(t, last.Conflicted())

	c.WaitFanout()
	members, _ := c.Members(ctx, "a")
	for _, id := range members {
		got, err := c.nodes[id].Read("a")
		require.NoError(t, err)
		assert.True(t, got.Contains("y"), "node %d lost the last applied value: %v", id, got.Values)
	}

	read, err := c.Read(ctx, "a")
	require.NoError(t, err)
	assert.Subset(t, []string{"x", "y"}, read.Values)
	assert.Contains(t, read.Values, "y")
}

// TestEndToEndScenario walks a file from creation through hot replication
func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 16)

	_, err := c.Write(ctx, "a", "1", 1)
	require.NoError(t, err)
	origin, err := c.Origin(ctx, "a")
	require.NoError(t, err)
	members, _ := c.Members(ctx, "a")
	assert.Equal(t, []int{origin}, members)

	vv, err := c.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, vv.Values)

	_, err = c.Write(ctx, "a", "2", 2)
	require.NoError(t, err)
	c.WaitFanout()
	got, err := c.nodes[origin].Read("a")
	require.NoError(t, err)
	assert.Subset(t, []string{"1", "2"}, got.Values)
	assert.Contains(t, got.Values, "2")

	for i := 0; i < 25; i++ {
		_, err := c.Read(ctx, "a")
		require.NoError(t, err)
	}
	_, err = c.ReadBalance(ctx)
	require.NoError(t, err)

	members, err = c.Members(ctx, "a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(members), 13)
	assert.Contains(t, members, origin)
}

// TestFileLocations tests the admin inspection view
func TestFileLocations(t *testing.T) {
	ctx := context.Background()
	c, meta := newTestCoordinator(t, 4)

	_, err := c.Write(ctx, "a", "1", 1)
	require.NoError(t, err)
	_, err = c.Write(ctx, "b", "9", 3)
	require.NoError(t, err)
	origin, _ := c.Origin(ctx, "a")
	originB, _ := c.Origin(ctx, "b")
	other := (origin + 1) % 4
	for other == originB {
		other = (other + 1) % 4
	}
	replicate(t, c, "a", other)
	c.nodes[other].SetAvailable(false)

	readsBefore, _ := meta.LRange(ctx, readsKey, 0, -1)

	locs, err := c.FileLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)

	assert.Equal(t, "a", locs[0].Name)
	assert.Equal(t, origin, locs[0].Origin)
	require.Len(t, locs[0].Replicas, 2)
	for _, r := range locs[0].Replicas {
		if r.Node == other {
			assert.NotEmpty(t, r.Error)
			continue
		}
		assert.Equal(t, []string{"1"}, r.Values)
		assert.Equal(t, "1", r.Resolved)
		assert.Equal(t, 1, r.Version)
	}
	assert.Equal(t, "b", locs[1].Name)
	assert.Equal(t, "9", locs[1].Replicas[0].Resolved)

	readsAfter, _ := meta.LRange(ctx, readsKey, 0, -1)
	assert.Equal(t, readsBefore, readsAfter, "inspection must not count as reads")
}

// TestReset verifies reset clears coordinator and node state
func TestReset(t *testing.T) {
	ctx := context.Background()
	c, meta := newTestCoordinator(t, 5)

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Write(ctx, name, "v", 1)
		require.NoError(t, err)
		_, err = c.Read(ctx, name)
		require.NoError(t, err)
	}
	c.nodes[0].SetAvailable(false)

	require.NoError(t, c.Reset(ctx))

	files, err := c.Files(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	reads, err := meta.LRange(ctx, readsKey, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, reads)
	for _, info := range c.Nodes() {
		assert.Zero(t, info.Storage.Files, "node %d", info.ID)
	}

	_, err = c.Read(ctx, "a")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

// Package coordinator implements the control plane of drift: placement,
// replication fan-out and the two rebalancing passes.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/drift/internal/metastore"
	"github.com/dreamware/drift/internal/node"
	"github.com/dreamware/drift/internal/storage"
)

var (
	// ErrFileNotFound is returned when a file name was never written.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidArgument marks caller contract violations: empty names,
	// node indexes outside the pool, malformed metadata references.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Default tuning, taken from the access-history windows the system was
// designed around.
const (
	DefaultReadWindow   = 40 // global reads considered by ReadBalance
	DefaultHotThreshold = 20 // read count at which a file goes to every node
	DefaultLoadWindow   = 50 // per-node accesses considered by ServerBalance
)

// Coordination store key layout.
const (
	allFilesKey = "all_files"
	readsKey    = "reads"
)

func membersKey(name string) string { return "members:" + name }
func originKey(name string) string  { return "origin:" + name }
func serverKey(id int) string       { return "server:" + strconv.Itoa(id) }
func accessKey(id int) string       { return "access:" + strconv.Itoa(id) }

// Coordinator owns the node pool and every piece of placement metadata.
//
// Concurrency Model:
//   - A single mutex covers Read, Write, ReadBalance, ServerBalance,
//     FileLocations and Reset; they never interleave.
//   - Fan-out propagation started by Write runs outside that mutex and may
//     finish after Write has returned.
//   - Nothing is cancelled or timed out once started; a stuck node stalls
//     the coordinator.
type Coordinator struct {
	meta         metastore.Store
	rng          *rand.Rand
	now          func() time.Time
	logger       zerolog.Logger
	nodes        []*node.Node
	fanout       sync.WaitGroup
	mu           sync.Mutex
	readWindow   int
	hotThreshold int
	loadWindow   int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithRand sets the random source used for placement. Tests pass a seeded
// source to make placement reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

// WithClock overrides the clock used for access timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithReadWindow sets how many recent global reads ReadBalance looks at.
func WithReadWindow(n int) Option {
	return func(c *Coordinator) { c.readWindow = n }
}

// WithHotThreshold sets the read count at which a file is fully replicated.
func WithHotThreshold(n int) Option {
	return func(c *Coordinator) { c.hotThreshold = n }
}

// WithLoadWindow sets how many recent per-node accesses ServerBalance looks at.
func WithLoadWindow(n int) Option {
	return func(c *Coordinator) { c.loadWindow = n }
}

// New creates a coordinator over a fixed pool. Node i must have ID i.
func New(nodes []*node.Node, meta metastore.Store, opts ...Option) (*Coordinator, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: empty node pool", ErrInvalidArgument)
	}
	for i, n := range nodes {
		if n == nil || n.ID != i {
			return nil, fmt.Errorf("%w: node at index %d has wrong id", ErrInvalidArgument, i)
		}
	}
	c := &Coordinator{
		nodes:        nodes,
		meta:         meta,
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:          time.Now,
		logger:       zerolog.Nop(),
		readWindow:   DefaultReadWindow,
		hotThreshold: DefaultHotThreshold,
		loadWindow:   DefaultLoadWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.readWindow <= 0 || c.hotThreshold <= 0 || c.loadWindow <= 0 {
		return nil, fmt.Errorf("%w: windows and thresholds must be positive", ErrInvalidArgument)
	}
	return c, nil
}

// PoolSize returns the number of nodes in the pool.
func (c *Coordinator) PoolSize() int {
	return len(c.nodes)
}

// Node returns the node at index id.
func (c *Coordinator) Node(id int) (*node.Node, error) {
	if id < 0 || id >= len(c.nodes) {
		return nil, fmt.Errorf("%w: node %d outside pool [0, %d)", ErrInvalidArgument, id, len(c.nodes))
	}
	return c.nodes[id], nil
}

func (c *Coordinator) parseNode(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: node reference %q", ErrInvalidArgument, s)
	}
	if _, err := c.Node(id); err != nil {
		return 0, err
	}
	return id, nil
}

// validName rejects names that cannot round-trip through a /files/{name}
// URL path segment.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty file name", ErrInvalidArgument)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%w: file name %q contains '/'", ErrInvalidArgument, name)
	}
	return nil
}

// Read returns the full record held by one randomly chosen replica. A
// conflict set is handed back as-is.
func (c *Coordinator) Read(ctx context.Context, name string) (storage.ValueVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validName(name); err != nil {
		return storage.ValueVersion{}, err
	}
	known, err := c.meta.SIsMember(ctx, allFilesKey, name)
	if err != nil {
		return storage.ValueVersion{}, fmt.Errorf("lookup %s: %w", name, err)
	}
	if !known {
		return storage.ValueVersion{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	chosen, err := c.meta.SRandMember(ctx, membersKey(name))
	if err != nil {
		return storage.ValueVersion{}, fmt.Errorf("pick replica for %s: %w", name, err)
	}
	id, err := c.parseNode(chosen)
	if err != nil {
		return storage.ValueVersion{}, err
	}

	if err := c.recordAccess(ctx, id); err != nil {
		return storage.ValueVersion{}, err
	}
	if err := c.pushWindowed(ctx, readsKey, name, c.readWindow); err != nil {
		return storage.ValueVersion{}, fmt.Errorf("record read of %s: %w", name, err)
	}

	c.logger.Debug().Str("file", name).Int("node", id).Msg("read")
	return c.nodes[id].Read(name)
}

// Write creates the file on a random node if it is new. Otherwise the write
// is applied by one member chosen from the file name's hash and propagated
// to the other members in the background; the returned record is what that
// member holds once its own write is applied.
func (c *Coordinator) Write(ctx context.Context, name, value string, version int) (storage.ValueVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validName(name); err != nil {
		return storage.ValueVersion{}, err
	}
	known, err := c.meta.SIsMember(ctx, allFilesKey, name)
	if err != nil {
		return storage.ValueVersion{}, fmt.Errorf("lookup %s: %w", name, err)
	}
	if !known {
		return c.create(ctx, name, value, version)
	}

	members, err := c.members(ctx, name)
	if err != nil {
		return storage.ValueVersion{}, err
	}
	if len(members) == 0 {
		return storage.ValueVersion{}, fmt.Errorf("file %s has no replicas", name)
	}

	writer := members[writeReplica(name, len(members))]
	vv, err := c.nodes[writer].Write(name, value, version)
	if err != nil {
		return storage.ValueVersion{}, err
	}
	if err := c.recordAccess(ctx, writer); err != nil {
		return storage.ValueVersion{}, err
	}

	peers := make([]*node.Node, 0, len(members)-1)
	for _, id := range members {
		if id != writer {
			peers = append(peers, c.nodes[id])
		}
	}
	fanoutID := uuid.NewString()
	c.logger.Info().Str("file", name).Int("writer", writer).Ints("peers", members).
		Int("version", version).Str("fanout", fanoutID).Msg("write")
	c.nodes[writer].Propagate(&c.fanout, fanoutID, name, value, version, peers)

	return vv, nil
}

func (c *Coordinator) create(ctx context.Context, name, value string, version int) (storage.ValueVersion, error) {
	id := c.rng.IntN(len(c.nodes))
	vv, err := c.nodes[id].Write(name, value, version)
	if err != nil {
		return storage.ValueVersion{}, err
	}
	ref := strconv.Itoa(id)

	if err := c.meta.SAdd(ctx, allFilesKey, name); err != nil {
		return storage.ValueVersion{}, fmt.Errorf("register %s: %w", name, err)
	}
	if err := c.meta.Set(ctx, originKey(name), ref); err != nil {
		return storage.ValueVersion{}, fmt.Errorf("set origin of %s: %w", name, err)
	}
	if err := c.addMember(ctx, name, id); err != nil {
		return storage.ValueVersion{}, err
	}
	if err := c.recordAccess(ctx, id); err != nil {
		return storage.ValueVersion{}, err
	}

	c.logger.Info().Str("file", name).Int("origin", id).Int("version", version).Msg("file created")
	return vv, nil
}

// writeReplica picks the member index that authors a write: FNV-1a of the
// file name modulo the membership size, over the sorted membership list.
func writeReplica(name string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(n))
}

func (c *Coordinator) recordAccess(ctx context.Context, id int) error {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	if err := c.pushWindowed(ctx, accessKey(id), ts, c.loadWindow); err != nil {
		return fmt.Errorf("record access on node %d: %w", id, err)
	}
	return nil
}

// pushWindowed records value at the head of a list and drops everything
// past the first window entries, the only ones the balancing passes read.
func (c *Coordinator) pushWindowed(ctx context.Context, key, value string, window int) error {
	if err := c.meta.LPush(ctx, key, value); err != nil {
		return err
	}
	return c.meta.LTrim(ctx, key, 0, int64(window)-1)
}

func (c *Coordinator) addMember(ctx context.Context, name string, id int) error {
	if err := c.meta.SAdd(ctx, membersKey(name), strconv.Itoa(id)); err != nil {
		return fmt.Errorf("add node %d to %s: %w", id, name, err)
	}
	if err := c.meta.SAdd(ctx, serverKey(id), name); err != nil {
		return fmt.Errorf("index %s on node %d: %w", name, id, err)
	}
	return nil
}

func (c *Coordinator) removeMember(ctx context.Context, name string, id int) error {
	if err := c.meta.SRem(ctx, membersKey(name), strconv.Itoa(id)); err != nil {
		return fmt.Errorf("remove node %d from %s: %w", id, name, err)
	}
	if err := c.meta.SRem(ctx, serverKey(id), name); err != nil {
		return fmt.Errorf("unindex %s on node %d: %w", name, id, err)
	}
	return nil
}

// members returns the file's membership as sorted node ids.
func (c *Coordinator) members(ctx context.Context, name string) ([]int, error) {
	refs, err := c.meta.SMembers(ctx, membersKey(name))
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", name, err)
	}
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		id, err := c.parseNode(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (c *Coordinator) origin(ctx context.Context, name string) (int, error) {
	ref, err := c.meta.Get(ctx, originKey(name))
	if err != nil {
		return 0, fmt.Errorf("origin of %s: %w", name, err)
	}
	return c.parseNode(ref)
}

func (c *Coordinator) files(ctx context.Context) ([]string, error) {
	files, err := c.meta.SMembers(ctx, allFilesKey)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Files returns every known file name, sorted.
func (c *Coordinator) Files(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files(ctx)
}

// Members returns the sorted ids of the nodes holding name.
func (c *Coordinator) Members(ctx context.Context, name string) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members(ctx, name)
}

// Origin returns the node that created name, or ErrFileNotFound.
func (c *Coordinator) Origin(ctx context.Context, name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validName(name); err != nil {
		return 0, err
	}
	id, err := c.origin(ctx, name)
	if errors.Is(err, metastore.ErrNil) {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return id, err
}

// Replica is one node's view of a file, as reported by FileLocations.
type Replica struct {
	Error    string   `json:"error,omitempty"`
	Resolved string   `json:"resolved"`
	Values   []string `json:"values"`
	Node     int      `json:"node"`
	Version  int      `json:"version"`
}

// FileLocation lists where a file lives and what each replica holds.
type FileLocation struct {
	Name     string    `json:"name"`
	Replicas []Replica `json:"replicas"`
	Origin   int       `json:"origin"`
}

// FileLocations is a read-only diagnostic: for every file, each member's
// record with one value resolved at random for display. It does not record
// accesses.
func (c *Coordinator) FileLocations(ctx context.Context) ([]FileLocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.files(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FileLocation, 0, len(files))
	for _, name := range files {
		origin, err := c.origin(ctx, name)
		if err != nil {
			return nil, err
		}
		members, err := c.members(ctx, name)
		if err != nil {
			return nil, err
		}
		loc := FileLocation{Name: name, Origin: origin, Replicas: make([]Replica, 0, len(members))}
		for _, id := range members {
			r := Replica{Node: id}
			vv, err := c.nodes[id].Read(name)
			if err != nil {
				r.Error = err.Error()
			} else {
				r.Version = vv.Version
				r.Values = vv.Values
				r.Resolved = vv.Resolve(c.rng)
			}
			loc.Replicas = append(loc.Replicas, r)
		}
		out = append(out, loc)
	}
	return out, nil
}

// Nodes describes every node in the pool.
func (c *Coordinator) Nodes() []node.Info {
	infos := make([]node.Info, len(c.nodes))
	for i, n := range c.nodes {
		infos[i] = n.Info()
	}
	return infos
}

// Reset waits for outstanding fan-out, flushes the coordination store and
// empties every node.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fanout.Wait()
	var errs []error
	if err := c.meta.FlushAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush metadata: %w", err))
	}
	for _, n := range c.nodes {
		if err := n.Reset(); err != nil {
			errs = append(errs, fmt.Errorf("reset node %d: %w", n.ID, err))
		}
	}
	c.logger.Info().Int("nodes", len(c.nodes)).Msg("coordinator reset")
	return errors.Join(errs...)
}

// WaitFanout blocks until every propagation started so far has finished.
// It must not race with Write; callers use it in tests and on shutdown.
func (c *Coordinator) WaitFanout() {
	c.fanout.Wait()
}

// Close drains fan-out and closes every node and the metadata store.
func (c *Coordinator) Close() error {
	c.WaitFanout()
	var errs []error
	for _, n := range c.nodes {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func without(ids []int, id int) []int {
	out := slices.Clone(ids)
	if i := slices.Index(out, id); i >= 0 {
		out = slices.Delete(out, i, i+1)
	}
	return out
}

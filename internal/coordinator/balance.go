package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/dreamware/drift/internal/node"
)

// Adjustment records one file's replica count change during ReadBalance.
type Adjustment struct {
	File    string `json:"file"`
	Added   []int  `json:"added,omitempty"`
	Removed []int  `json:"removed,omitempty"`
	Reads   int    `json:"reads"`
	Before  int    `json:"before"`
	Desired int    `json:"desired"`
}

// Migration describes what a ServerBalance pass did. Moved is false when the
// pass found nothing to move.
type Migration struct {
	File     string `json:"file,omitempty"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	FromLoad int64  `json:"from_load"`
	ToLoad   int64  `json:"to_load"`
	Moved    bool   `json:"moved"`
}

// desiredReplicas maps a windowed read count to a replication factor:
// hot files go to every node, others to count/2+1, never more than the pool.
func (c *Coordinator) desiredReplicas(reads int) int {
	if reads >= c.hotThreshold {
		return len(c.nodes)
	}
	return min(reads/2+1, len(c.nodes))
}

// ReadBalance retunes every file's replication factor from the most recent
// reads. Each file is seeded with one read so cold files settle at a single
// replica; the origin replica is never a removal candidate.
//
// The pass first waits for outstanding fan-out. A failure on one file is
// reported and the pass moves on to the next file; nothing is retried.
func (c *Coordinator) ReadBalance(ctx context.Context) ([]Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A propagation landing after a removal would recreate the replica.
	c.fanout.Wait()

	recent, err := c.meta.LRange(ctx, readsKey, 0, int64(c.readWindow-1))
	if err != nil {
		return nil, fmt.Errorf("recent reads: %w", err)
	}
	files, err := c.files(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(files))
	for _, f := range files {
		counts[f] = 1
	}
	for _, f := range recent {
		if _, ok := counts[f]; ok {
			counts[f]++
		}
	}

	var (
		adjustments []Adjustment
		errs        []error
	)
	for _, f := range files {
		adj, err := c.rebalanceFile(ctx, f, counts[f])
		if err != nil {
			errs = append(errs, err)
		}
		if len(adj.Added) > 0 || len(adj.Removed) > 0 {
			adjustments = append(adjustments, adj)
		}
	}

	c.logger.Info().Int("files", len(files)).Int("window", len(recent)).
		Int("adjusted", len(adjustments)).Msg("read balance finished")
	return adjustments, errors.Join(errs...)
}

func (c *Coordinator) rebalanceFile(ctx context.Context, name string, reads int) (Adjustment, error) {
	adj := Adjustment{File: name, Reads: reads, Desired: c.desiredReplicas(reads)}

	origin, err := c.origin(ctx, name)
	if err != nil {
		return adj, err
	}
	members, err := c.members(ctx, name)
	if err != nil {
		return adj, err
	}
	adj.Before = len(members)

	switch {
	case adj.Desired > len(members):
		// Replicas are copied from the origin, which is always a member.
		vv, err := c.nodes[origin].Read(name)
		if err != nil {
			return adj, fmt.Errorf("read %s from origin %d: %w", name, origin, err)
		}
		for len(members) < adj.Desired {
			target := c.randomNonMember(members)
			if err := c.nodes[target].AddReplica(name, vv); err != nil {
				return adj, fmt.Errorf("replicate %s to node %d: %w", name, target, err)
			}
			if err := c.addMember(ctx, name, target); err != nil {
				return adj, err
			}
			members = append(members, target)
			adj.Added = append(adj.Added, target)
			c.logger.Debug().Str("file", name).Int("node", target).Msg("replica added")
		}

	case adj.Desired < len(members):
		candidates := without(members, origin)
		toRemove := min(len(members)-adj.Desired, len(candidates))
		for i := 0; i < toRemove; i++ {
			c.rng.Shuffle(len(candidates), func(a, b int) {
				candidates[a], candidates[b] = candidates[b], candidates[a]
			})
			victim := candidates[0]
			candidates = candidates[1:]

			if _, err := c.nodes[victim].Delete(name); err != nil && !errors.Is(err, node.ErrNotFound) {
				return adj, fmt.Errorf("drop %s from node %d: %w", name, victim, err)
			}
			if err := c.removeMember(ctx, name, victim); err != nil {
				return adj, err
			}
			adj.Removed = append(adj.Removed, victim)
			c.logger.Debug().Str("file", name).Int("node", victim).Msg("replica removed")
		}
	}
	return adj, nil
}

// randomNonMember draws nodes uniformly until it hits one outside members.
// Callers guarantee members is smaller than the pool.
func (c *Coordinator) randomNonMember(members []int) int {
	for {
		id := c.rng.IntN(len(c.nodes))
		if !slices.Contains(members, id) {
			return id
		}
	}
}

// loadProxy is the oldest timestamp among a node's most recent accesses, or
// 0 for a node never accessed. A larger value means the window was filled
// more recently, which is read as "busier". It is not an average interval.
func (c *Coordinator) loadProxy(ctx context.Context, id int) (int64, error) {
	stamps, err := c.meta.LRange(ctx, accessKey(id), 0, int64(c.loadWindow-1))
	if err != nil {
		return 0, fmt.Errorf("access log of node %d: %w", id, err)
	}
	if len(stamps) == 0 {
		return 0, nil
	}
	oldest, err := strconv.ParseInt(stamps[len(stamps)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: access timestamp %q on node %d", ErrInvalidArgument, stamps[len(stamps)-1], id)
	}
	return oldest, nil
}

// ServerBalance moves one random file from the busiest node to the least
// busy one. Ties go to the lowest node id. Files whose origin is the busiest
// node, and files the least busy node already holds, are not candidates, so a
// move never removes an origin replica and never changes a file's replica
// count. Outstanding fan-out is drained before anything moves.
func (c *Coordinator) ServerBalance(ctx context.Context) (Migration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fanout.Wait()

	m := Migration{From: 0, To: -1}
	m.ToLoad = math.MaxInt64
	for id := range c.nodes {
		load, err := c.loadProxy(ctx, id)
		if err != nil {
			return Migration{}, err
		}
		if load > m.FromLoad {
			m.From, m.FromLoad = id, load
		}
		if load < m.ToLoad {
			m.To, m.ToLoad = id, load
		}
	}
	if m.From == m.To {
		c.logger.Debug().Int("node", m.From).Msg("server balance: pool is level")
		return m, nil
	}

	held, err := c.meta.SMembers(ctx, serverKey(m.From))
	if err != nil {
		return m, fmt.Errorf("files on node %d: %w", m.From, err)
	}
	slices.Sort(held)
	var candidates []string
	for _, name := range held {
		origin, err := c.origin(ctx, name)
		if err != nil {
			return m, err
		}
		if origin == m.From {
			continue
		}
		present, err := c.meta.SIsMember(ctx, membersKey(name), strconv.Itoa(m.To))
		if err != nil {
			return m, fmt.Errorf("members of %s: %w", name, err)
		}
		if !present {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		c.logger.Debug().Int("from", m.From).Int("to", m.To).Msg("server balance: nothing movable")
		return m, nil
	}
	m.File = candidates[c.rng.IntN(len(candidates))]

	vv, err := c.nodes[m.From].Delete(m.File)
	if err != nil {
		return m, fmt.Errorf("detach %s from node %d: %w", m.File, m.From, err)
	}
	if err := c.removeMember(ctx, m.File, m.From); err != nil {
		return m, err
	}
	if err := c.nodes[m.To].AddReplica(m.File, vv); err != nil {
		return m, fmt.Errorf("attach %s to node %d: %w", m.File, m.To, err)
	}
	if err := c.addMember(ctx, m.File, m.To); err != nil {
		return m, err
	}
	m.Moved = true

	c.logger.Info().Str("file", m.File).Int("from", m.From).Int("to", m.To).
		Int64("from_load", m.FromLoad).Int64("to_load", m.ToLoad).Msg("file migrated")
	return m, nil
}

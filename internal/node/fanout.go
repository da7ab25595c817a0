package node

import (
	"sync"
	"sync/atomic"
)

// Propagate forwards an already-applied write to peers without waiting for
// them. Each peer is written from its own goroutine under that peer's lock;
// a peer that fails (for instance because it is unavailable) simply misses
// the update. Delivery is best-effort, not at-least-once.
//
// If wg is non-nil every spawned goroutine is tracked on it so callers can
// drain outstanding propagation on shutdown or in tests.
func (n *Node) Propagate(wg *sync.WaitGroup, fanoutID, name, value string, version int, peers []*Node) {
	for _, peer := range peers {
		if peer == nil || peer.ID == n.ID {
			continue
		}
		if wg != nil {
			wg.Add(1)
		}
		go func(peer *Node) {
			if wg != nil {
				defer wg.Done()
			}
			if _, err := peer.Write(name, value, version); err != nil {
				atomic.AddUint64(&n.stats.Dropped, 1)
				n.logger.Warn().Err(err).Str("fanout", fanoutID).Str("file", name).
					Int("peer", peer.ID).Msg("fan-out write lost")
				return
			}
			n.logger.Debug().Str("fanout", fanoutID).Str("file", name).
				Int("peer", peer.ID).Int("version", version).Msg("fan-out write applied")
		}(peer)
	}
}

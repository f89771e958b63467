package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// depOrderKey is a deterministic sort key for a dep callable within one
// resolve's levels: sha256(node type name, level index, dep id), first 8
// bytes as a big-endian uint64. Dispatch itself doesn't need this — every dep in a level fans
// out concurrently regardless of order — but emitting dep-timing events
// in a reproducible order makes traces diffable across runs of the same
// graph.
func depOrderKey(nodeTypeName string, levelIndex int, depID string) uint64 {
	h := sha256.New()
	h.Write([]byte(nodeTypeName))
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, uint32(levelIndex))
	h.Write(idx)
	h.Write([]byte(depID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// depTiming records one resolved dep's wall-clock cost for the run record's
// dep_timings.
type depTiming struct {
	orderKey   uint64
	CallableID string
	DurationNs int64
}

// sortDepTimings orders a level's completed timings by depOrderKey so two
// runs of the same graph emit dep_timings in the same sequence even though
// the goroutines that produced them raced.
func sortDepTimings(timings []depTiming) {
	sort.Slice(timings, func(i, j int) bool { return timings[i].orderKey < timings[j].orderKey })
}

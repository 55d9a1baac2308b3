package cluster

import "hash/fnv"

// Shard maps a source ID to a shard index in [0, poolSize) using FNV-1a —
// deterministic, stdlib, and as good a fit as any purpose-built sharding
// library for a one-line hash-mod-N.
func Shard(sourceID string, poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceID))
	return int(h.Sum32()) % poolSize
}

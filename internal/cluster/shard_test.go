package cluster

import "testing"

func TestShardIsDeterministicAndInRange(t *testing.T) {
	for _, sourceID := range []string{"s1", "s2", "some-long-source-id"} {
		first := Shard(sourceID, 8)
		if first < 0 || first >= 8 {
			t.Fatalf("Shard(%q, 8) = %d, out of range", sourceID, first)
		}
		if again := Shard(sourceID, 8); again != first {
			t.Fatalf("Shard(%q, 8) not deterministic: %d then %d", sourceID, first, again)
		}
	}
}

func TestShardZeroPoolSize(t *testing.T) {
	if got := Shard("s1", 0); got != 0 {
		t.Fatalf("Shard with poolSize 0 = %d, want 0", got)
	}
}

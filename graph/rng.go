package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"time"
)

// rngKey is the context key a run's deterministic RNG is attached under.
type rngKey struct{}

// initRNG derives a deterministic *rand.Rand from runID: same run ID,
// same retry jitter sequence, so a replayed run produces the same
// transport-retry delays as the original.
func initRNG(runID string) *rand.Rand {
	sum := sha256.Sum256([]byte(runID))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	return rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic RNG for replay, not security
}

// withRNG attaches runID's deterministic RNG to ctx for retry backoff to
// pick up.
func withRNG(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, rngKey{}, initRNG(runID))
}

// retryBackoff returns base plus a jitter in [0, base), using ctx's
// deterministic RNG if one was attached by withRNG, or an unseeded
// source otherwise (e.g. an LM driven outside of a Registry run).
func retryBackoff(ctx context.Context, base time.Duration) time.Duration {
	if rng, ok := ctx.Value(rngKey{}).(*rand.Rand); ok && rng != nil {
		return base + time.Duration(rng.Int63n(int64(base)))
	}
	return base + time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
}

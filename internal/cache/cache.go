// Package cache short-circuits forwarding when an equivalent prior response
// exists. Two backends implement ResponseCache: an in-process map (default)
// and redis for deployments that want the cache shared across instances.
// Cache failures are never fatal; callers treat them as misses.
package cache

import (
	"context"
	"time"
)

// Entry is one cached upstream response together with the token counts needed
// to account for a hit as if it were a live call.
type Entry struct {
	Body         []byte    `json:"body"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	StoredAt     time.Time `json:"stored_at"`
}

// ResponseCache hides the backing store so the in-process map can be swapped
// for a shared one without touching callers.
type ResponseCache interface {
	// Lookup checks the fingerprint tiers in order and returns the first hit
	// along with the tier that matched.
	Lookup(ctx context.Context, fp Fingerprints) (*Entry, string, bool)
	// Store records the entry under every available fingerprint tier.
	Store(ctx context.Context, fp Fingerprints, entry Entry, ttl time.Duration)
}

// tiers returns the (tier, key) pairs to probe, in match priority order.
func (fp Fingerprints) tiers() [][2]string {
	out := make([][2]string, 0, 3)
	if fp.Exact != "" {
		out = append(out, [2]string{TierExact, fp.Exact})
	}
	if fp.Normalized != "" {
		out = append(out, [2]string{TierNormalized, fp.Normalized})
	}
	if fp.Semantic != "" {
		out = append(out, [2]string{TierSemantic, fp.Semantic})
	}
	return out
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Fingerprint tiers, checked in strict order; the first hit wins.
const (
	TierExact      = "exact"
	TierNormalized = "normalized"
	// TierSemantic is reserved for an embedding-similarity bucket. Until a
	// backend implements it the tier is simply skipped.
	TierSemantic = "semantic"
)

// Fingerprints identifies one request at each tier. An empty tier value means
// the tier is not available for this request.
type Fingerprints struct {
	Exact      string
	Normalized string
	Semantic   string
}

// volatileFields carry no meaning for response equivalence and are stripped
// before normalization.
var volatileFields = []string{"stream", "user", "metadata", "request_id", "requestId"}

// Compute derives the cache fingerprints for a request. The exact tier hashes
// the raw serialized body; the normalized tier collapses whitespace and
// casing in text content and drops volatile fields first.
func Compute(provider, model string, body []byte) Fingerprints {
	fp := Fingerprints{
		Exact: hashKey(provider, model, string(body)),
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fp
	}
	for _, field := range volatileFields {
		delete(payload, field)
	}
	normalizeValue(payload)
	// Go's json.Marshal writes map keys in sorted order, so the normalized
	// serialization is canonical.
	canonical, err := json.Marshal(payload)
	if err != nil {
		return fp
	}
	fp.Normalized = hashKey(provider, model, string(canonical))
	return fp
}

func hashKey(provider, model, payload string) string {
	sum := sha256.Sum256([]byte(provider + ":" + model + ":" + payload))
	return hex.EncodeToString(sum[:])
}

func normalizeValue(v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if s, ok := child.(string); ok {
				val[k] = normalizeText(s)
				continue
			}
			normalizeValue(child)
		}
	case []interface{}:
		for i, child := range val {
			if s, ok := child.(string); ok {
				val[i] = normalizeText(s)
				continue
			}
			normalizeValue(child)
		}
	}
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

package models

// ProxyLog is the append-only audit record written for every request that
// reached the forwarder or was served from cache. Only Feedback is ever
// updated after creation.
type ProxyLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"` // unix millis
	CredentialID string `gorm:"index" json:"credential_id"`
	OrgID        string `gorm:"index" json:"org_id"`
	Provider     string `gorm:"index" json:"provider"`

	RequestedModel string `gorm:"index" json:"requested_model"`
	UsedModel      string `json:"used_model"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	CostUSD         float64 `json:"cost_usd"`
	OriginalCostUSD float64 `json:"original_cost_usd"`
	SavedUSD        float64 `json:"saved_usd"`

	DurationMs int64 `json:"duration_ms"`
	Status     int   `json:"status"`

	CacheHit bool `json:"cache_hit"`
	Routed   bool `json:"routed"`

	GuardrailAction string `json:"guardrail_action,omitempty"` // e.g. "masked_pii"
	Error           string `json:"error,omitempty"`

	// Feedback is attached later via the feedback endpoint: "", "positive" or "negative".
	Feedback string `json:"feedback,omitempty"`
}

// SpendStats aggregates logged spend and savings for the stats endpoint.
type SpendStats struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	RoutedCount   int64   `json:"routed_count"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	TotalSavedUSD float64 `json:"total_saved_usd"`
}

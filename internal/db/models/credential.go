package models

import "time"

// Provider identifiers for upstream LLM APIs.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	// ProviderAuto marks credentials not bound to one provider; the target is
	// inferred per request from the body/path.
	ProviderAuto = "auto"
)

// Credential stores a proxy credential and its limits. The raw token is never
// persisted; TokenHash is the SHA-256 hex of the token and lookups go through it.
type Credential struct {
	ID       string `gorm:"primaryKey" json:"id"` // UUID
	OrgID    string `gorm:"index;not null" json:"org_id"`
	Provider string `gorm:"not null;default:'auto'" json:"provider"` // "openai", "anthropic", "google", "auto"

	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`

	// EncryptedKey holds the upstream key for a bound provider.
	// EncryptedKeys holds a JSON map provider -> encrypted key for "auto"
	// credentials. Both are secretbox ciphertexts, base64-encoded.
	EncryptedKey  string `json:"-"`
	EncryptedKeys string `gorm:"type:text" json:"-"`

	MonthlyBudgetUSD *float64 `json:"monthly_budget_usd,omitempty"`
	RateLimitPerMin  *int     `json:"rate_limit_per_min,omitempty"`

	CacheEnabled    bool `gorm:"default:true" json:"cache_enabled"`
	CacheTTLSeconds int  `gorm:"default:300" json:"cache_ttl_seconds"`
	RoutingEnabled  bool `gorm:"default:false" json:"routing_enabled"`

	MaxInputChars int  `gorm:"default:0" json:"max_input_chars"` // 0 = unlimited
	BlockKeywords bool `gorm:"default:true" json:"block_keywords"`
	MaskPII       bool `gorm:"default:false" json:"mask_pii"`

	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

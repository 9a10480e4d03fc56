// Package pricing computes the USD cost of a model exchange from
// per-million-token prices. The hot path reads an in-memory cache refreshed
// from the model_prices table on an interval; a static fallback covers any
// model the cache does not know, so a pricing failure never blocks a request.
package pricing

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/costspent/llm-gateway/internal/db/models"
	"gorm.io/gorm"
)

// Price holds per-million-token USD prices for one model.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// fallbackPrices is the static table used for models absent from the refreshed
// cache. Per-1M-token USD, matching published provider list prices.
var fallbackPrices = map[string]Price{
	// OpenAI
	"gpt-4o":        {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":   {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4-turbo":   {InputPerMTok: 10.00, OutputPerMTok: 30.00},
	"gpt-4":         {InputPerMTok: 30.00, OutputPerMTok: 60.00},
	"gpt-3.5-turbo": {InputPerMTok: 0.50, OutputPerMTok: 1.50},
	"o3-mini":       {InputPerMTok: 1.10, OutputPerMTok: 4.40},

	// Anthropic
	"claude-3-opus-20240229":   {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-3-5-sonnet-latest": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-latest":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-3-haiku-20240307":  {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 5.00},
	"gemini-1.5-flash": {InputPerMTok: 0.075, OutputPerMTok: 0.30},
	"gemini-2.0-flash": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
}

// defaultPrice is the conservative assumption for fully unknown models.
var defaultPrice = Price{InputPerMTok: 5.00, OutputPerMTok: 15.00}

// DefaultSeedPrices returns the static table as rows for first-run seeding.
func DefaultSeedPrices() []models.ModelPrice {
	providerOf := func(model string) string {
		switch {
		case strings.HasPrefix(model, "claude"):
			return models.ProviderAnthropic
		case strings.HasPrefix(model, "gemini"):
			return models.ProviderGoogle
		default:
			return models.ProviderOpenAI
		}
	}
	rows := make([]models.ModelPrice, 0, len(fallbackPrices))
	for model, p := range fallbackPrices {
		rows = append(rows, models.ModelPrice{
			Model:         model,
			Provider:      providerOf(model),
			InputPerMTok:  p.InputPerMTok,
			OutputPerMTok: p.OutputPerMTok,
		})
	}
	return rows
}

// Table resolves model prices and computes costs.
type Table struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string]Price

	stopCh chan struct{}
}

// NewTable creates a Table and loads the initial cache from the store.
func NewTable(db *gorm.DB) *Table {
	t := &Table{
		db:     db,
		cache:  make(map[string]Price),
		stopCh: make(chan struct{}),
	}
	t.refresh()
	return t
}

// StartRefreshLoop reloads prices from the store on the given interval until Stop.
func (t *Table) StartRefreshLoop(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the refresh loop.
func (t *Table) Stop() {
	close(t.stopCh)
}

func (t *Table) refresh() {
	if t.db == nil {
		return
	}
	var rows []models.ModelPrice
	if err := t.db.Find(&rows).Error; err != nil {
		// Keep the previous cache; fallback table still answers lookups.
		log.Printf("⚠️ Price refresh failed: %v", err)
		return
	}
	next := make(map[string]Price, len(rows))
	for _, row := range rows {
		next[row.Model] = Price{InputPerMTok: row.InputPerMTok, OutputPerMTok: row.OutputPerMTok}
	}
	t.mu.Lock()
	t.cache = next
	t.mu.Unlock()
}

// Lookup resolves the price for a model: refreshed cache first, static
// fallback second, conservative default last. Never does I/O.
func (t *Table) Lookup(model string) Price {
	t.mu.RLock()
	p, ok := t.cache[model]
	t.mu.RUnlock()
	if ok {
		return p
	}
	if p, ok := fallbackPrices[model]; ok {
		return p
	}
	// Try prefix families so dated variants (e.g. gpt-4o-2024-08-06) still
	// price. Longest prefix wins: gpt-4o-mini-… must not resolve as gpt-4o.
	best := ""
	var bestPrice Price
	for known, p := range fallbackPrices {
		if strings.HasPrefix(model, known) && len(known) > len(best) {
			best = known
			bestPrice = p
		}
	}
	if best != "" {
		return bestPrice
	}
	return defaultPrice
}

// Cost computes (in*priceIn + out*priceOut) / 1e6 for the given model.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	p := t.Lookup(model)
	return (float64(inputTokens)*p.InputPerMTok + float64(outputTokens)*p.OutputPerMTok) / 1_000_000.0
}

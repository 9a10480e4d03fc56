package models

import "time"

// ModelPrice stores per-million-token USD prices for one model. Seeded from
// the static fallback table on first run and refreshed out of band; the
// pricing cache reads this table on an interval, never on the request path.
type ModelPrice struct {
	Model         string    `gorm:"primaryKey" json:"model"`
	Provider      string    `gorm:"index" json:"provider"`
	InputPerMTok  float64   `json:"input_per_mtok"`
	OutputPerMTok float64   `json:"output_per_mtok"`
	UpdatedAt     time.Time `json:"updated_at"`
}

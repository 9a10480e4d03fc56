package models

import "time"

// RoutingFeedback accumulates caller feedback for one (original -> routed)
// model substitution pair. The router stops substituting a pair once it has
// at least MinFeedbackCount entries and its score drops below DisableThreshold.
type RoutingFeedback struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OriginalModel string    `gorm:"uniqueIndex:idx_model_pair;not null" json:"original_model"`
	RoutedModel   string    `gorm:"uniqueIndex:idx_model_pair;not null" json:"routed_model"`
	PositiveCount int       `gorm:"default:0" json:"positive_count"`
	NegativeCount int       `gorm:"default:0" json:"negative_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Score is the fraction of positive feedback, optimistically 1.0 when the
// pair has no feedback yet.
func (f *RoutingFeedback) Score() float64 {
	total := f.PositiveCount + f.NegativeCount
	if total == 0 {
		return 1.0
	}
	return float64(f.PositiveCount) / float64(total)
}

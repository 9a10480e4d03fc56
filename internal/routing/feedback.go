package routing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/costspent/llm-gateway/internal/db/models"
	"gorm.io/gorm"
)

// FeedbackStore persists per-pair feedback counts and serves scores to the
// router from an in-memory snapshot so routing decisions never wait on the
// store. The snapshot is eventually consistent with the table, which is
// acceptable: a few extra routing decisions around the disable threshold have
// bounded cost impact.
type FeedbackStore struct {
	db *gorm.DB

	mu    sync.RWMutex
	pairs map[string]models.RoutingFeedback
}

// NewFeedbackStore loads existing feedback rows and returns the store.
func NewFeedbackStore(database *gorm.DB) *FeedbackStore {
	s := &FeedbackStore{db: database, pairs: make(map[string]models.RoutingFeedback)}
	s.reload()
	return s
}

func pairKey(original, routed string) string {
	return original + "→" + routed
}

func (s *FeedbackStore) reload() {
	var rows []models.RoutingFeedback
	if err := s.db.Find(&rows).Error; err != nil {
		return
	}
	next := make(map[string]models.RoutingFeedback, len(rows))
	for _, row := range rows {
		next[pairKey(row.OriginalModel, row.RoutedModel)] = row
	}
	s.mu.Lock()
	s.pairs = next
	s.mu.Unlock()
}

// PairScore implements Scorer.
func (s *FeedbackStore) PairScore(original, routed string) (float64, int) {
	s.mu.RLock()
	row, ok := s.pairs[pairKey(original, routed)]
	s.mu.RUnlock()
	if !ok {
		return 1.0, 0
	}
	return row.Score(), row.PositiveCount + row.NegativeCount
}

// Record adds one feedback entry for a pair, creating the row on first use.
func (s *FeedbackStore) Record(original, routed, feedback string) error {
	if feedback != "positive" && feedback != "negative" {
		return fmt.Errorf("invalid feedback value %q", feedback)
	}

	var row models.RoutingFeedback
	err := s.db.Where("original_model = ? AND routed_model = ?", original, routed).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.RoutingFeedback{OriginalModel: original, RoutedModel: routed}
	} else if err != nil {
		return err
	}

	if feedback == "positive" {
		row.PositiveCount++
	} else {
		row.NegativeCount++
	}
	if err := s.db.Save(&row).Error; err != nil {
		return err
	}

	s.mu.Lock()
	s.pairs[pairKey(original, routed)] = row
	s.mu.Unlock()
	return nil
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrLogNotFound = errors.New("log entry not found")

// CreateProxyLog persists one audit record, filling ID/Timestamp when unset.
func CreateProxyLog(db *gorm.DB, entry *models.ProxyLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	return db.Create(entry).Error
}

// MonthlySpend sums logged cost for an org inside the current calendar month.
// The sum is recomputed on every call; budget correctness is delegated to the
// store rather than to in-process counters.
func MonthlySpend(ctx context.Context, db *gorm.DB, orgID string, now time.Time) (float64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var spent float64
	err := db.WithContext(ctx).
		Model(&models.ProxyLog{}).
		Where("org_id = ? AND timestamp >= ?", orgID, monthStart.UnixMilli()).
		Select("COALESCE(SUM(cost_usd), 0)").
		Scan(&spent).Error
	if err != nil {
		return 0, err
	}
	return spent, nil
}

// GetProxyLog fetches one log entry by ID.
func GetProxyLog(db *gorm.DB, id string) (*models.ProxyLog, error) {
	var entry models.ProxyLog
	if err := db.Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// AttachFeedback records caller feedback on an existing log entry. This is
// the only mutation ever applied to a ProxyLog after creation.
func AttachFeedback(db *gorm.DB, id, feedback string) (*models.ProxyLog, error) {
	entry, err := GetProxyLog(db, id)
	if err != nil {
		return nil, err
	}
	if err := db.Model(entry).Update("feedback", feedback).Error; err != nil {
		return nil, err
	}
	entry.Feedback = feedback
	return entry, nil
}

// GetSpendStats aggregates request counts, spend and savings across all logs.
func GetSpendStats(db *gorm.DB) (models.SpendStats, error) {
	var stats models.SpendStats

	if err := db.Model(&models.ProxyLog{}).Count(&stats.TotalRequests).Error; err != nil {
		return stats, err
	}
	db.Model(&models.ProxyLog{}).Where("cache_hit = ?", true).Count(&stats.CacheHits)
	db.Model(&models.ProxyLog{}).Where("routed = ?", true).Count(&stats.RoutedCount)
	db.Model(&models.ProxyLog{}).Select("COALESCE(SUM(cost_usd), 0)").Scan(&stats.TotalCostUSD)
	db.Model(&models.ProxyLog{}).Select("COALESCE(SUM(saved_usd), 0)").Scan(&stats.TotalSavedUSD)

	return stats, nil
}

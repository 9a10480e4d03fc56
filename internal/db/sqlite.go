package db

import (
	"log"

	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate all models
	if err := db.AutoMigrate(
		&models.Credential{},
		&models.ProxyLog{},
		&models.ModelPrice{},
		&models.RoutingFeedback{},
	); err != nil {
		return nil, err
	}

	return db, nil
}

// SeedModelPrices inserts prices for any model missing from the model_prices
// table. Existing rows win so out-of-band refreshes are never clobbered.
func SeedModelPrices(db *gorm.DB, prices []models.ModelPrice) {
	seeded := 0
	for _, p := range prices {
		var count int64
		db.Model(&models.ModelPrice{}).Where("model = ?", p.Model).Count(&count)
		if count > 0 {
			continue
		}
		if err := db.Create(&p).Error; err != nil {
			log.Printf("⚠️ Failed to seed price for %s: %v", p.Model, err)
			continue
		}
		seeded++
	}
	if seeded > 0 {
		log.Printf("✅ Seeded %d model prices", seeded)
	}
}

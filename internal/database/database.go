package database

import (
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gdz-ai-bot/internal/config"
	"gdz-ai-bot/internal/models"
)

// Connect opens Postgres when DB_HOST is configured, falls back to the
// embedded sqlite file otherwise.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	if cfg.DBHost != "" {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		log.Println("Connected to PostgreSQL")
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		log.Printf("Opened sqlite database at %s", cfg.DBPath)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Setting{}, &models.Broadcast{}, &models.BroadcastClick{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

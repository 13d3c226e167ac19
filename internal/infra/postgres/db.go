package postgres

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"puborch/internal/config"
	"puborch/internal/domain"
)

// Open connects to Postgres and migrates the engine's tables. GORM's own SQL
// logging stays silent; the engine logs through zerolog.
func Open(cfg config.Database) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.QueueItem{},
		&domain.Checkback{},
		&domain.WebhookEndpoint{},
		&domain.WebhookDelivery{},
	); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("db", cfg.Name).Msg("connected to postgres")
	return db, nil
}

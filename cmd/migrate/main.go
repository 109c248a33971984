package main

import (
	"attendance_srv/internal/config"
	"attendance_srv/internal/database"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Create database connection
	db, err := database.NewDatabase(database.Config{
		Driver: cfg.DB.Driver,
		DSN:    cfg.DB.DSN,
		Debug:  true,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Run migrations
	if err := database.AutoMigrate(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	logger.WithField("driver", cfg.DB.Driver).Info("Migrations completed successfully")
}

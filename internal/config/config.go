package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"logitrack/internal/models"
)

// DB is the globally accessible database handle.
var DB *gorm.DB

// InitDB opens the Postgres connection from environment variables and
// migrates the schema. TranslateError is on so unique-index violations
// surface as gorm.ErrDuplicatedKey.
func InitDB() (*gorm.DB, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, relying on env vars.")
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "password")
	dbname := getEnv("DB_NAME", "logitrack")
	sslmode := getEnv("DB_SSLMODE", "disable")
	timezone := getEnv("DB_TIMEZONE", "UTC")

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		host, user, password, dbname, port, sslmode, timezone,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Delivery{}, &models.LocationPing{}); err != nil {
		return nil, fmt.Errorf("auto-migration: %w", err)
	}

	DB = db
	return db, nil
}

// GetDB returns the initialized DB handle.
func GetDB() *gorm.DB {
	return DB
}

// ServerAddr is the listen address, ":8080" unless PORT overrides it.
func ServerAddr() string {
	return ":" + getEnv("PORT", "8080")
}

// RedisAddr returns the Redis address for cross-instance fan-out, empty when
// the deployment runs a single instance.
func RedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

// getEnv reads an environment variable or returns the provided default.
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// DBDriver selects the store backend: postgres, sqlite or memory.
	DBDriver string
	// DBSource is the pgx connection string or the sqlite file path.
	DBSource string

	Port string
	Env  string

	JWTSecret string

	DefaultCurrency string

	NotifyBuffer int
}

func Load() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	driver := getEnvString("DB_DRIVER", "postgres")
	switch driver {
	case "postgres", "sqlite", "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want postgres, sqlite or memory)", driver)
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" && driver != "memory" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required for driver %q", driver)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return &Config{
		DBDriver:        driver,
		DBSource:        dbSource,
		Port:            getEnvString("SERVER_PORT", "8080"),
		Env:             getEnvString("ENVIRONMENT", "development"),
		JWTSecret:       secret,
		DefaultCurrency: getEnvString("DEFAULT_CURRENCY", "INR"),
		NotifyBuffer:    getEnvInt("NOTIFY_BUFFER", 64),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

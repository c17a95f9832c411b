package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	DBSource   string
	DBMaxConns int32
	Port       string
	Env        string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	maxConns := int32(0)
	if raw := os.Getenv("DB_MAX_CONNS"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("DB_MAX_CONNS must be a positive integer, got %q", raw)
		}
		maxConns = int32(n)
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource:   dbSource,
		DBMaxConns: maxConns,
		Port:       port,
		Env:        env,
	}, nil
}

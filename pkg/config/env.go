package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local and .env if present. Missing files are not
// an error; malformed files are.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

func envString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// envInt reads an integer env var with a minimum floor. Values that fail to
// parse or fall below the floor are replaced by the fallback.
func envInt(key string, fallback, min int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	if val < min {
		slog.Warn("Env var below minimum, using default", "key", key, "value", val, "min", min, "default", fallback)
		return fallback
	}
	return val
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return val
}

// envFloat reads a float env var with a minimum floor.
func envFloat(key string, fallback, min float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid float env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	if val < min {
		slog.Warn("Env var below minimum, using default", "key", key, "value", val, "min", min, "default", fallback)
		return fallback
	}
	return val
}

// envSeconds reads an integer number of seconds with a floor and returns it
// as a duration.
func envSeconds(key string, fallback, min int) time.Duration {
	return time.Duration(envInt(key, fallback, min)) * time.Second
}

// envList reads a comma-separated env var into a trimmed slice.
func envList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envSet reads a comma-separated env var into a membership set.
func envSet(key string) map[string]bool {
	set := make(map[string]bool)
	for _, v := range envList(key, nil) {
		set[v] = true
	}
	return set
}

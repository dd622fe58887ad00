package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file from the working directory if there is one.
// Variables already set in the process environment win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

// GetEnv returns the variable or an empty string.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvString returns defaultValue for a missing or empty variable.
func GetEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParsed applies parse to the trimmed variable and falls back to
// defaultValue when it is missing or parse fails.
func envParsed[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	parsed, err := parse(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func GetEnvInt(key string, defaultValue int) int {
	return envParsed(key, defaultValue, strconv.Atoi)
}

func GetEnvBool(key string, defaultValue bool) bool {
	return envParsed(key, defaultValue, strconv.ParseBool)
}

// GetEnvDuration reads a time.ParseDuration string such as "15s". A plain
// number is taken as seconds.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return envParsed(key, defaultValue, func(s string) (time.Duration, error) {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	})
}

// GetEnvList reads a comma separated list, dropping empty items.
func GetEnvList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

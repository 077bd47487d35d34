package envutil

import (
	"fmt"
	"os"
	"strconv"
)

// GetPort returns the port number to bind to from the PORT environment variable,
// or the default port (8080) if it has not been set.
func GetPort() string {
	return GetEnvOrFallback("PORT", "8080")
}

// GetEnvOrFallback gets the environment variable for the specified key, but if
// it doesn't find a value, it'll instead return fallback.
func GetEnvOrFallback(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		value = fallback
	}
	return value
}

// GetIntEnvOrFallback parses the environment variable for the specified key
// as an integer, returning fallback when it is not set.
func GetIntEnvOrFallback(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%q environment variable is not an integer: %w", key, err)
	}
	return i, nil
}

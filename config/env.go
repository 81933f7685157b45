package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvFloat parses key as a float.
func EnvFloat(key string) (float64, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration parses key as a Go duration ("25s", "500ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

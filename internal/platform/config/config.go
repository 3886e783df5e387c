package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load applies the env file at path on top of the process environment.
// Variables already set in the environment win. A missing file is not an
// error; the service then runs on the environment and built-in defaults.
func Load(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// lookup returns the parsed value of key, or fallback when the variable is
// unset, blank or does not parse.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	v, err := parse(s)
	if err != nil {
		return fallback
	}
	return v
}

func GetEnv(key, fallback string) string {
	return lookup(key, fallback, func(s string) (string, error) { return s, nil })
}

func GetEnvInt(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi)
}

// GetEnvInt64 is GetEnvInt for byte counts.
func GetEnvInt64(key string, fallback int64) int64 {
	return lookup(key, fallback, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// GetEnvDuration parses a time.Duration ("1s", "250ms"). A bare number is
// read as seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	return lookup(key, fallback, func(s string) (time.Duration, error) {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(f * float64(time.Second)), nil
	})
}

func GetEnvBool(key string, fallback bool) bool {
	return lookup(key, fallback, strconv.ParseBool)
}

package config

import (
	"os"
	"strconv"
	"sync"
)

// envCache memoizes EnvOrDefault lookups, mirroring
// synnergy-network/pkg/utils/env.go. The typed helpers below are not cached
// and read os.Getenv on every call.
var envCache sync.Map

// EnvOrDefault returns the environment variable key, or def if unset/empty.
func EnvOrDefault(key, def string) string {
	if v, ok := envCache.Load(key); ok {
		return v.(string)
	}
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	envCache.Store(key, v)
	return v
}

// EnvOrDefaultInt parses key as an int, or returns def on absence/error.
func EnvOrDefaultInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// EnvOrDefaultInt64 parses key as an int64, or returns def on absence/error.
func EnvOrDefaultInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvOrDefaultBool parses key as a bool, or returns def on absence/error.
func EnvOrDefaultBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// Package config centralizes the environment-variable-driven configuration
// the RTMP server and its collaborators read, following the teacher's
// env+dotenv pattern (no flags, no YAML) instead of introducing a config
// framework not present anywhere in the corpus.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads a .env file if present, matching the teacher's main.go/
// rtmp_server.go startup sequence. Missing .env is not an error.
func Load() {
	_ = godotenv.Load()
}

func GetString(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func GetInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func GetBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "YES") || strings.EqualFold(v, "true")
}

// GetStringList splits a comma separated environment variable, matching the
// teacher's WHITELIST_IPS parsing in rtmp_session_utils.go.
func GetStringList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

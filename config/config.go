// Package config loads runtime settings from the environment. A local .env
// file, when present, is loaded first and never overrides variables that
// are already set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration shared by the CLI and the server.
type Config struct {
	DBPath     string
	Port       string
	LogLevel   string
	LogJSON    bool
	Calendars  string
	EventsDir  string
	DriveRoot  string
	OutputDir  string
	Currency   string
	Fixtures   string
	CORSOrigin []string
}

// Load reads the configuration. envFiles defaults to ".env"; missing files
// are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	logJSON, err := getBool("GRANDCEDRE_LOG_JSON", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DBPath:     getEnv("GRANDCEDRE_DB", "data/data.db"),
		Port:       getEnv("GRANDCEDRE_PORT", "8080"),
		LogLevel:   getEnv("GRANDCEDRE_LOG_LEVEL", "info"),
		LogJSON:    logJSON,
		Calendars:  getEnv("GRANDCEDRE_CALENDARS", "data/calendars.json"),
		EventsDir:  getEnv("GRANDCEDRE_EVENTS_DIR", "data/events"),
		DriveRoot:  getEnv("GRANDCEDRE_DRIVE_ROOT", "output/drive"),
		OutputDir:  getEnv("GRANDCEDRE_OUTPUT_DIR", "output"),
		Currency:   getEnv("GRANDCEDRE_CURRENCY", "EURO"),
		Fixtures:   getEnv("GRANDCEDRE_FIXTURES", ""),
		CORSOrigin: splitList(getEnv("GRANDCEDRE_CORS_ORIGINS", "*")),
	}, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return ":" + c.Port }

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config captures environment driven configuration for the sheetwatch service.
type Config struct {
	HTTPPort       int
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	SQLiteDSN      string
	AllowedOrigins []string
	EnableEmulator bool
}

// Load parses configuration from the process environment. Optional values
// get defaults; required values missing or unparseable values are reported
// together in one error.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:       8083,
		RedirectURL:    "http://localhost:8083/api/v1/auth/callback",
		SQLiteDSN:      "file:sheetwatch.db?_foreign_keys=on",
		AllowedOrigins: []string{"http://localhost:9000"},
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 1)

	if portValue := strings.TrimSpace(os.Getenv("SHEETWATCH_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "SHEETWATCH_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if id := strings.TrimSpace(os.Getenv("SHEETWATCH_CLIENT_ID")); id == "" {
		missing = append(missing, "SHEETWATCH_CLIENT_ID")
	} else {
		cfg.ClientID = id
	}

	if secret := strings.TrimSpace(os.Getenv("SHEETWATCH_CLIENT_SECRET")); secret == "" {
		missing = append(missing, "SHEETWATCH_CLIENT_SECRET")
	} else {
		cfg.ClientSecret = secret
	}

	if redirect := strings.TrimSpace(os.Getenv("SHEETWATCH_REDIRECT_URL")); redirect != "" {
		cfg.RedirectURL = redirect
	}

	if dsn := strings.TrimSpace(os.Getenv("SHEETWATCH_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if origins := strings.TrimSpace(os.Getenv("SHEETWATCH_ALLOWED_ORIGINS")); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.AllowedOrigins = cfg.AllowedOrigins[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, p)
			}
		}
	}

	if emu := strings.TrimSpace(os.Getenv("SHEETWATCH_EMULATOR")); emu != "" {
		enabled, err := strconv.ParseBool(emu)
		if err != nil {
			invalid = append(invalid, "SHEETWATCH_EMULATOR")
		} else {
			cfg.EnableEmulator = enabled
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

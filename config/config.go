/*
config.go - Server configuration

PURPOSE:
  Collects every knob of cmd/server in one validated struct.

PRECEDENCE (highest first):
  1. Command-line flag
  2. Process environment
  3. .env file given with -env
  4. Built-in default

  ┌──────────────┬────────────────────────┬──────────────┐
  │ Flag         │ Environment            │ Default      │
  ├──────────────┼────────────────────────┼──────────────┤
  │ -port        │ HTTP_PORT              │ 8080         │
  │ -db          │ DATABASE_PATH          │ housing.db   │
  │ -log-level   │ LOG_LEVEL              │ info         │
  │ -ids         │ ID_STRATEGY            │ sequence     │
  │ -refresh     │ INVENTORY_REFRESH_SPEC │ @every 1m    │
  │ -cors        │ CORS_ORIGINS           │ *            │
  └──────────────┴────────────────────────┴──────────────┘

  -db=":memory:" opens an in-memory SQLite database; -db=":memory-store:"
  skips SQLite and uses the in-process map store.
*/
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// ID strategies.
const (
	IDSequence = "sequence"
	IDUUID     = "uuid"
)

// MemoryStore selects the in-process store instead of SQLite.
const MemoryStore = ":memory-store:"

type Config struct {
	Port                 int
	DatabasePath         string
	LogLevel             string
	IDStrategy           string
	InventoryRefreshSpec string
	CORSOrigins          []string
	EnvFile              string
}

// binding ties a flag to its environment fallback.
type binding struct {
	flag string
	env  string
}

var bindings = []binding{
	{"port", "HTTP_PORT"},
	{"db", "DATABASE_PATH"},
	{"log-level", "LOG_LEVEL"},
	{"ids", "ID_STRATEGY"},
	{"refresh", "INVENTORY_REFRESH_SPEC"},
	{"cors", "CORS_ORIGINS"},
}

// Load parses args (without the program name). lookup reads the process
// environment; main passes os.LookupEnv.
func Load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.Int("port", 8080, "HTTP server port")
	fs.String("db", "housing.db", `SQLite database path (":memory:" for in-memory SQLite, ":memory-store:" for no SQLite)`)
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("ids", IDSequence, "Identifier strategy: sequence|uuid")
	fs.String("refresh", "@every 1m", "Cron spec for the inventory gauge refresh")
	fs.String("cors", "*", "Comma-separated allowed CORS origins")
	envFile := fs.String("env", "", "Optional .env file with fallback values")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var fileEnv map[string]string
	if *envFile != "" {
		var err error
		if fileEnv, err = godotenv.Read(*envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
		}
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for _, b := range bindings {
		if explicit[b.flag] {
			continue
		}
		value, ok := lookup(b.env)
		if !ok {
			value, ok = fileEnv[b.env]
		}
		if !ok || value == "" {
			continue
		}
		if err := fs.Set(b.flag, value); err != nil {
			return nil, fmt.Errorf("invalid %s=%q: %w", b.env, value, err)
		}
	}

	cfg := &Config{
		DatabasePath:         fs.Lookup("db").Value.String(),
		LogLevel:             fs.Lookup("log-level").Value.String(),
		IDStrategy:           strings.ToLower(fs.Lookup("ids").Value.String()),
		InventoryRefreshSpec: fs.Lookup("refresh").Value.String(),
		CORSOrigins:          splitList(fs.Lookup("cors").Value.String()),
		EnvFile:              *envFile,
	}
	cfg.Port, _ = strconv.Atoi(fs.Lookup("port").Value.String())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and parses the refresh schedule.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	switch c.IDStrategy {
	case IDSequence, IDUUID:
	default:
		return fmt.Errorf("unknown id strategy %q (want %s or %s)", c.IDStrategy, IDSequence, IDUUID)
	}
	if _, err := cron.ParseStandard(c.InventoryRefreshSpec); err != nil {
		return fmt.Errorf("invalid inventory refresh spec %q: %w", c.InventoryRefreshSpec, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

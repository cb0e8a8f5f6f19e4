// Package config is the Config/Bootstrap component's (C9) loader: CLI flags
// win over an optional .env overlay, which wins over compiled-in defaults,
// per spec §9. Runtime-tunable Config rows (port range, main port, JWT
// secret, function timeout) are seeded and owned by internal/store instead —
// this package only resolves what is needed before the store exists.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/nanoedge/nanoedgert/pkg/logger"
)

// Runtime holds secondary tunables decoded from the environment, distinct
// from the CLI-flag-driven host/port/dbPath triple.
type Runtime struct {
	LogLevel            string        `env:"NANOEDGE_LOG_LEVEL"`
	LogFormat           string        `env:"NANOEDGE_LOG_FORMAT"`
	ShutdownGracePeriod time.Duration `env:"NANOEDGE_SHUTDOWN_GRACE_PERIOD"`
}

// Config is the fully resolved bootstrap configuration for cmd/nanoedgerd.
type Config struct {
	Host   string
	Port   int
	DBPath string

	Runtime Runtime
}

// Load parses args (typically os.Args[1:]) per spec §9: "--host" (default
// 127.0.0.1), "--port" (default 8000), and a positional dbPath (default
// in-memory). An optional .env file in the working directory is loaded
// first so its values are visible to envdecode, but CLI flags always win.
func Load(args []string) (*Config, error) {
	// Missing .env is not an error; only report genuine parse failures.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	fs := flag.NewFlagSet("nanoedgerd", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "address the HTTP front door binds")
	port := fs.Int("port", 8000, "port the HTTP front door binds")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	dbPath := ":memory:"
	if fs.NArg() > 0 {
		dbPath = fs.Arg(0)
	}

	rt := Runtime{
		LogLevel:            "info",
		LogFormat:           "json",
		ShutdownGracePeriod: 10 * time.Second,
	}
	if err := envdecode.Decode(&rt); err != nil && !strings.Contains(err.Error(), "none of the target fields were set") {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	return &Config{Host: *host, Port: *port, DBPath: dbPath, Runtime: rt}, nil
}

// Logging translates Runtime into the ambient logger package's config shape.
func (c *Config) Logging() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:  c.Runtime.LogLevel,
		Format: c.Runtime.LogFormat,
		Output: "stdout",
	}
}

// Addr is the listen address cmd/nanoedgerd binds the HTTP front door to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

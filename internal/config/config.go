// Package config loads runtime settings for the sf CLI and the sandbox.
//
// Sources, later ones winning: defaults, JSON file (-config), environment, flags.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/and161185/signflow/internal/model"
)

// Environment variables.
const (
	EnvBaseURL    = "SIGNFLOW_BASE_URL"
	EnvToken      = "SIGNFLOW_TOKEN"
	EnvLedgerDSN  = "SIGNFLOW_LEDGER_DSN"
	EnvLogLevel   = "SIGNFLOW_LOG_LEVEL"
	EnvPassphrase = "SIGNFLOW_PASSPHRASE"
	EnvSandboxKey = "SIGNFLOW_SANDBOX_KEY"

	EnvS3Region    = "SIGNFLOW_S3_REGION"
	EnvS3Endpoint  = "SIGNFLOW_S3_ENDPOINT"
	EnvS3AccessKey = "SIGNFLOW_S3_ACCESS_KEY"
	EnvS3SecretKey = "SIGNFLOW_S3_SECRET_KEY"
)

// Config holds client settings.
//
// Units: all durations are time.Duration; in JSON they are Go duration strings ("3s")
// or integer nanoseconds.
type Config struct {
	BaseURL        string
	Token          string
	LedgerDSN      string // empty keeps the ledger in a local file store
	LogLevel       string
	RequestTimeout time.Duration
	SubmitTimeout  time.Duration
	Retries        uint64
	PollInitial    time.Duration
	PollMax        time.Duration
	PollDeadline   time.Duration

	// S3 settings apply when an archive destination is an s3:// URL.
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.BaseURL = "http://127.0.0.1:8080"
	c.LogLevel = "warn"
	c.RequestTimeout = 30 * time.Second
	c.SubmitTimeout = 60 * time.Second
	c.Retries = 4
	c.PollInitial = 2 * time.Second
	c.PollMax = 30 * time.Second
	c.PollDeadline = 30 * time.Minute
}

// Sandbox holds sandbox server settings.
type Sandbox struct {
	Addr       string
	SigningKey string
	TokenTTL   time.Duration
	DevTokens  bool
	LogLevel   string
	Mailboxes  []model.Mailbox
	// AuthMaxFails bad tokens within AuthWindow block a client for AuthBlockFor; 0 disables.
	AuthMaxFails int
	AuthWindow   time.Duration
	AuthBlockFor time.Duration
}

// LoadDefaults populates s with sensible defaults.
func (s *Sandbox) LoadDefaults() {
	s.Addr = ":8080"
	s.LogLevel = "info"
	s.DevTokens = true
	s.AuthMaxFails = 5
	s.AuthWindow = 15 * time.Minute
	s.AuthBlockFor = 15 * time.Minute
}

// Duration accepts "3s" style strings or integer nanoseconds in JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(p)
	case float64:
		*d = Duration(time.Duration(x))
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Load builds a client Config from args (without the program name) and getenv.
// Flags are registered on fs; fs.Args() holds the remaining arguments afterwards.
func Load(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := configPath(args); path != "" {
		if err := loadJSON(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg, getenv)
	registerFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSandbox builds sandbox settings the same way.
func LoadSandbox(fs *flag.FlagSet, args []string, getenv func(string) string) (*Sandbox, error) {
	cfg := &Sandbox{}
	cfg.LoadDefaults()
	if path := configPath(args); path != "" {
		if err := loadSandboxJSON(path, cfg); err != nil {
			return nil, err
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvSandboxKey); v != "" {
		cfg.SigningKey = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	registerSandboxFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.SigningKey == "" {
		return nil, errors.New("config: sandbox signing key is required (-key or " + EnvSandboxKey + ")")
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv(EnvToken); v != "" {
		cfg.Token = v
	}
	if v := getenv(EnvLedgerDSN); v != "" {
		cfg.LedgerDSN = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(EnvS3Region); v != "" {
		cfg.S3Region = v
	}
	if v := getenv(EnvS3Endpoint); v != "" {
		cfg.S3Endpoint = v
	}
	if v := getenv(EnvS3AccessKey); v != "" {
		cfg.S3AccessKey = v
	}
	if v := getenv(EnvS3SecretKey); v != "" {
		cfg.S3SecretKey = v
	}
}

// configPath finds -config / --config in args without consuming them.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" || !strings.HasPrefix(a, "-") {
			return ""
		}
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "config" {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

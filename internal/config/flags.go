package config

import "flag"

func registerFlags(fs *flag.FlagSet, cfg *Config) {
	fs.String("config", "", "path to JSON config file")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "platform API base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "bearer credential (overrides the stored one)")
	fs.StringVar(&cfg.LedgerDSN, "ledger-dsn", cfg.LedgerDSN, "PostgreSQL DSN of the submission ledger")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	fs.DurationVar(&cfg.SubmitTimeout, "submit-timeout", cfg.SubmitTimeout, "submission call timeout")
	fs.Uint64Var(&cfg.Retries, "retries", cfg.Retries, "retries of idempotent reads")
	fs.DurationVar(&cfg.PollInitial, "poll-initial", cfg.PollInitial, "initial status poll interval")
	fs.DurationVar(&cfg.PollMax, "poll-max", cfg.PollMax, "max status poll interval")
	fs.DurationVar(&cfg.PollDeadline, "poll-deadline", cfg.PollDeadline, "give up waiting after this long")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "region of s3:// archive destinations")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3-compatible endpoint (e.g. MinIO)")
}

func registerSandboxFlags(fs *flag.FlagSet, cfg *Sandbox) {
	fs.String("config", "", "path to JSON config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.SigningKey, "key", cfg.SigningKey, "HS256 signing key (required)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "issued token TTL, 0 for no expiry")
	fs.BoolVar(&cfg.DevTokens, "dev-tokens", cfg.DevTokens, "expose POST /sandbox/token")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fs.IntVar(&cfg.AuthMaxFails, "auth-max-fails", cfg.AuthMaxFails, "bad tokens before a client is blocked (0 disables)")
	fs.DurationVar(&cfg.AuthWindow, "auth-window", cfg.AuthWindow, "window for counting bad tokens")
	fs.DurationVar(&cfg.AuthBlockFor, "auth-block", cfg.AuthBlockFor, "block duration")
}

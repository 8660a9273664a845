// Command sf is a CLI client for document-signing platforms.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/and161185/signflow/internal/config"
	"github.com/and161185/signflow/internal/crypto/vault"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/logging"
)

// ---- config/token store ----

const tokenPurpose = "sf-token"

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "signflow")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "signflow")
}

func tokenPath() string  { return filepath.Join(cfgDir(), "token.json") }
func ledgerPath() string { return filepath.Join(cfgDir(), "ledger.json") }

// saveToken stores tok, sealed under passphrase when one is given.
func saveToken(tok string, exp time.Time, passphrase string) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: tok, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	if passphrase != "" {
		if b, err = vault.Seal([]byte(passphrase), tokenPurpose, b); err != nil {
			return err
		}
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

func loadToken(passphrase string) (string, error) {
	b, err := os.ReadFile(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no stored token (run sf login): %w", errs.ErrAuth)
	}
	if err != nil {
		return "", err
	}
	if vault.Sealed(b) {
		if passphrase == "" {
			passphrase = askPassphrase("Passphrase: ")
		}
		if passphrase == "" {
			return "", fmt.Errorf("stored token is encrypted; set %s: %w", config.EnvPassphrase, errs.ErrAuth)
		}
		if b, err = vault.Open([]byte(passphrase), tokenPurpose, b); err != nil {
			return "", err
		}
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || (!tf.ExpiresAt.IsZero() && time.Now().After(tf.ExpiresAt)) {
		return "", fmt.Errorf("no valid token (login required): %w", errs.ErrAuth)
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from a JWT without verifying it. Opaque tokens never expire locally.
func tokenExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// ---- utils ----

// Terminal access, replaced in tests.
var (
	isTerminal   = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPassword = term.ReadPassword
)

// askPassphrase prompts on stderr and reads without echo. It returns "" when stdin
// is not a terminal.
func askPassphrase(prompt string) string {
	if !isTerminal() {
		return ""
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(b)
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `sf CLI
Usage:
  sf [-config file] [-base-url URL] [-token T] [-ledger-dsn DSN] <cmd> [args]

Commands:
  version
  login       -token <t> | -sandbox -subject <s> [-encrypt] (saves token)
  mailbox                                                 (default mailbox)
  upload      -file <path> [-strategy keep|delete]
  send        -package <file.json> [-request-id <uuid>] [-wait]
  quick-send  -file <path>... -to <email>... [-cc <email>...] [-eink]
  status      -id <envelope>
  wait        -id <envelope> [-deadline 30m]
  fetch       -id <envelope> [-out file.zip|s3://bucket/key]
  reconcile   [-request-id <uuid>]                        (all unresolved when omitted)

Environment: %s %s %s %s %s
             %s %s %s %s
`, config.EnvBaseURL, config.EnvToken, config.EnvLedgerDSN, config.EnvLogLevel, config.EnvPassphrase,
		config.EnvS3Region, config.EnvS3Endpoint, config.EnvS3AccessKey, config.EnvS3SecretKey)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration and dispatches the subcommand.
func main() {
	fs := flag.NewFlagSet("sf", flag.ExitOnError)
	fs.Usage = usage
	cfg, err := config.Load(fs, os.Args[1:], os.Getenv)
	if err != nil {
		fail(err)
	}
	if fs.NArg() < 1 {
		usage()
	}
	if fs.Arg(0) == "version" {
		fmt.Printf("sf %s (%s)\n", version, buildDate)
		return
	}

	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger, os.Getenv(config.EnvPassphrase), fs.Arg(0), fs.Args()[1:], os.Stdout)
	stop()
	_ = logger.Sync()
	if errors.Is(err, errUsage) {
		usage()
	}
	if err != nil {
		fail(err)
	}
}

var errUsage = errors.New("usage")

// run executes one subcommand, writing results to out.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger, passphrase, cmd string, args []string, out io.Writer) error {
	if cmd == "login" {
		return cmdLogin(ctx, cfg, passphrase, args, out)
	}
	handler, ok := commands[cmd]
	if !ok {
		return errUsage
	}
	a, err := newApp(ctx, cfg, log, passphrase, out)
	if err != nil {
		return err
	}
	defer a.Close()
	return handler(ctx, a, args)
}

// fail prints err with a hint for the error kinds a user can act on, then exits.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	switch {
	case errors.Is(err, errs.ErrUnknown):
		fmt.Fprintln(os.Stderr, "the submission outcome is unknown; run `sf reconcile` before resubmitting")
		os.Exit(3)
	case errors.Is(err, errs.ErrAuth):
		fmt.Fprintln(os.Stderr, "check the token (sf login)")
	case errors.Is(err, errs.ErrTimeout):
		os.Exit(4)
	}
	os.Exit(1)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/api"
	"github.com/and161185/signflow/internal/config"
	"github.com/and161185/signflow/internal/ledger"
	"github.com/and161185/signflow/internal/ledger/postgres"
	"github.com/and161185/signflow/internal/migrate"
	"github.com/and161185/signflow/internal/model"
	"github.com/and161185/signflow/internal/sandbox"
	"github.com/and161185/signflow/internal/service"
	"github.com/and161185/signflow/internal/session"
)

// app is everything a subcommand needs: configuration, services and the output sink.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	out     io.Writer
	svc     *service.Services
	closeFn func()
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, passphrase string, out io.Writer) (*app, error) {
	cred := cfg.Token
	if cred == "" {
		tok, err := loadToken(passphrase)
		if err != nil {
			return nil, err
		}
		cred = tok
	}
	client, err := api.New(cfg.BaseURL, session.New(session.Config{Credential: cred}), api.Options{
		Timeout: cfg.RequestTimeout,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	store, closeFn, err := openLedger(ctx, cfg.LedgerDSN)
	if err != nil {
		return nil, err
	}
	svc := service.New(client, store, service.Options{
		Retry: service.RetryPolicy{
			MaxRetries: cfg.Retries,
			Initial:    service.DefaultRetryPolicy.Initial,
			Max:        service.DefaultRetryPolicy.Max,
		},
		SubmitTimeout: cfg.SubmitTimeout,
		Logger:        log,
	})
	return &app{cfg: cfg, log: log, out: out, svc: svc, closeFn: closeFn}, nil
}

// Close releases the ledger.
func (a *app) Close() { a.closeFn() }

// openLedger uses PostgreSQL when dsn is set and a JSON file in cfgDir otherwise.
func openLedger(ctx context.Context, dsn string) (ledger.Store, func(), error) {
	if dsn == "" {
		f, err := ledger.OpenFile(ledgerPath())
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	}
	if err := migrate.Up(ctx, dsn); err != nil {
		return nil, nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger db: %w", err)
	}
	return postgres.NewLedger(db), db.Close, nil
}

// mailbox returns the mailbox named by id, or the platform default when id is empty.
func (a *app) mailbox(ctx context.Context, id string) (model.Mailbox, error) {
	if id != "" {
		return model.Mailbox{ID: id}, nil
	}
	return a.svc.Mailboxes.ResolveDefaultMailbox(ctx)
}

// sandboxToken asks a sandbox platform for a development token.
func sandboxToken(ctx context.Context, cfg *config.Config, subject string) (string, error) {
	u, err := url.JoinPath(cfg.BaseURL, "sandbox", "token")
	if err != nil {
		return "", err
	}
	body, _ := json.Marshal(sandbox.TokenRequest{Subject: subject})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := (&http.Client{Timeout: cfg.RequestTimeout}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sandbox token: %s", resp.Status)
	}
	var tr sandbox.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("sandbox token: %w", err)
	}
	return tr.Token, nil
}

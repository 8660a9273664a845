package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/and161185/signflow/internal/model"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Absent fields keep
// the values of earlier sources.
type jsonConfig struct {
	BaseURL        *string   `json:"base_url"`
	Token          *string   `json:"token"`
	LedgerDSN      *string   `json:"ledger_dsn"`
	LogLevel       *string   `json:"log_level"`
	RequestTimeout *Duration `json:"request_timeout"`
	SubmitTimeout  *Duration `json:"submit_timeout"`
	Retries        *uint64   `json:"retries"`
	PollInitial    *Duration `json:"poll_initial"`
	PollMax        *Duration `json:"poll_max"`
	PollDeadline   *Duration `json:"poll_deadline"`
	S3Region       *string   `json:"s3_region"`
	S3Endpoint     *string   `json:"s3_endpoint"`
	S3AccessKey    *string   `json:"s3_access_key"`
	S3SecretKey    *string   `json:"s3_secret_key"`
}

type jsonSandbox struct {
	Addr         *string         `json:"addr"`
	SigningKey   *string         `json:"signing_key"`
	TokenTTL     *Duration       `json:"token_ttl"`
	DevTokens    *bool           `json:"dev_tokens"`
	LogLevel     *string         `json:"log_level"`
	Mailboxes    []model.Mailbox `json:"mailboxes"`
	AuthMaxFails *int            `json:"auth_max_fails"`
	AuthWindow   *Duration       `json:"auth_window"`
	AuthBlockFor *Duration       `json:"auth_block_for"`
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}

func loadJSON(path string, cfg *Config) error {
	var jc jsonConfig
	if err := readJSON(path, &jc); err != nil {
		return err
	}
	setString(&cfg.BaseURL, jc.BaseURL)
	setString(&cfg.Token, jc.Token)
	setString(&cfg.LedgerDSN, jc.LedgerDSN)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)
	setDuration(&cfg.SubmitTimeout, jc.SubmitTimeout)
	setDuration(&cfg.PollInitial, jc.PollInitial)
	setDuration(&cfg.PollMax, jc.PollMax)
	setDuration(&cfg.PollDeadline, jc.PollDeadline)
	if jc.Retries != nil {
		cfg.Retries = *jc.Retries
	}
	return nil
}

func loadSandboxJSON(path string, cfg *Sandbox) error {
	var js jsonSandbox
	if err := readJSON(path, &js); err != nil {
		return err
	}
	setString(&cfg.Addr, js.Addr)
	setString(&cfg.SigningKey, js.SigningKey)
	setString(&cfg.LogLevel, js.LogLevel)
	setDuration(&cfg.TokenTTL, js.TokenTTL)
	setDuration(&cfg.AuthWindow, js.AuthWindow)
	setDuration(&cfg.AuthBlockFor, js.AuthBlockFor)
	if js.AuthMaxFails != nil {
		cfg.AuthMaxFails = *js.AuthMaxFails
	}
	if js.DevTokens != nil {
		cfg.DevTokens = *js.DevTokens
	}
	if len(js.Mailboxes) > 0 {
		cfg.Mailboxes = js.Mailboxes
	}
	return nil
}

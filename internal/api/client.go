// Package api is the HTTPS transport to the document-signing platform. Every request
// carries the session's bearer credential; responses are mapped onto the errs taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
	"github.com/and161185/signflow/internal/session"
)

const (
	defaultTimeout  = 30 * time.Second
	maxJSONBody     = 4 << 20
	maxArchiveBytes = 256 << 20
)

// Options tune the transport.
type Options struct {
	// HTTPClient overrides the underlying client. Its Timeout is left untouched.
	HTTPClient *http.Client
	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client calls the platform endpoints on behalf of one session.
type Client struct {
	base *url.URL
	hc   *http.Client
	sess *session.Session
	log  *zap.Logger
}

// New constructs a client for baseURL. The session is required.
func New(baseURL string, sess *session.Session, opts Options) (*Client, error) {
	if sess == nil {
		return nil, errors.New("api: nil session")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute", baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		t := opts.Timeout
		if t <= 0 {
			t = defaultTimeout
		}
		hc = &http.Client{Timeout: t}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{base: u, hc: hc, sess: sess, log: log}, nil
}

// ListMailboxes returns the mailboxes owned by the authenticated identity, in platform order.
func (c *Client) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var out MailboxesResponse
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(nil, "v1", "mailboxes"), nil, &out); err != nil {
		return nil, err
	}
	return out.Mailboxes, nil
}

// UploadDocument uploads one file into the mailbox.
func (c *Client) UploadDocument(ctx context.Context, mailboxID string, f model.File, strategy model.FieldStrategy) (model.DocumentRef, error) {
	body, ctype, err := multipartBody(func(w *multipart.Writer) error {
		if err := w.WriteField(FormFieldStrategy, string(strategy)); err != nil {
			return err
		}
		return writeFile(w, FormFile, f)
	})
	if err != nil {
		return model.DocumentRef{}, err
	}
	var out DocumentResponse
	u := c.endpoint(nil, "v1", "mailboxes", mailboxID, "documents")
	if err := c.do(ctx, http.MethodPost, u, ctype, body, &out); err != nil {
		return model.DocumentRef{}, err
	}
	if out.ID == "" || out.Hash == "" {
		return model.DocumentRef{}, fmt.Errorf("api: upload: incomplete document reference %+v", out)
	}
	return model.DocumentRef{ID: out.ID, Hash: out.Hash}, nil
}

// QuickSend submits raw files with a flat recipient list. Not idempotent.
func (c *Client) QuickSend(ctx context.Context, mailboxID string, files []model.File, recipients []model.QuickRecipient, reference string) (string, error) {
	rj, err := json.Marshal(recipients)
	if err != nil {
		return "", fmt.Errorf("api: quicksend: %w", err)
	}
	body, ctype, err := multipartBody(func(w *multipart.Writer) error {
		if err := w.WriteField(FormRecipients, string(rj)); err != nil {
			return err
		}
		if reference != "" {
			if err := w.WriteField(FormReference, reference); err != nil {
				return err
			}
		}
		for _, f := range files {
			if err := writeFile(w, FormFiles, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	var out SendResponse
	u := c.endpoint(nil, "v1", "mailboxes", mailboxID, "quicksend")
	if err := c.do(ctx, http.MethodPost, u, ctype, body, &out); err != nil {
		return "", err
	}
	return out.EnvelopeID, nil
}

// SendEnvelope performs the template two-phase send. Not idempotent.
func (c *Client) SendEnvelope(ctx context.Context, mailboxID, template, envelope, reference string) (string, error) {
	var out SendResponse
	u := c.endpoint(nil, "v1", "mailboxes", mailboxID, "envelopes")
	req := SendRequest{Template: template, Envelope: envelope, Reference: reference}
	if err := c.doJSON(ctx, http.MethodPost, u, req, &out); err != nil {
		return "", err
	}
	return out.EnvelopeID, nil
}

// ListEnvelopes lists envelopes of the mailbox, optionally filtered by client reference.
func (c *Client) ListEnvelopes(ctx context.Context, mailboxID, reference string) ([]model.EnvelopeStatus, error) {
	var q url.Values
	if reference != "" {
		q = url.Values{"reference": {reference}}
	}
	var out EnvelopesResponse
	u := c.endpoint(q, "v1", "mailboxes", mailboxID, "envelopes")
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Envelopes, nil
}

// EnvelopeStatus looks up the current status of an envelope.
func (c *Client) EnvelopeStatus(ctx context.Context, mailboxID, envelopeID string) (model.EnvelopeStatus, error) {
	var out model.EnvelopeStatus
	u := c.endpoint(nil, "v1", "mailboxes", mailboxID, "envelopes", envelopeID)
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return model.EnvelopeStatus{}, err
	}
	return out, nil
}

// DownloadArchive fetches the signed archive of a completed envelope.
func (c *Client) DownloadArchive(ctx context.Context, mailboxID, envelopeID string) ([]byte, error) {
	u := c.endpoint(nil, "v1", "mailboxes", mailboxID, "envelopes", envelopeID, "archive")
	resp, err := c.send(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return nil, fmt.Errorf("api: read archive: %w: %w", errs.ErrTransient, err)
	}
	if len(b) > maxArchiveBytes {
		return nil, fmt.Errorf("api: archive exceeds %d bytes", maxArchiveBytes)
	}
	return b, nil
}

// ---- plumbing ----

func (c *Client) endpoint(q url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := c.base.JoinPath(escaped...)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var (
		body  io.Reader
		ctype string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		body, ctype = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, u, ctype, body, out)
}

func (c *Client) do(ctx context.Context, method, u, ctype string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, u, ctype, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, u, err)
	}
	return nil
}

// send performs one request. Transport failures wrap both errs.ErrTransient and the
// underlying error (so context errors remain matchable); non-2xx become *Error.
func (c *Client) send(ctx context.Context, method, u, ctype string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("api: new request: %w", err)
	}
	if err := c.sess.Authorize(req); err != nil {
		return nil, err
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("url", u),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("api: %s %s: %w: %w", method, u, errs.ErrTransient, err)
	}
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	e := NewError(resp.StatusCode, "", "")
	var er ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		e.Code, e.Message = er.Error.Code, er.Error.Message
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			e.Message += fmt.Sprintf(" (retry after %ds)", secs)
		}
	}
	return e
}

func multipartBody(fill func(w *multipart.Writer) error) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := fill(w); err != nil {
		return nil, "", fmt.Errorf("api: build multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("api: build multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field string, f model.File) error {
	fw, err := w.CreateFormFile(field, f.Name)
	if err != nil {
		return err
	}
	_, err = fw.Write(f.Content)
	return err
}

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/signflow/internal/api"
	"github.com/and161185/signflow/internal/descriptor"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
	"github.com/and161185/signflow/internal/session"
)

func startSandbox(t *testing.T, cfg Config) (*Server, *httptest.Server, *api.Client) {
	t.Helper()
	if cfg.SigningKey == nil {
		cfg.SigningKey = []byte("test-key")
	}
	log := zaptest.NewLogger(t)
	srv, err := New(cfg, log)
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	tok, err := srv.IssueToken("tester")
	require.NoError(t, err)
	c, err := api.New(hs.URL, session.New(session.Config{Credential: tok}), api.Options{Logger: log})
	require.NoError(t, err)
	return srv, hs, c
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestServer_TemplateFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, _, c := startSandbox(t, Config{})

	mbs, err := c.ListMailboxes(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultMailboxes, mbs)
	mid := mbs[0].ID

	ref, err := c.UploadDocument(ctx, mid, model.File{Name: "nda.pdf", Content: []byte("%PDF nda")}, model.FieldsDelete)
	require.NoError(t, err)
	require.Len(t, ref.Hash, 64)

	tmpl, env := descriptor.FromPackage(
		[]model.DocumentSpec{{Ref: ref, Fields: []model.FieldPlacement{{Kind: model.FieldSignature, Role: "signer1", X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}}}},
		[]model.Role{{ID: "signer1", Order: 1, Kind: model.RoleAssignee}},
		[]model.RecipientBinding{{Role: "signer1", Contact: model.Contact{Email: "alice@example.com"}, Signer: true}},
		"NDA", "please sign",
	)
	ts, err := descriptor.Marshal(tmpl)
	require.NoError(t, err)
	es, err := descriptor.Marshal(env)
	require.NoError(t, err)

	eid, err := c.SendEnvelope(ctx, mid, ts, es, "req-1")
	require.NoError(t, err)
	require.NotEmpty(t, eid)

	st, err := c.EnvelopeStatus(ctx, mid, eid)
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, st.Status)
	require.Equal(t, "req-1", st.Reference)

	_, err = c.DownloadArchive(ctx, mid, eid)
	require.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = srv.Store().Transition(eid, model.StatusCompleted)
	require.NoError(t, err)
	b, err := c.DownloadArchive(ctx, mid, eid)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	list, err := c.ListEnvelopes(ctx, mid, "req-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, eid, list[0].ID)
}

func TestServer_SendRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, _, c := startSandbox(t, Config{})
	mid := DefaultMailboxes[0].ID

	tmpl, env := descriptor.FromPackage(
		[]model.DocumentSpec{{Ref: model.DocumentRef{ID: "never-uploaded", Hash: "h"}}},
		[]model.Role{{ID: "signer1", Order: 1, Kind: model.RoleAssignee}},
		[]model.RecipientBinding{{Role: "signer1", Contact: model.Contact{Email: "a@b.c"}, Signer: true}},
		"s", "m",
	)
	ts, _ := descriptor.Marshal(tmpl)
	es, _ := descriptor.Marshal(env)
	_, err := c.SendEnvelope(ctx, mid, ts, es, "")
	require.ErrorIs(t, err, errs.ErrValidation)

	env.Recipients[0].Role = "signer-1"
	es, _ = descriptor.Marshal(env)
	_, err = c.SendEnvelope(ctx, mid, ts, es, "")
	require.ErrorIs(t, err, errs.ErrValidation, "role mismatch rejected remotely")

	_, err = c.SendEnvelope(ctx, "ghost", ts, es, "")
	require.Error(t, err)

	_, err = c.QuickSend(ctx, mid, []model.File{{Name: "a.pdf", Content: []byte("x")}},
		[]model.QuickRecipient{{Contact: model.Contact{Email: "cc@org.com"}}}, "")
	require.ErrorIs(t, err, errs.ErrValidation, "quick-send without signer")

	_, err = c.EnvelopeStatus(ctx, mid, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestServer_AuthAndDriverEndpoints(t *testing.T) {
	t.Parallel()
	srv, hs, c := startSandbox(t, Config{DevTokens: true})
	ctx := context.Background()

	anon, err := api.New(hs.URL, session.New(session.Config{Credential: "not-a-jwt"}), api.Options{})
	require.NoError(t, err)
	_, err = anon.ListMailboxes(ctx)
	require.ErrorIs(t, err, errs.ErrAuth)

	body, _ := json.Marshal(TokenRequest{Subject: "dev"})
	resp, err := http.Post(hs.URL+"/sandbox/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	sub, err := srv.tokens.Verify(tr.Token)
	require.NoError(t, err)
	require.Equal(t, "dev", sub)

	eid, err := c.QuickSend(ctx, DefaultMailboxes[0].ID,
		[]model.File{{Name: "a.pdf", Content: []byte("a")}},
		[]model.QuickRecipient{{Contact: model.Contact{Email: "bob@example.com"}, Signer: true}}, "")
	require.NoError(t, err)

	post := func(status model.Status) int {
		b, _ := json.Marshal(TransitionRequest{Status: status})
		req, _ := http.NewRequest(http.MethodPost, hs.URL+"/sandbox/envelopes/"+eid+"/status", bytes.NewReader(b))
		req.Header.Set("Authorization", "Bearer "+tr.Token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, post(model.StatusVoided))
	require.Equal(t, http.StatusConflict, post(model.StatusCompleted))
}

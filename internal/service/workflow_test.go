package service

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/signflow/internal/api"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/ledger"
	"github.com/and161185/signflow/internal/model"
	"github.com/and161185/signflow/internal/sandbox"
	"github.com/and161185/signflow/internal/session"
)

func startPlatform(t *testing.T) (*sandbox.Server, *Services) {
	t.Helper()
	log := zaptest.NewLogger(t)
	sb, err := sandbox.New(sandbox.Config{SigningKey: []byte("e2e")}, log.Named("sandbox"))
	require.NoError(t, err)
	hs := httptest.NewServer(sb.Handler())
	t.Cleanup(hs.Close)

	tok, err := sb.IssueToken("e2e")
	require.NoError(t, err)
	c, err := api.New(hs.URL, session.New(session.Config{Credential: tok}), api.Options{Logger: log})
	require.NoError(t, err)
	return sb, New(c, ledger.NewMemory(), Options{Retry: fastRetry, SubmitTimeout: 5 * time.Second, Logger: log})
}

func TestWorkflow_TemplateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb, svc := startPlatform(t)

	mb, err := svc.Mailboxes.ResolveDefaultMailbox(ctx)
	require.NoError(t, err)

	ref, err := svc.Builder.UploadDocument(ctx, mb, model.File{Name: "contract.pdf", Content: []byte("%PDF-1.7 contract")}, model.FieldsDelete)
	require.NoError(t, err)

	in := roundTripInput()
	in.Documents[0].Ref = ref
	pkg, err := svc.Builder.BuildPackage(in)
	require.NoError(t, err)

	reqID := newRequestID(t)
	eid, err := svc.Submitter.Submit(ctx, reqID, mb, pkg)
	require.NoError(t, err)

	st, err := svc.Poller.GetStatus(ctx, eid, mb)
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, st.Status)
	require.Equal(t, reqID.String(), st.Reference)

	_, err = svc.Poller.FetchSignedResult(ctx, eid, mb)
	require.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = sb.Store().Transition(eid, model.StatusInProgress)
	require.NoError(t, err)
	st, err = svc.Poller.GetStatus(ctx, eid, mb)
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, st.Status)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = sb.Store().Transition(eid, model.StatusCompleted)
	}()
	st, err = svc.Poller.Wait(ctx, eid, mb, WaitOptions{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Deadline: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, st.Status)

	archive, err := svc.Poller.FetchSignedResult(ctx, eid, mb)
	require.NoError(t, err)
	require.NotEmpty(t, archive)
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(zr.File), 2)

	again, err := svc.Submitter.Submit(ctx, reqID, mb, pkg)
	require.NoError(t, err)
	require.Equal(t, eid, again)
	list, err := sb.Store().Envelopes(mb.ID, "")
	require.NoError(t, err)
	require.Len(t, list, 1, "resubmitting a known request creates nothing")
}

func TestWorkflow_QuickSend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb, svc := startPlatform(t)

	mb, err := svc.Mailboxes.ResolveDefaultMailbox(ctx)
	require.NoError(t, err)
	eid, err := svc.Submitter.QuickSend(ctx, newRequestID(t), mb,
		[]model.File{{Name: "a.pdf", Content: []byte("%PDF a")}, {Name: "b.pdf", Content: []byte("%PDF b")}},
		[]model.QuickRecipient{
			{Contact: model.Contact{Email: "sender@org.com"}, Signer: false},
			{Contact: model.Contact{Email: "bob@example.com"}, Signer: true, Eink: true},
		})
	require.NoError(t, err)
	require.NotEmpty(t, eid)

	env, err := sb.Store().Envelope(mb.ID, eid)
	require.NoError(t, err)
	require.Len(t, env.Documents, 2)
	require.Len(t, env.Bindings, 2)
	require.True(t, env.Bindings[1].Eink)
}

func TestWorkflow_ReconcileAgainstPlatform(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, svc := startPlatform(t)
	mb, err := svc.Mailboxes.ResolveDefaultMailbox(ctx)
	require.NoError(t, err)

	reqID := newRequestID(t)
	eid, err := svc.Submitter.QuickSend(ctx, reqID, mb,
		[]model.File{{Name: "a.pdf", Content: []byte("a")}},
		[]model.QuickRecipient{{Contact: model.Contact{Email: "bob@example.com"}, Signer: true}})
	require.NoError(t, err)

	got, err := svc.Submitter.Reconcile(ctx, reqID, mb)
	require.NoError(t, err)
	require.Equal(t, eid, got)
}

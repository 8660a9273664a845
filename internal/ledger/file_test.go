package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

func TestFile_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "ledger.json")

	f, err := OpenFile(path)
	require.NoError(t, err)
	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())
	_, created, err := f.Reserve(ctx, model.SubmissionRecord{RequestID: a, MailboxID: "mb", Mode: model.ModeTemplate})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.MarkSubmitted(ctx, a, "env-1"))
	_, _, err = f.Reserve(ctx, model.SubmissionRecord{RequestID: b, MailboxID: "mb", Mode: model.ModeQuick})
	require.NoError(t, err)
	require.NoError(t, f.MarkUnknown(ctx, b))

	g, err := OpenFile(path)
	require.NoError(t, err)
	rec, err := g.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, model.SubmissionSubmitted, rec.State)
	require.Equal(t, "env-1", rec.EnvelopeID)

	open, err := g.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, b, open[0].RequestID)
	require.Equal(t, model.SubmissionUnknown, open[0].State)

	require.NoError(t, g.Release(ctx, b))
	h, err := OpenFile(path)
	require.NoError(t, err)
	_, err = h.Get(ctx, b)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFile_ExistingRecordNotRewritten(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	f, err := OpenFile(path)
	require.NoError(t, err)

	id := uuid.Must(uuid.NewV4())
	_, _, err = f.Reserve(ctx, model.SubmissionRecord{RequestID: id, MailboxID: "mb", Mode: model.ModeQuick})
	require.NoError(t, err)
	again, created, err := f.Reserve(ctx, model.SubmissionRecord{RequestID: id, MailboxID: "other"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "mb", again.MailboxID)
	require.ErrorIs(t, f.MarkUnknown(ctx, uuid.Must(uuid.NewV4())), errs.ErrNotFound)
}

func TestOpenFile_Corrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenFile(path)
	require.Error(t, err)
}

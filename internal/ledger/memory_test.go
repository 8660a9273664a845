package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

func TestMemory_ReserveOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	id := uuid.Must(uuid.NewV4())

	rec, created, err := m.Reserve(ctx, model.SubmissionRecord{RequestID: id, MailboxID: "mb", Mode: model.ModeQuick})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, model.SubmissionPending, rec.State)

	again, created, err := m.Reserve(ctx, model.SubmissionRecord{RequestID: id, MailboxID: "other"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "mb", again.MailboxID)
}

func TestMemory_ConcurrentReserve_SingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	id := uuid.Must(uuid.NewV4())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created, _ := m.Reserve(ctx, model.SubmissionRecord{RequestID: id}); created {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}

func TestMemory_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())

	_, _, _ = m.Reserve(ctx, model.SubmissionRecord{RequestID: a})
	_, _, _ = m.Reserve(ctx, model.SubmissionRecord{RequestID: b})

	require.NoError(t, m.MarkSubmitted(ctx, a, "env-1"))
	require.NoError(t, m.MarkUnknown(ctx, b))

	ra, err := m.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, model.SubmissionSubmitted, ra.State)
	require.Equal(t, "env-1", ra.EnvelopeID)

	open, err := m.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, b, open[0].RequestID)

	require.ErrorIs(t, m.Release(ctx, a), errs.ErrConflict)
	require.NoError(t, m.Release(ctx, b))
	_, err = m.Get(ctx, b)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, m.MarkUnknown(ctx, b), errs.ErrNotFound)
}

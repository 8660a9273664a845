package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

func TestResolveDefaultMailbox_FirstInOrder(t *testing.T) {
	t.Parallel()
	p := &fakePlatform{mailboxes: []model.Mailbox{{ID: "mb-2", Name: "Ops"}, {ID: "mb-1", Name: "Legal"}}}
	r := NewMailboxResolver(p, fastRetry, zaptest.NewLogger(t))

	mb, err := r.ResolveDefaultMailbox(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mb-2", mb.ID)
}

func TestResolveDefaultMailbox_Empty(t *testing.T) {
	t.Parallel()
	r := NewMailboxResolver(&fakePlatform{}, fastRetry, nil)
	_, err := r.ResolveDefaultMailbox(context.Background())
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveDefaultMailbox_RetriesTransientOnly(t *testing.T) {
	t.Parallel()
	p := &fakePlatform{
		mailboxes:   []model.Mailbox{{ID: "mb-1"}},
		mailboxErrs: []error{fmt.Errorf("dial: %w", errs.ErrTransient), fmt.Errorf("503: %w", errs.ErrTransient)},
	}
	r := NewMailboxResolver(p, fastRetry, zaptest.NewLogger(t))
	mb, err := r.ResolveDefaultMailbox(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mb-1", mb.ID)
	require.Equal(t, 3, p.mailboxCalls)

	p = &fakePlatform{mailboxErrs: []error{fmt.Errorf("401: %w", errs.ErrAuth)}}
	r = NewMailboxResolver(p, fastRetry, zaptest.NewLogger(t))
	_, err = r.ResolveDefaultMailbox(context.Background())
	require.ErrorIs(t, err, errs.ErrAuth)
	require.Equal(t, 1, p.mailboxCalls, "auth errors are not retried")
}

func TestResolveDefaultMailbox_GivesUp(t *testing.T) {
	t.Parallel()
	transient := fmt.Errorf("reset: %w", errs.ErrTransient)
	p := &fakePlatform{mailboxErrs: []error{transient, transient, transient, transient, transient}}
	r := NewMailboxResolver(p, fastRetry, zaptest.NewLogger(t))
	_, err := r.ResolveDefaultMailbox(context.Background())
	require.ErrorIs(t, err, errs.ErrTransient)
	require.Equal(t, 4, p.mailboxCalls, "one call plus MaxRetries")
}

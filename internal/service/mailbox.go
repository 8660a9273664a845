package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

// MailboxResolver resolves the mailbox the caller acts as.
type MailboxResolver struct {
	lister MailboxLister
	retry  RetryPolicy
	log    *zap.Logger
}

// NewMailboxResolver constructs a resolver.
func NewMailboxResolver(lister MailboxLister, retry RetryPolicy, log *zap.Logger) *MailboxResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxResolver{lister: lister, retry: retry, log: log}
}

// ResolveDefaultMailbox returns the first mailbox of the authenticated identity.
// Idempotent; transient failures are retried.
func (r *MailboxResolver) ResolveDefaultMailbox(ctx context.Context) (model.Mailbox, error) {
	var list []model.Mailbox
	err := r.retry.retry(ctx, r.log, "list mailboxes", func() error {
		var err error
		list, err = r.lister.ListMailboxes(ctx)
		return err
	})
	if err != nil {
		return model.Mailbox{}, fmt.Errorf("resolve mailbox: %w", err)
	}
	if len(list) == 0 {
		return model.Mailbox{}, fmt.Errorf("resolve mailbox: no mailboxes: %w", errs.ErrNotFound)
	}
	mb := list[0]
	r.log.Debug("mailbox resolved", zap.String("mailbox", mb.ID), zap.Int("candidates", len(list)))
	return mb, nil
}

// Package service implements the signing workflow on top of the platform transport:
// mailbox resolution, package construction, submission and status polling.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/ledger"
	"github.com/and161185/signflow/internal/model"
)

// MailboxLister lists the mailboxes of the authenticated identity.
type MailboxLister interface {
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)
}

// DocumentUploader uploads files to a mailbox.
type DocumentUploader interface {
	UploadDocument(ctx context.Context, mailboxID string, f model.File, strategy model.FieldStrategy) (model.DocumentRef, error)
}

// EnvelopeSender performs the non-idempotent submission calls and the listing used to reconcile them.
type EnvelopeSender interface {
	SendEnvelope(ctx context.Context, mailboxID, template, envelope, reference string) (string, error)
	QuickSend(ctx context.Context, mailboxID string, files []model.File, recipients []model.QuickRecipient, reference string) (string, error)
	ListEnvelopes(ctx context.Context, mailboxID, reference string) ([]model.EnvelopeStatus, error)
}

// EnvelopeReader reads envelope state and results.
type EnvelopeReader interface {
	EnvelopeStatus(ctx context.Context, mailboxID, envelopeID string) (model.EnvelopeStatus, error)
	DownloadArchive(ctx context.Context, mailboxID, envelopeID string) ([]byte, error)
}

// Platform is everything the workflow needs from the remote side. *api.Client implements it.
type Platform interface {
	MailboxLister
	DocumentUploader
	EnvelopeSender
	EnvelopeReader
}

// Options configure the workflow services.
type Options struct {
	Retry RetryPolicy
	// SubmitTimeout bounds the single submission call; 0 leaves it to the transport.
	SubmitTimeout time.Duration
	Logger        *zap.Logger
}

// Services groups the workflow components sharing one platform connection.
type Services struct {
	Mailboxes *MailboxResolver
	Builder   *PackageBuilder
	Submitter *Submitter
	Poller    *Poller
}

// New wires all workflow components. A nil store falls back to an in-memory ledger.
func New(p Platform, store ledger.Store, opts Options) *Services {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = ledger.NewMemory()
	}
	return &Services{
		Mailboxes: NewMailboxResolver(p, opts.Retry, log),
		Builder:   NewPackageBuilder(p, log),
		Submitter: NewSubmitter(p, store, opts.Retry, opts.SubmitTimeout, log),
		Poller:    NewPoller(p, opts.Retry, log),
	}
}

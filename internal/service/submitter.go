package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/api"
	"github.com/and161185/signflow/internal/descriptor"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/ledger"
	"github.com/and161185/signflow/internal/model"
)

// Submission is one way of creating an envelope. Every strategy performs exactly one
// non-idempotent network call.
type Submission interface {
	Mode() model.SubmissionMode
	validate() error
	send(ctx context.Context, s EnvelopeSender, mailboxID, reference string) (string, error)
}

// TemplateSend submits a built package as template and envelope descriptors.
type TemplateSend struct {
	Package *model.SignaturePackage
}

// Mode implements Submission.
func (TemplateSend) Mode() model.SubmissionMode { return model.ModeTemplate }

func (t TemplateSend) validate() error {
	if t.Package == nil || t.Package.Template == "" || t.Package.Envelope == "" {
		return invalid("package has no serialized descriptors")
	}
	tmpl, err := descriptor.ParseTemplate(t.Package.Template)
	if err != nil {
		return err
	}
	env, err := descriptor.ParseEnvelope(t.Package.Envelope)
	if err != nil {
		return err
	}
	return descriptor.CheckConsistency(tmpl, env)
}

func (t TemplateSend) send(ctx context.Context, s EnvelopeSender, mailboxID, reference string) (string, error) {
	return s.SendEnvelope(ctx, mailboxID, t.Package.Template, t.Package.Envelope, reference)
}

// QuickSend submits raw files with a flat recipient list; the platform lays out one
// signature field per signer.
type QuickSend struct {
	Files      []model.File
	Recipients []model.QuickRecipient
}

// Mode implements Submission.
func (QuickSend) Mode() model.SubmissionMode { return model.ModeQuick }

func (q QuickSend) validate() error {
	if len(q.Files) == 0 {
		return invalid("quick-send needs at least one file")
	}
	for i, f := range q.Files {
		if len(f.Content) == 0 {
			return &ValidationError{Doc: i, Field: -1, Reason: fmt.Sprintf("empty file %q", f.Name)}
		}
	}
	if len(q.Recipients) == 0 {
		return invalid("quick-send needs at least one recipient")
	}
	signers := 0
	for i, r := range q.Recipients {
		if r.Contact.Empty() {
			return invalid("recipient[%d] has no contact", i)
		}
		if r.Eink && !r.Signer {
			return invalid("recipient[%d] %s: eink input requires a signer", i, r.Contact)
		}
		if r.Signer {
			signers++
		}
	}
	if signers == 0 {
		return invalid("quick-send needs at least one signer")
	}
	return nil
}

func (q QuickSend) send(ctx context.Context, s EnvelopeSender, mailboxID, reference string) (string, error) {
	return s.QuickSend(ctx, mailboxID, q.Files, q.Recipients, reference)
}

// Submitter creates envelopes. It never retries a submission: an ambiguous outcome is
// reported as errs.ErrUnknown and must be resolved with Reconcile.
type Submitter struct {
	sender  EnvelopeSender
	ledger  ledger.Store
	retry   RetryPolicy
	timeout time.Duration
	log     *zap.Logger
}

// NewSubmitter constructs a submitter. timeout bounds the submission call when > 0.
func NewSubmitter(sender EnvelopeSender, store ledger.Store, retry RetryPolicy, timeout time.Duration, log *zap.Logger) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = ledger.NewMemory()
	}
	return &Submitter{sender: sender, ledger: store, retry: retry, timeout: timeout, log: log}
}

// Submit sends a built package using the template two-phase send.
func (s *Submitter) Submit(ctx context.Context, requestID uuid.UUID, mb model.Mailbox, pkg *model.SignaturePackage) (string, error) {
	return s.BuildAndSubmit(ctx, requestID, mb, TemplateSend{Package: pkg})
}

// QuickSend sends raw files to a flat recipient list.
func (s *Submitter) QuickSend(ctx context.Context, requestID uuid.UUID, mb model.Mailbox, files []model.File, recipients []model.QuickRecipient) (string, error) {
	return s.BuildAndSubmit(ctx, requestID, mb, QuickSend{Files: files, Recipients: recipients})
}

// BuildAndSubmit validates sub locally, reserves requestID in the ledger and performs the
// single submission call. A request id that was already submitted returns the known
// envelope id without touching the network.
func (s *Submitter) BuildAndSubmit(ctx context.Context, requestID uuid.UUID, mb model.Mailbox, sub Submission) (string, error) {
	if requestID == uuid.Nil {
		return "", invalid("empty request id")
	}
	if mb.ID == "" {
		return "", invalid("empty mailbox id")
	}
	if sub == nil {
		return "", invalid("nil submission")
	}
	if err := sub.validate(); err != nil {
		return "", err
	}

	rec, created, err := s.ledger.Reserve(ctx, model.SubmissionRecord{
		RequestID: requestID,
		MailboxID: mb.ID,
		Mode:      sub.Mode(),
	})
	if err != nil {
		return "", fmt.Errorf("reserve %s: %w", requestID, err)
	}
	if !created {
		if rec.State == model.SubmissionSubmitted {
			s.log.Info("request already submitted",
				zap.Stringer("request", requestID),
				zap.String("envelope", rec.EnvelopeID),
			)
			return rec.EnvelopeID, nil
		}
		return "", fmt.Errorf("request %s is %s, reconcile before resubmitting: %w", requestID, rec.State, errs.ErrUnknown)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	envelopeID, err := sub.send(callCtx, s.sender, mb.ID, requestID.String())
	switch {
	case err == nil && envelopeID != "":
		// context.WithoutCancel: the envelope exists remotely, record it even if ctx ended.
		if lerr := s.ledger.MarkSubmitted(context.WithoutCancel(ctx), requestID, envelopeID); lerr != nil {
			s.log.Error("ledger mark submitted", zap.Stringer("request", requestID), zap.Error(lerr))
		}
		s.log.Info("envelope submitted",
			zap.Stringer("request", requestID),
			zap.String("mode", string(sub.Mode())),
			zap.String("mailbox", mb.ID),
			zap.String("envelope", envelopeID),
		)
		return envelopeID, nil
	case err != nil && rejected(err):
		if lerr := s.ledger.Release(context.WithoutCancel(ctx), requestID); lerr != nil {
			s.log.Error("ledger release", zap.Stringer("request", requestID), zap.Error(lerr))
		}
		return "", fmt.Errorf("submit %s: %w", requestID, err)
	default:
		if err == nil {
			err = errors.New("platform returned no envelope id")
		}
		if lerr := s.ledger.MarkUnknown(context.WithoutCancel(ctx), requestID); lerr != nil {
			s.log.Error("ledger mark unknown", zap.Stringer("request", requestID), zap.Error(lerr))
		}
		s.log.Warn("submission outcome unknown",
			zap.Stringer("request", requestID),
			zap.String("mailbox", mb.ID),
			zap.Error(err),
		)
		// the cause stays text only: a transient cause must not make the submit look retryable
		return "", fmt.Errorf("submit %s: %w: %v", requestID, errs.ErrUnknown, err)
	}
}

// rejected reports whether err proves the platform did not create an envelope.
func rejected(err error) bool {
	var ae *api.Error
	if errors.As(err, &ae) {
		return ae.Definitive()
	}
	// session errors happen before any byte is sent
	return errors.Is(err, errs.ErrAuth) && !errors.Is(err, errs.ErrTransient)
}

// ErrReleased is returned by Reconcile when no envelope carries the request's reference.
// The request was dropped from the ledger and may be submitted again.
var ErrReleased = fmt.Errorf("no envelope with this reference, request released: %w", errs.ErrNotFound)

// Reconcile resolves a pending or unknown request by looking for an envelope carrying
// its reference. A match marks the request submitted; no match releases it and returns
// errs.ErrNotFound, after which resubmitting is safe.
func (s *Submitter) Reconcile(ctx context.Context, requestID uuid.UUID, mb model.Mailbox) (string, error) {
	rec, err := s.ledger.Get(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", requestID, err)
	}
	if rec.State == model.SubmissionSubmitted {
		return rec.EnvelopeID, nil
	}
	mailboxID := mb.ID
	if mailboxID == "" {
		mailboxID = rec.MailboxID
	}

	ref := requestID.String()
	var found []model.EnvelopeStatus
	err = s.retry.retry(ctx, s.log, "list envelopes", func() error {
		list, err := s.sender.ListEnvelopes(ctx, mailboxID, ref)
		if err != nil {
			return err
		}
		found = found[:0]
		for _, e := range list {
			if e.Reference == ref {
				found = append(found, e)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", requestID, err)
	}

	if len(found) == 0 {
		if err := s.ledger.Release(ctx, requestID); err != nil {
			return "", fmt.Errorf("reconcile %s: %w", requestID, err)
		}
		s.log.Info("no envelope for request, released", zap.Stringer("request", requestID))
		return "", fmt.Errorf("reconcile %s: %w", requestID, ErrReleased)
	}
	if len(found) > 1 {
		s.log.Warn("duplicate envelopes for one request",
			zap.Stringer("request", requestID),
			zap.Int("count", len(found)),
		)
	}
	envelopeID := found[0].ID
	if err := s.ledger.MarkSubmitted(ctx, requestID, envelopeID); err != nil {
		return "", fmt.Errorf("reconcile %s: %w", requestID, err)
	}
	s.log.Info("request reconciled", zap.Stringer("request", requestID), zap.String("envelope", envelopeID))
	return envelopeID, nil
}

// Unresolved lists requests waiting for reconciliation.
func (s *Submitter) Unresolved(ctx context.Context) ([]model.SubmissionRecord, error) {
	return s.ledger.ListUnresolved(ctx)
}

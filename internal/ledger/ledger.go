// Package ledger records logical signature requests so that a request is submitted to
// the platform at most once, and ambiguous outcomes can be reconciled later.
package ledger

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/signflow/internal/model"
)

// Store persists submission records keyed by request id.
type Store interface {
	// Reserve atomically inserts rec in pending state. When a record with the same
	// request id exists it is returned with created=false and nothing is written.
	Reserve(ctx context.Context, rec model.SubmissionRecord) (existing model.SubmissionRecord, created bool, err error)
	// MarkSubmitted stores the confirmed envelope id.
	MarkSubmitted(ctx context.Context, requestID uuid.UUID, envelopeID string) error
	// MarkUnknown flags an ambiguous submission outcome.
	MarkUnknown(ctx context.Context, requestID uuid.UUID) error
	// Release removes a record that was never confirmed, allowing a new submission.
	Release(ctx context.Context, requestID uuid.UUID) error
	// Get loads one record or returns errs.ErrNotFound.
	Get(ctx context.Context, requestID uuid.UUID) (model.SubmissionRecord, error)
	// ListUnresolved returns pending and unknown records, oldest first.
	ListUnresolved(ctx context.Context) ([]model.SubmissionRecord, error)
}

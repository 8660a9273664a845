package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/ledger"
	"github.com/and161185/signflow/internal/model"
)

// Ledger implements ledger.Store on the submissions table.
type Ledger struct{ db *DB }

var _ ledger.Store = (*Ledger)(nil)

// NewLedger constructs a PostgreSQL-backed ledger.
func NewLedger(db *DB) *Ledger { return &Ledger{db: db} }

const selectCols = `request_id, mailbox_id, mode, envelope_id, state, created_at, updated_at`

// Reserve inserts a pending row unless the request id is already known.
func (l *Ledger) Reserve(ctx context.Context, rec model.SubmissionRecord) (model.SubmissionRecord, bool, error) {
	const ins = `
INSERT INTO submissions (request_id, mailbox_id, mode, envelope_id, state)
VALUES ($1, $2, $3, '', 'pending')
ON CONFLICT (request_id) DO NOTHING
RETURNING created_at, updated_at`

	out := model.SubmissionRecord{
		RequestID: rec.RequestID,
		MailboxID: rec.MailboxID,
		Mode:      rec.Mode,
		State:     model.SubmissionPending,
	}
	err := l.db.Pool.QueryRow(ctx, ins, rec.RequestID, rec.MailboxID, string(rec.Mode)).
		Scan(&out.CreatedAt, &out.UpdatedAt)
	switch {
	case err == nil:
		return out, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		cur, gerr := l.Get(ctx, rec.RequestID)
		if gerr != nil {
			return model.SubmissionRecord{}, false, fmt.Errorf("reserve: load existing: %w", gerr)
		}
		return cur, false, nil
	default:
		return model.SubmissionRecord{}, false, fmt.Errorf("reserve: %w", err)
	}
}

// MarkSubmitted stores the confirmed envelope id.
func (l *Ledger) MarkSubmitted(ctx context.Context, requestID uuid.UUID, envelopeID string) error {
	const q = `UPDATE submissions SET envelope_id=$2, state='submitted', updated_at=now() WHERE request_id=$1`
	tag, err := l.db.Pool.Exec(ctx, q, requestID, envelopeID)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// MarkUnknown flags an ambiguous submission outcome.
func (l *Ledger) MarkUnknown(ctx context.Context, requestID uuid.UUID) error {
	const q = `UPDATE submissions SET state='unknown', updated_at=now() WHERE request_id=$1 AND state<>'submitted'`
	tag, err := l.db.Pool.Exec(ctx, q, requestID)
	if err != nil {
		return fmt.Errorf("mark unknown: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Release deletes an unconfirmed row.
func (l *Ledger) Release(ctx context.Context, requestID uuid.UUID) error {
	const q = `DELETE FROM submissions WHERE request_id=$1 AND state<>'submitted'`
	tag, err := l.db.Pool.Exec(ctx, q, requestID)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := l.Get(ctx, requestID); gerr == nil {
			return errs.ErrConflict
		}
		return errs.ErrNotFound
	}
	return nil
}

// Get selects one record by request id.
func (l *Ledger) Get(ctx context.Context, requestID uuid.UUID) (model.SubmissionRecord, error) {
	q := `SELECT ` + selectCols + ` FROM submissions WHERE request_id=$1`
	r, err := scanRecord(l.db.Pool.QueryRow(ctx, q, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SubmissionRecord{}, errs.ErrNotFound
		}
		return model.SubmissionRecord{}, err
	}
	return r, nil
}

// ListUnresolved returns pending and unknown rows, oldest first.
func (l *Ledger) ListUnresolved(ctx context.Context) ([]model.SubmissionRecord, error) {
	q := `SELECT ` + selectCols + ` FROM submissions WHERE state<>'submitted' ORDER BY created_at ASC`
	rows, err := l.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SubmissionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (model.SubmissionRecord, error) {
	var (
		r           model.SubmissionRecord
		mode, state string
	)
	if err := row.Scan(&r.RequestID, &r.MailboxID, &mode, &r.EnvelopeID, &state, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.SubmissionRecord{}, err
	}
	r.Mode = model.SubmissionMode(mode)
	r.State = model.SubmissionState(state)
	return r, nil
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var recordCols = []string{"request_id", "mailbox_id", "mode", "envelope_id", "state", "created_at", "updated_at"}

func TestLedger_Reserve_Created(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	id := uuid.Must(uuid.NewV4())
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO submissions`).
		WithArgs(id, "mb-1", "template").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	rec, created, err := l.Reserve(context.Background(), model.SubmissionRecord{RequestID: id, MailboxID: "mb-1", Mode: model.ModeTemplate})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, model.SubmissionPending, rec.State)
	require.Equal(t, now, rec.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Reserve_Existing(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	id := uuid.Must(uuid.NewV4())
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO submissions`).
		WithArgs(id, "mb-1", "quick").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT request_id, mailbox_id, mode, envelope_id, state, created_at, updated_at FROM submissions WHERE request_id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(id, "mb-1", "quick", "env-9", "submitted", now, now))

	rec, created, err := l.Reserve(context.Background(), model.SubmissionRecord{RequestID: id, MailboxID: "mb-1", Mode: model.ModeQuick})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, model.SubmissionSubmitted, rec.State)
	require.Equal(t, "env-9", rec.EnvelopeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Reserve_DBError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`INSERT INTO submissions`).
		WithArgs(id, "mb-1", "quick").
		WillReturnError(errors.New("boom"))

	_, _, err := l.Reserve(context.Background(), model.SubmissionRecord{RequestID: id, MailboxID: "mb-1", Mode: model.ModeQuick})
	require.Error(t, err)
}

func TestLedger_MarkSubmitted(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE submissions SET envelope_id=\$2, state='submitted'`).
		WithArgs(id, "env-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, l.MarkSubmitted(ctx, id, "env-1"))

	mock.ExpectExec(`UPDATE submissions SET envelope_id=\$2, state='submitted'`).
		WithArgs(id, "env-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, l.MarkSubmitted(ctx, id, "env-1"), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_MarkUnknown(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE submissions SET state='unknown'`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, l.MarkUnknown(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Release(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectExec(`DELETE FROM submissions WHERE request_id=\$1 AND state<>'submitted'`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, l.Release(ctx, id))

	// already submitted: row exists but is not deleted
	mock.ExpectExec(`DELETE FROM submissions`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT request_id`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(id, "mb", "quick", "env", "submitted", now, now))
	require.ErrorIs(t, l.Release(ctx, id), errs.ErrConflict)

	// absent
	mock.ExpectExec(`DELETE FROM submissions`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT request_id`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, l.Release(ctx, id), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Get_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`SELECT request_id`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err := l.Get(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLedger_ListUnresolved(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())
	t0 := time.Now().Add(-time.Minute)
	t1 := time.Now()
	mock.ExpectQuery(`SELECT request_id, .* FROM submissions WHERE state<>'submitted' ORDER BY created_at ASC`).
		WillReturnRows(pgxmock.NewRows(recordCols).
			AddRow(a, "mb", "template", "", "pending", t0, t0).
			AddRow(b, "mb", "quick", "", "unknown", t1, t1))

	out, err := l.ListUnresolved(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, a, out[0].RequestID)
	require.Equal(t, model.SubmissionUnknown, out[1].State)
	require.Equal(t, model.ModeQuick, out[1].Mode)
	require.NoError(t, mock.ExpectationsWereMet())
}

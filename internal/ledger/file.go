package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/signflow/internal/model"
)

// File is a Store persisted as a JSON document. It keeps the CLI's ledger across runs
// when no database is configured. Only one process may use a file at a time.
type File struct {
	mu   sync.Mutex
	path string
	mem  *Memory
}

var _ Store = (*File)(nil)

type fileRecord struct {
	RequestID  uuid.UUID             `json:"request_id"`
	MailboxID  string                `json:"mailbox_id"`
	Mode       model.SubmissionMode  `json:"mode"`
	EnvelopeID string                `json:"envelope_id,omitempty"`
	State      model.SubmissionState `json:"state"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// OpenFile loads the ledger at path. A missing file is an empty ledger.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, mem: NewMemory()}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	var rows []fileRecord
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", path, err)
	}
	for _, r := range rows {
		f.mem.recs[r.RequestID] = model.SubmissionRecord{
			RequestID:  r.RequestID,
			MailboxID:  r.MailboxID,
			Mode:       r.Mode,
			EnvelopeID: r.EnvelopeID,
			State:      r.State,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		}
	}
	return f, nil
}

// Reserve inserts rec as pending if its request id is unseen.
func (f *File) Reserve(ctx context.Context, rec model.SubmissionRecord) (model.SubmissionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, created, err := f.mem.Reserve(ctx, rec)
	if err != nil || !created {
		return cur, created, err
	}
	if err := f.flush(); err != nil {
		_ = f.mem.Release(ctx, rec.RequestID)
		return model.SubmissionRecord{}, false, err
	}
	return cur, true, nil
}

// MarkSubmitted records the confirmed envelope id.
func (f *File) MarkSubmitted(ctx context.Context, requestID uuid.UUID, envelopeID string) error {
	return f.mutate(func() error { return f.mem.MarkSubmitted(ctx, requestID, envelopeID) })
}

// MarkUnknown flags an ambiguous outcome.
func (f *File) MarkUnknown(ctx context.Context, requestID uuid.UUID) error {
	return f.mutate(func() error { return f.mem.MarkUnknown(ctx, requestID) })
}

// Release drops an unconfirmed record.
func (f *File) Release(ctx context.Context, requestID uuid.UUID) error {
	return f.mutate(func() error { return f.mem.Release(ctx, requestID) })
}

// Get returns one record.
func (f *File) Get(ctx context.Context, requestID uuid.UUID) (model.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.Get(ctx, requestID)
}

// ListUnresolved returns pending and unknown records ordered by creation time.
func (f *File) ListUnresolved(ctx context.Context) ([]model.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.ListUnresolved(ctx)
}

func (f *File) mutate(op func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := op(); err != nil {
		return err
	}
	return f.flush()
}

// flush rewrites the whole file through a temp file and rename.
func (f *File) flush() error {
	f.mem.mu.Lock()
	rows := make([]fileRecord, 0, len(f.mem.recs))
	for _, r := range f.mem.recs {
		rows = append(rows, fileRecord{
			RequestID:  r.RequestID,
			MailboxID:  r.MailboxID,
			Mode:       r.Mode,
			EnvelopeID: r.EnvelopeID,
			State:      r.State,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	f.mem.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("ledger: replace %s: %w", f.path, err)
	}
	return nil
}

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

// Memory is an in-process Store. Records live as long as the process.
type Memory struct {
	mu   sync.Mutex
	recs map[uuid.UUID]model.SubmissionRecord
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{recs: map[uuid.UUID]model.SubmissionRecord{}, now: time.Now}
}

// Reserve inserts rec as pending if its request id is unseen.
func (m *Memory) Reserve(_ context.Context, rec model.SubmissionRecord) (model.SubmissionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.recs[rec.RequestID]; ok {
		return cur, false, nil
	}
	now := m.now()
	rec.State = model.SubmissionPending
	rec.EnvelopeID = ""
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.recs[rec.RequestID] = rec
	return rec, true, nil
}

// MarkSubmitted records the confirmed envelope id.
func (m *Memory) MarkSubmitted(_ context.Context, requestID uuid.UUID, envelopeID string) error {
	return m.update(requestID, func(r *model.SubmissionRecord) {
		r.State = model.SubmissionSubmitted
		r.EnvelopeID = envelopeID
	})
}

// MarkUnknown flags an ambiguous outcome.
func (m *Memory) MarkUnknown(_ context.Context, requestID uuid.UUID) error {
	return m.update(requestID, func(r *model.SubmissionRecord) { r.State = model.SubmissionUnknown })
}

// Release drops an unconfirmed record. Submitted records are kept.
func (m *Memory) Release(_ context.Context, requestID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[requestID]
	if !ok {
		return errs.ErrNotFound
	}
	if r.State == model.SubmissionSubmitted {
		return errs.ErrConflict
	}
	delete(m.recs, requestID)
	return nil
}

// Get returns one record.
func (m *Memory) Get(_ context.Context, requestID uuid.UUID) (model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[requestID]
	if !ok {
		return model.SubmissionRecord{}, errs.ErrNotFound
	}
	return r, nil
}

// ListUnresolved returns pending and unknown records ordered by creation time.
func (m *Memory) ListUnresolved(_ context.Context) ([]model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SubmissionRecord
	for _, r := range m.recs {
		if r.State != model.SubmissionSubmitted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) update(requestID uuid.UUID, fn func(r *model.SubmissionRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[requestID]
	if !ok {
		return errs.ErrNotFound
	}
	fn(&r)
	r.UpdatedAt = m.now()
	m.recs[requestID] = r
	return nil
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/signflow/internal/model"
)

var fastRetry = RetryPolicy{MaxRetries: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

type fakePlatform struct {
	mu sync.Mutex

	mailboxes    []model.Mailbox
	mailboxErrs  []error // consumed one per call before succeeding
	mailboxCalls int

	uploadRef   model.DocumentRef
	uploadErr   error
	uploadCalls int

	sendID     string
	sendErr    error
	sendCalls  int
	quickCalls int
	lastRef    string

	listOut   []model.EnvelopeStatus
	listErr   error
	listCalls int

	statuses    []model.Status // returned in order; the last one repeats
	statusErrs  []error
	statusCalls int

	archive      []byte
	archiveErr   error
	archiveCalls int
}

var _ Platform = (*fakePlatform)(nil)

func (f *fakePlatform) ListMailboxes(context.Context) ([]model.Mailbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mailboxCalls++
	if len(f.mailboxErrs) > 0 {
		err := f.mailboxErrs[0]
		f.mailboxErrs = f.mailboxErrs[1:]
		return nil, err
	}
	return append([]model.Mailbox(nil), f.mailboxes...), nil
}

func (f *fakePlatform) UploadDocument(context.Context, string, model.File, model.FieldStrategy) (model.DocumentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	return f.uploadRef, f.uploadErr
}

func (f *fakePlatform) SendEnvelope(_ context.Context, _, _, _, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.lastRef = reference
	return f.sendID, f.sendErr
}

func (f *fakePlatform) QuickSend(_ context.Context, _ string, _ []model.File, _ []model.QuickRecipient, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quickCalls++
	f.lastRef = reference
	return f.sendID, f.sendErr
}

func (f *fakePlatform) ListEnvelopes(context.Context, string, string) ([]model.EnvelopeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]model.EnvelopeStatus(nil), f.listOut...), f.listErr
}

func (f *fakePlatform) EnvelopeStatus(_ context.Context, _, envelopeID string) (model.EnvelopeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return model.EnvelopeStatus{}, err
		}
	}
	if len(f.statuses) == 0 {
		return model.EnvelopeStatus{ID: envelopeID, Status: model.StatusSent}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return model.EnvelopeStatus{ID: envelopeID, Status: st}, nil
}

func (f *fakePlatform) DownloadArchive(context.Context, string, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archiveCalls++
	return f.archive, f.archiveErr
}

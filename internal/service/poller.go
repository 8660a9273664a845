package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

// WaitOptions tune Wait. Zero values take defaults; Deadline 0 waits until ctx ends.
type WaitOptions struct {
	Initial  time.Duration
	Max      time.Duration
	Deadline time.Duration
}

const (
	defaultPollInitial = time.Second
	defaultPollMax     = 30 * time.Second
)

// Poller observes envelope status and downloads signed results.
// It is safe for concurrent use across envelopes.
type Poller struct {
	reader EnvelopeReader
	retry  RetryPolicy
	log    *zap.Logger

	mu   sync.Mutex
	seen map[string]model.EnvelopeStatus
}

// NewPoller constructs a poller.
func NewPoller(reader EnvelopeReader, retry RetryPolicy, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{reader: reader, retry: retry, log: log, seen: make(map[string]model.EnvelopeStatus)}
}

// GetStatus returns the current status of the envelope. Transient failures are retried.
// The result never regresses below a status this poller already observed.
func (p *Poller) GetStatus(ctx context.Context, envelopeID string, mb model.Mailbox) (model.EnvelopeStatus, error) {
	if envelopeID == "" || mb.ID == "" {
		return model.EnvelopeStatus{}, invalid("empty envelope or mailbox id")
	}
	var st model.EnvelopeStatus
	err := p.retry.retry(ctx, p.log, "envelope status", func() error {
		var err error
		st, err = p.lookup(ctx, envelopeID, mb)
		return err
	})
	if err != nil {
		return model.EnvelopeStatus{}, fmt.Errorf("status %s: %w", envelopeID, err)
	}
	return st, nil
}

// lookup performs one status call and folds the answer into the cache.
func (p *Poller) lookup(ctx context.Context, envelopeID string, mb model.Mailbox) (model.EnvelopeStatus, error) {
	st, err := p.reader.EnvelopeStatus(ctx, mb.ID, envelopeID)
	if err != nil {
		return model.EnvelopeStatus{}, err
	}
	if !st.Status.Valid() {
		return model.EnvelopeStatus{}, fmt.Errorf("platform reported unknown status %q", st.Status)
	}
	if st.ID == "" {
		st.ID = envelopeID
	}
	return p.observe(envelopeID, st), nil
}

func (p *Poller) observe(envelopeID string, st model.EnvelopeStatus) model.EnvelopeStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.seen[envelopeID]
	if ok && (prev.Status.Rank() > st.Status.Rank() || (prev.Status.Terminal() && prev.Status != st.Status)) {
		p.log.Warn("ignoring status regression",
			zap.String("envelope", envelopeID),
			zap.String("seen", string(prev.Status)),
			zap.String("got", string(st.Status)),
		)
		return prev
	}
	p.seen[envelopeID] = st
	return st
}

// Wait polls with exponential backoff until the envelope reaches a terminal status.
// Declined, voided and expired are returned as results, not errors. When the deadline
// elapses first the last observed status is returned with errs.ErrTimeout. Stopping a
// wait never affects the remote envelope.
func (p *Poller) Wait(ctx context.Context, envelopeID string, mb model.Mailbox, opts WaitOptions) (model.EnvelopeStatus, error) {
	if envelopeID == "" || mb.ID == "" {
		return model.EnvelopeStatus{}, invalid("empty envelope or mailbox id")
	}
	if opts.Initial <= 0 {
		opts.Initial = defaultPollInitial
	}
	if opts.Max <= 0 {
		opts.Max = defaultPollMax
	}
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}
	bo := RetryPolicy{Initial: opts.Initial, Max: opts.Max}.backOff()

	var last model.EnvelopeStatus
	for {
		st, err := p.lookup(ctx, envelopeID, mb)
		switch {
		case err == nil:
			last = st
			if st.Status.Terminal() {
				p.log.Info("envelope finished", zap.String("envelope", envelopeID), zap.String("status", string(st.Status)))
				return st, nil
			}
		case ctx.Err() != nil:
			return last, p.stopped(ctx, envelopeID)
		case errors.Is(err, errs.ErrTransient):
			p.log.Warn("status poll failed, will retry", zap.String("envelope", envelopeID), zap.Error(err))
		default:
			return last, fmt.Errorf("wait %s: %w", envelopeID, err)
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, p.stopped(ctx, envelopeID)
		case <-timer.C:
		}
	}
}

func (p *Poller) stopped(ctx context.Context, envelopeID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("wait %s: %w", envelopeID, errs.ErrTimeout)
	}
	return ctx.Err()
}

// Forget drops what the poller observed for envelopeID. The cache otherwise keeps one
// entry per envelope for the poller's lifetime; long-lived pollers call Forget once a
// result has been fetched or a terminal outcome handled. A forgotten envelope has to be
// observed again before FetchSignedResult.
func (p *Poller) Forget(envelopeID string) {
	p.mu.Lock()
	delete(p.seen, envelopeID)
	p.mu.Unlock()
}

// FetchSignedResult downloads the signed archive. The envelope must have been observed
// completed by this poller; otherwise errs.ErrPrecondition is returned without any
// network call.
func (p *Poller) FetchSignedResult(ctx context.Context, envelopeID string, mb model.Mailbox) ([]byte, error) {
	p.mu.Lock()
	st, ok := p.seen[envelopeID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fetch %s: status never observed: %w", envelopeID, errs.ErrPrecondition)
	}
	if st.Status != model.StatusCompleted {
		return nil, fmt.Errorf("fetch %s: envelope is %s: %w", envelopeID, st.Status, errs.ErrPrecondition)
	}

	var archive []byte
	err := p.retry.retry(ctx, p.log, "download archive", func() error {
		var err error
		archive, err = p.reader.DownloadArchive(ctx, mb.ID, envelopeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", envelopeID, err)
	}
	if len(archive) == 0 {
		return nil, fmt.Errorf("fetch %s: empty archive", envelopeID)
	}
	p.log.Info("archive downloaded", zap.String("envelope", envelopeID), zap.Int("bytes", len(archive)))
	return archive, nil
}

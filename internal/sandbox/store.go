package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

type storedDocument struct {
	ref      model.DocumentRef
	name     string
	content  []byte
	strategy model.FieldStrategy
}

type storedEnvelope struct {
	env     model.Envelope
	mode    model.SubmissionMode
	subject string
	files   []storedDocument
	history []historyEntry
}

type historyEntry struct {
	Status model.Status `json:"status"`
	At     time.Time    `json:"at"`
}

// Store is the sandbox's in-memory platform state.
type Store struct {
	mu        sync.RWMutex
	mailboxes []model.Mailbox
	documents map[string]map[string]storedDocument // mailbox -> document id
	envelopes map[string]*storedEnvelope
	order     []string
	now       func() time.Time
}

// NewStore returns a store serving the given mailboxes in order.
func NewStore(mailboxes []model.Mailbox) *Store {
	s := &Store{
		mailboxes: append([]model.Mailbox(nil), mailboxes...),
		documents: make(map[string]map[string]storedDocument),
		envelopes: make(map[string]*storedEnvelope),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, mb := range mailboxes {
		s.documents[mb.ID] = make(map[string]storedDocument)
	}
	return s
}

// Mailboxes returns the configured mailboxes.
func (s *Store) Mailboxes() []model.Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Mailbox(nil), s.mailboxes...)
}

func (s *Store) checkMailbox(mailboxID string) error {
	if _, ok := s.documents[mailboxID]; !ok {
		return fmt.Errorf("mailbox %q: %w", mailboxID, errs.ErrNotFound)
	}
	return nil
}

// AddDocument stores an upload and returns its content-addressed reference.
func (s *Store) AddDocument(mailboxID, name string, content []byte, strategy model.FieldStrategy) (model.DocumentRef, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.DocumentRef{}, err
	}
	sum := sha256.Sum256(content)
	doc := storedDocument{
		ref:      model.DocumentRef{ID: id.String(), Hash: hex.EncodeToString(sum[:])},
		name:     name,
		content:  append([]byte(nil), content...),
		strategy: strategy,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMailbox(mailboxID); err != nil {
		return model.DocumentRef{}, err
	}
	s.documents[mailboxID][doc.ref.ID] = doc
	return doc.ref, nil
}

// newEnvelope describes an envelope to create.
type newEnvelope struct {
	mailboxID string
	mode      model.SubmissionMode
	subject   string
	reference string
	docs      []storedDocument
	bindings  []model.RecipientBinding
}

// resolveDocuments looks up template documents, checking the hash of each.
func (s *Store) resolveDocuments(mailboxID string, refs []model.DocumentRef) ([]storedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkMailbox(mailboxID); err != nil {
		return nil, err
	}
	out := make([]storedDocument, 0, len(refs))
	for _, ref := range refs {
		doc, ok := s.documents[mailboxID][ref.ID]
		if !ok {
			return nil, fmt.Errorf("document %q not uploaded to mailbox: %w", ref.ID, errs.ErrValidation)
		}
		if doc.ref.Hash != ref.Hash {
			return nil, fmt.Errorf("document %q hash mismatch: %w", ref.ID, errs.ErrValidation)
		}
		out = append(out, doc)
	}
	return out, nil
}

// createEnvelope stores a new envelope in sent state. References are not deduplicated.
func (s *Store) createEnvelope(in newEnvelope) (model.Envelope, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMailbox(in.mailboxID); err != nil {
		return model.Envelope{}, err
	}
	now := s.now()
	refs := make([]model.DocumentRef, 0, len(in.docs))
	for _, d := range in.docs {
		refs = append(refs, d.ref)
	}
	se := &storedEnvelope{
		env: model.Envelope{
			ID:        id.String(),
			MailboxID: in.mailboxID,
			Status:    model.StatusSent,
			Reference: in.reference,
			Documents: refs,
			Bindings:  in.bindings,
			UpdatedAt: now,
		},
		mode:    in.mode,
		subject: in.subject,
		files:   in.docs,
		history: []historyEntry{{Status: model.StatusSent, At: now}},
	}
	s.envelopes[se.env.ID] = se
	s.order = append(s.order, se.env.ID)
	return se.env, nil
}

func (s *Store) lookup(mailboxID, envelopeID string) (*storedEnvelope, error) {
	se, ok := s.envelopes[envelopeID]
	if !ok || se.env.MailboxID != mailboxID {
		return nil, fmt.Errorf("envelope %q: %w", envelopeID, errs.ErrNotFound)
	}
	return se, nil
}

// Envelope returns one envelope of the mailbox.
func (s *Store) Envelope(mailboxID, envelopeID string) (model.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	se, err := s.lookup(mailboxID, envelopeID)
	if err != nil {
		return model.Envelope{}, err
	}
	return se.env, nil
}

// Envelopes lists the mailbox's envelopes in creation order, filtered by reference when set.
func (s *Store) Envelopes(mailboxID, reference string) ([]model.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkMailbox(mailboxID); err != nil {
		return nil, err
	}
	var out []model.Envelope
	for _, id := range s.order {
		se := s.envelopes[id]
		if se.env.MailboxID != mailboxID {
			continue
		}
		if reference != "" && se.env.Reference != reference {
			continue
		}
		out = append(out, se.env)
	}
	return out, nil
}

// Transition moves an envelope forward. Terminal envelopes are immutable and the
// lifecycle never goes backwards.
func (s *Store) Transition(envelopeID string, to model.Status) (model.Envelope, error) {
	if !to.Valid() {
		return model.Envelope{}, fmt.Errorf("unknown status %q: %w", to, errs.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.envelopes[envelopeID]
	if !ok {
		return model.Envelope{}, fmt.Errorf("envelope %q: %w", envelopeID, errs.ErrNotFound)
	}
	from := se.env.Status
	if from.Terminal() {
		return model.Envelope{}, fmt.Errorf("envelope is %s: %w", from, errs.ErrConflict)
	}
	if to.Rank() < from.Rank() {
		return model.Envelope{}, fmt.Errorf("cannot move from %s to %s: %w", from, to, errs.ErrConflict)
	}
	now := s.now()
	se.env.Status = to
	se.env.UpdatedAt = now
	se.history = append(se.history, historyEntry{Status: to, At: now})
	return se.env, nil
}

// Archive builds the signed archive of a completed envelope.
func (s *Store) Archive(mailboxID, envelopeID string) ([]byte, error) {
	s.mu.RLock()
	se, err := s.lookup(mailboxID, envelopeID)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	if se.env.Status != model.StatusCompleted {
		st := se.env.Status
		s.mu.RUnlock()
		return nil, fmt.Errorf("envelope is %s: %w", st, errs.ErrPrecondition)
	}
	snap := auditTrail{
		Envelope:  se.env.ID,
		Mailbox:   se.env.MailboxID,
		Mode:      se.mode,
		Subject:   se.subject,
		Reference: se.env.Reference,
		History:   append([]historyEntry(nil), se.history...),
	}
	for _, b := range se.env.Bindings {
		snap.Recipients = append(snap.Recipients, auditRecipient{Role: b.Role, Contact: b.Contact.String(), Signer: b.Signer})
	}
	files := append([]storedDocument(nil), se.files...)
	s.mu.RUnlock()
	return buildArchive(files, snap)
}

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/api"
	"github.com/and161185/signflow/internal/descriptor"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

// TransitionRequest is the body of the status driver endpoint.
type TransitionRequest struct {
	Status model.Status `json:"status"`
}

// TokenRequest is the body of the development token endpoint.
type TokenRequest struct {
	Subject string `json:"subject"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

const multipartMemory = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: api.ErrorBody{Code: code, Message: msg}})
}

// writeStoreError maps the errs taxonomy onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errs.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, errs.ErrPrecondition):
		writeError(w, http.StatusPreconditionFailed, "precondition", err.Error())
	default:
		s.log.Error("sandbox", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal")
	}
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	return true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func toStatus(e model.Envelope) model.EnvelopeStatus {
	return model.EnvelopeStatus{ID: e.ID, Status: e.Status, Reference: e.Reference, UpdatedAt: e.UpdatedAt}
}

func (s *Server) listMailboxes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.MailboxesResponse{Mailboxes: s.store.Mailboxes()})
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	mid := chi.URLParam(r, "mid")
	if !s.parseMultipart(w, r) {
		return
	}
	strategy := model.FieldStrategy(r.FormValue(api.FormFieldStrategy))
	if strategy == "" {
		strategy = model.FieldsKeep
	}
	if !strategy.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "validation", fmt.Sprintf("unknown field strategy %q", strategy))
		return
	}
	fhs := r.MultipartForm.File[api.FormFile]
	if len(fhs) != 1 {
		writeError(w, http.StatusBadRequest, "bad_request", "exactly one file part expected")
		return
	}
	content, err := readPart(fhs[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(content) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "empty file")
		return
	}
	ref, err := s.store.AddDocument(mid, fhs[0].Filename, content, strategy)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.DocumentResponse{ID: ref.ID, Hash: ref.Hash})
}

func (s *Server) quickSend(w http.ResponseWriter, r *http.Request) {
	mid := chi.URLParam(r, "mid")
	if !s.parseMultipart(w, r) {
		return
	}
	var recipients []model.QuickRecipient
	if err := json.Unmarshal([]byte(r.FormValue(api.FormRecipients)), &recipients); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "recipients: "+err.Error())
		return
	}
	if len(recipients) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "no recipients")
		return
	}
	signers := 0
	bindings := make([]model.RecipientBinding, 0, len(recipients))
	for i, rc := range recipients {
		if rc.Contact.Empty() {
			writeError(w, http.StatusUnprocessableEntity, "validation", fmt.Sprintf("recipient %d has no contact", i))
			return
		}
		if rc.Signer {
			signers++
		}
		bindings = append(bindings, model.RecipientBinding{
			Role: fmt.Sprintf("recipient-%d", i+1), Contact: rc.Contact, Signer: rc.Signer, Eink: rc.Eink,
		})
	}
	if signers == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "no signer recipients")
		return
	}

	fhs := r.MultipartForm.File[api.FormFiles]
	if len(fhs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "no files")
		return
	}
	docs := make([]storedDocument, 0, len(fhs))
	for _, fh := range fhs {
		content, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		ref, err := s.store.AddDocument(mid, fh.Filename, content, model.FieldsKeep)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		docs = append(docs, storedDocument{ref: ref, name: fh.Filename, content: content})
	}

	env, err := s.store.createEnvelope(newEnvelope{
		mailboxID: mid,
		mode:      model.ModeQuick,
		reference: r.FormValue(api.FormReference),
		docs:      docs,
		bindings:  bindings,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.SendResponse{EnvelopeID: env.ID})
}

func (s *Server) sendEnvelope(w http.ResponseWriter, r *http.Request) {
	mid := chi.URLParam(r, "mid")
	var req api.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	tmpl, err := descriptor.ParseTemplate(req.Template)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	env, err := descriptor.ParseEnvelope(req.Envelope)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := descriptor.CheckConsistency(tmpl, env); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if len(tmpl.Documents) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "template has no documents")
		return
	}

	refs := make([]model.DocumentRef, 0, len(tmpl.Documents))
	for _, d := range tmpl.Documents {
		refs = append(refs, model.DocumentRef{ID: d.ID, Hash: d.Hash})
	}
	docs, err := s.store.resolveDocuments(mid, refs)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	signers := 0
	bindings := make([]model.RecipientBinding, 0, len(env.Recipients))
	for _, rc := range env.Recipients {
		if rc.Signer {
			signers++
		}
		bindings = append(bindings, model.RecipientBinding{
			Role:    rc.Role,
			Contact: model.Contact{MailboxID: rc.MailboxID, Email: rc.Email},
			Signer:  rc.Signer,
			Eink:    rc.Eink,
		})
	}
	if signers == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "no signer recipients")
		return
	}

	created, err := s.store.createEnvelope(newEnvelope{
		mailboxID: mid,
		mode:      model.ModeTemplate,
		subject:   env.Subject,
		reference: req.Reference,
		docs:      docs,
		bindings:  bindings,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.SendResponse{EnvelopeID: created.ID})
}

func (s *Server) listEnvelopes(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Envelopes(chi.URLParam(r, "mid"), r.URL.Query().Get("reference"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := api.EnvelopesResponse{Envelopes: make([]model.EnvelopeStatus, 0, len(list))}
	for _, e := range list {
		out.Envelopes = append(out.Envelopes, toStatus(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.store.Envelope(chi.URLParam(r, "mid"), chi.URLParam(r, "eid"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(env))
}

func (s *Server) downloadArchive(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Archive(chi.URLParam(r, "mid"), chi.URLParam(r, "eid"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", chi.URLParam(r, "eid")+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	env, err := s.store.Transition(chi.URLParam(r, "eid"), req.Status)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info("envelope transitioned", zap.String("envelope", env.ID), zap.String("status", string(env.Status)))
	writeJSON(w, http.StatusOK, toStatus(env))
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	tok, exp, err := s.tokens.Issue(req.Subject)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}
	resp := TokenResponse{Token: tok}
	if !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

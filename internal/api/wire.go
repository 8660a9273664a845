package api

import "github.com/and161185/signflow/internal/model"

// Wire types of the platform's JSON API. The sandbox serves the same shapes.

// MailboxesResponse is returned by GET /v1/mailboxes.
type MailboxesResponse struct {
	Mailboxes []model.Mailbox `json:"mailboxes"`
}

// DocumentResponse is returned by a document upload.
type DocumentResponse struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// SendRequest is the body of a template two-phase send.
type SendRequest struct {
	Template  string `json:"template"`
	Envelope  string `json:"envelope"`
	Reference string `json:"reference,omitempty"`
}

// SendResponse is returned by both submission endpoints.
type SendResponse struct {
	EnvelopeID string `json:"envelope_id"`
}

// EnvelopesResponse is returned by the envelope listing.
type EnvelopesResponse struct {
	Envelopes []model.EnvelopeStatus `json:"envelopes"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code and a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Multipart form field names.
const (
	FormFile          = "file"
	FormFiles         = "files"
	FormFieldStrategy = "field_strategy"
	FormRecipients    = "recipients"
	FormReference     = "reference"
)

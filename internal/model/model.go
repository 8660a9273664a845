// Package model defines domain entities used by the signing client, the ledger and the sandbox.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Mailbox is an identity able to send and receive envelopes.
type Mailbox struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DocumentRef identifies an uploaded file by platform id and content hash.
type DocumentRef struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// File is raw document content to be uploaded or quick-sent.
type File struct {
	Name    string
	Content []byte
}

// FieldStrategy controls how pre-existing interactive fields in an upload are handled.
type FieldStrategy string

const (
	FieldsKeep   FieldStrategy = "keep"
	FieldsDelete FieldStrategy = "delete"
)

// Valid reports whether s is a known strategy.
func (s FieldStrategy) Valid() bool { return s == FieldsKeep || s == FieldsDelete }

// FieldKind is the kind of interactive element overlaid on a page.
type FieldKind string

const (
	FieldSignature FieldKind = "signature"
	FieldDateTime  FieldKind = "datetime"
	FieldText      FieldKind = "text"
)

// Valid reports whether k is a known field kind.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldSignature, FieldDateTime, FieldText:
		return true
	}
	return false
}

// FieldPlacement places one field on a document page. Geometry is page-relative in [0,1].
type FieldPlacement struct {
	Kind   FieldKind
	Page   int
	Role   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// RoleKind is the kind of participant slot.
type RoleKind string

const (
	RoleSender   RoleKind = "sender"
	RoleAssignee RoleKind = "assignee"
	RoleViewer   RoleKind = "viewer"
	RoleCC       RoleKind = "cc"
)

// Valid reports whether k is a known role kind.
func (k RoleKind) Valid() bool {
	switch k {
	case RoleSender, RoleAssignee, RoleViewer, RoleCC:
		return true
	}
	return false
}

// Role is a named participant slot; Order defines routing for sequential flows.
type Role struct {
	ID    string
	Order int
	Kind  RoleKind
}

// Contact addresses a recipient either by mailbox id or by email.
type Contact struct {
	MailboxID string `json:"mailbox_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Empty reports whether neither mailbox nor email is set.
func (c Contact) Empty() bool { return c.MailboxID == "" && c.Email == "" }

// String returns the preferred human-readable address.
func (c Contact) String() string {
	if c.Email != "" {
		return c.Email
	}
	return c.MailboxID
}

// RecipientBinding maps a role to a concrete contact and capability flags.
type RecipientBinding struct {
	Role    string
	Contact Contact
	Signer  bool
	Eink    bool // handwritten-style signature input
}

// DocumentSpec pairs an uploaded document with the fields placed on it.
type DocumentSpec struct {
	Ref    DocumentRef
	Fields []FieldPlacement
}

// PackageInput is the declarative input of the package builder.
type PackageInput struct {
	Documents []DocumentSpec
	Roles     []Role
	Bindings  []RecipientBinding
	Subject   string
	Message   string
}

// SignaturePackage is a validated, submittable bundle. Template and Envelope hold the
// serialized descriptors expected by the platform.
type SignaturePackage struct {
	Documents []DocumentSpec
	Roles     []Role
	Bindings  []RecipientBinding
	Subject   string
	Message   string

	Template string
	Envelope string
}

// QuickRecipient is one entry of a quick-send flat recipient list.
type QuickRecipient struct {
	Contact Contact `json:"contact"`
	Signer  bool    `json:"signer"`
	Eink    bool    `json:"eink"`
}

// Status is the lifecycle state of an envelope.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSent       Status = "sent"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusDeclined   Status = "declined"
	StatusVoided     Status = "voided"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusVoided, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() > 0 }

// Rank orders statuses along the lifecycle; all terminal statuses share the top rank.
// Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusDraft:
		return 1
	case StatusSent:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusDeclined, StatusVoided, StatusExpired:
		return 4
	}
	return 0
}

// EnvelopeStatus is the result of a status lookup.
type EnvelopeStatus struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Envelope is a submitted unit of work as known to the platform.
type Envelope struct {
	ID        string             `json:"id"`
	MailboxID string             `json:"mailbox_id"`
	Status    Status             `json:"status"`
	Reference string             `json:"reference,omitempty"`
	Documents []DocumentRef      `json:"documents"`
	Bindings  []RecipientBinding `json:"-"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SubmissionMode tells which submission shape a request used.
type SubmissionMode string

const (
	ModeTemplate SubmissionMode = "template"
	ModeQuick    SubmissionMode = "quick"
)

// SubmissionState is the client-side view of a logical signature request.
type SubmissionState string

const (
	SubmissionPending   SubmissionState = "pending"   // network call in flight
	SubmissionSubmitted SubmissionState = "submitted" // envelope id confirmed
	SubmissionUnknown   SubmissionState = "unknown"   // ambiguous failure, needs reconciliation
)

// SubmissionRecord is one row of the submission ledger.
type SubmissionRecord struct {
	RequestID  uuid.UUID
	MailboxID  string
	Mode       SubmissionMode
	EnvelopeID string
	State      SubmissionState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

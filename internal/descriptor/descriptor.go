// Package descriptor defines the typed template and envelope descriptors sent to the
// signing platform and their XML serialization.
package descriptor

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

// Template declares documents, field placements and roles.
type Template struct {
	XMLName   xml.Name   `xml:"template"`
	Documents []Document `xml:"documents>document"`
	Roles     []Role     `xml:"roles>role"`
}

// Document is one uploaded file and the fields placed on it.
type Document struct {
	ID     string  `xml:"id,attr"`
	Hash   string  `xml:"hash,attr"`
	Fields []Field `xml:"field"`
}

// Field is one interactive element.
type Field struct {
	Kind   string  `xml:"kind,attr"`
	Page   int     `xml:"page,attr"`
	Role   string  `xml:"role,attr"`
	X      float64 `xml:"x,attr"`
	Y      float64 `xml:"y,attr"`
	Width  float64 `xml:"width,attr"`
	Height float64 `xml:"height,attr"`
}

// Role is a participant slot declaration.
type Role struct {
	ID    string `xml:"id,attr"`
	Order int    `xml:"order,attr"`
	Kind  string `xml:"kind,attr"`
}

// Envelope binds the template roles to recipients.
type Envelope struct {
	XMLName    xml.Name    `xml:"envelope"`
	Subject    string      `xml:"subject"`
	Message    string      `xml:"message"`
	Recipients []Recipient `xml:"recipients>recipient"`
}

// Recipient is one role-to-contact binding.
type Recipient struct {
	Role      string `xml:"role,attr"`
	MailboxID string `xml:"mailbox,attr,omitempty"`
	Email     string `xml:"email,attr,omitempty"`
	Signer    bool   `xml:"signer,attr"`
	Eink      bool   `xml:"eink,attr"`
}

// FromPackage builds both descriptors from the same role list, so the role ids they
// reference always come from one source.
func FromPackage(docs []model.DocumentSpec, roles []model.Role, bindings []model.RecipientBinding, subject, message string) (*Template, *Envelope) {
	t := &Template{}
	for _, d := range docs {
		doc := Document{ID: d.Ref.ID, Hash: d.Ref.Hash}
		for _, f := range d.Fields {
			doc.Fields = append(doc.Fields, Field{
				Kind: string(f.Kind), Page: f.Page, Role: f.Role,
				X: f.X, Y: f.Y, Width: f.Width, Height: f.Height,
			})
		}
		t.Documents = append(t.Documents, doc)
	}
	ordered := append([]model.Role(nil), roles...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	for _, r := range ordered {
		t.Roles = append(t.Roles, Role{ID: r.ID, Order: r.Order, Kind: string(r.Kind)})
	}

	e := &Envelope{Subject: subject, Message: message}
	for _, r := range ordered {
		for _, b := range bindings {
			if b.Role != r.ID {
				continue
			}
			e.Recipients = append(e.Recipients, Recipient{
				Role: b.Role, MailboxID: b.Contact.MailboxID, Email: b.Contact.Email,
				Signer: b.Signer, Eink: b.Eink,
			})
		}
	}
	return t, e
}

// CheckConsistency verifies that every role referenced in the template (by fields or
// declarations) is bound exactly once in the envelope and vice versa.
func CheckConsistency(t *Template, e *Envelope) error {
	declared := make(map[string]bool, len(t.Roles))
	for _, r := range t.Roles {
		declared[r.ID] = true
	}
	for _, d := range t.Documents {
		for _, f := range d.Fields {
			if !declared[f.Role] {
				return fmt.Errorf("descriptor: field role %q not declared in template: %w", f.Role, errs.ErrValidation)
			}
		}
	}
	bound := make(map[string]int, len(e.Recipients))
	for _, r := range e.Recipients {
		if !declared[r.Role] {
			return fmt.Errorf("descriptor: envelope role %q not declared in template: %w", r.Role, errs.ErrValidation)
		}
		bound[r.Role]++
	}
	for _, r := range t.Roles {
		if bound[r.ID] != 1 {
			return fmt.Errorf("descriptor: role %q bound %d times in envelope: %w", r.ID, bound[r.ID], errs.ErrValidation)
		}
	}
	return nil
}

// Marshal serializes a descriptor to its XML text form.
func Marshal(v any) (string, error) {
	b, err := xml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("descriptor: marshal: %w", err)
	}
	return xml.Header + string(b), nil
}

// ParseTemplate decodes a template descriptor.
func ParseTemplate(s string) (*Template, error) {
	var t Template
	if err := xml.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("descriptor: parse template: %w", errs.ErrValidation)
	}
	return &t, nil
}

// ParseEnvelope decodes an envelope descriptor.
func ParseEnvelope(s string) (*Envelope, error) {
	var e Envelope
	if err := xml.Unmarshal([]byte(s), &e); err != nil {
		return nil, fmt.Errorf("descriptor: parse envelope: %w", errs.ErrValidation)
	}
	return &e, nil
}

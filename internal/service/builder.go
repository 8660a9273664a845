package service

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/descriptor"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
)

// ValidationError reports the first offending document, field or role of a package.
// Doc and Field are -1 when not applicable.
type ValidationError struct {
	Doc    int
	Field  int
	Role   string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := "validation:"
	if e.Doc >= 0 {
		msg += fmt.Sprintf(" document[%d]", e.Doc)
	}
	if e.Field >= 0 {
		msg += fmt.Sprintf(" field[%d]", e.Field)
	}
	if e.Role != "" {
		msg += fmt.Sprintf(" role %q", e.Role)
	}
	return msg + ": " + e.Reason
}

// Unwrap makes errors.Is(err, errs.ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return errs.ErrValidation }

func invalid(reason string, args ...any) *ValidationError {
	return &ValidationError{Doc: -1, Field: -1, Reason: fmt.Sprintf(reason, args...)}
}

func invalidRole(role, reason string, args ...any) *ValidationError {
	e := invalid(reason, args...)
	e.Role = role
	return e
}

func invalidField(doc, field int, role, reason string, args ...any) *ValidationError {
	e := invalid(reason, args...)
	e.Doc, e.Field, e.Role = doc, field, role
	return e
}

// PackageBuilder uploads documents and assembles signature packages.
type PackageBuilder struct {
	uploader DocumentUploader
	log      *zap.Logger
}

// NewPackageBuilder constructs a builder. uploader may be nil when only BuildPackage is used.
func NewPackageBuilder(uploader DocumentUploader, log *zap.Logger) *PackageBuilder {
	if log == nil {
		log = zap.NewNop()
	}
	return &PackageBuilder{uploader: uploader, log: log}
}

// UploadDocument uploads one file into the mailbox. It is not retried: every upload
// creates a new remote object.
func (b *PackageBuilder) UploadDocument(ctx context.Context, mb model.Mailbox, f model.File, strategy model.FieldStrategy) (model.DocumentRef, error) {
	if mb.ID == "" {
		return model.DocumentRef{}, invalid("empty mailbox id")
	}
	if !strategy.Valid() {
		return model.DocumentRef{}, invalid("unknown field strategy %q", strategy)
	}
	if len(f.Content) == 0 {
		return model.DocumentRef{}, invalid("empty file %q", f.Name)
	}
	if f.Name == "" {
		f.Name = "document.pdf"
	}
	ref, err := b.uploader.UploadDocument(ctx, mb.ID, f, strategy)
	if err != nil {
		return model.DocumentRef{}, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	b.log.Info("document uploaded",
		zap.String("mailbox", mb.ID),
		zap.String("document", ref.ID),
		zap.String("hash", ref.Hash),
		zap.Int("bytes", len(f.Content)),
	)
	return ref, nil
}

// BuildPackage validates in and serializes it into the template and envelope
// descriptors. It never touches the network and returns either a complete package
// or the first *ValidationError. A sender role is optional: only an
// assignee bound to a signer is required.
func (b *PackageBuilder) BuildPackage(in model.PackageInput) (*model.SignaturePackage, error) {
	if err := validatePackage(in); err != nil {
		return nil, err
	}
	tmpl, env := descriptor.FromPackage(in.Documents, in.Roles, in.Bindings, in.Subject, in.Message)
	if err := descriptor.CheckConsistency(tmpl, env); err != nil {
		return nil, err
	}
	ts, err := descriptor.Marshal(tmpl)
	if err != nil {
		return nil, err
	}
	es, err := descriptor.Marshal(env)
	if err != nil {
		return nil, err
	}
	b.log.Debug("package built",
		zap.Int("documents", len(in.Documents)),
		zap.Int("roles", len(in.Roles)),
	)
	return &model.SignaturePackage{
		Documents: in.Documents,
		Roles:     in.Roles,
		Bindings:  in.Bindings,
		Subject:   in.Subject,
		Message:   in.Message,
		Template:  ts,
		Envelope:  es,
	}, nil
}

// validatePackage checks, in order: role declarations, field roles and geometry,
// one binding per role, and the presence of an assignee signer.
func validatePackage(in model.PackageInput) error {
	if len(in.Documents) == 0 {
		return invalid("no documents")
	}
	if len(in.Roles) == 0 {
		return invalid("no roles declared")
	}

	roles := make(map[string]model.Role, len(in.Roles))
	for _, r := range in.Roles {
		if r.ID == "" {
			return invalid("role with empty id")
		}
		if _, dup := roles[r.ID]; dup {
			return invalidRole(r.ID, "duplicate role id")
		}
		if !r.Kind.Valid() {
			return invalidRole(r.ID, "unknown role kind %q", r.Kind)
		}
		roles[r.ID] = r
	}

	for i, d := range in.Documents {
		if d.Ref.ID == "" || d.Ref.Hash == "" {
			return &ValidationError{Doc: i, Field: -1, Reason: "document reference needs both id and hash"}
		}
		for j, f := range d.Fields {
			if _, ok := roles[f.Role]; !ok {
				return invalidField(i, j, f.Role, "field references undeclared role")
			}
			if reason := checkField(f); reason != "" {
				return invalidField(i, j, f.Role, "%s", reason)
			}
		}
	}

	bound := make(map[string]int, len(in.Bindings))
	for _, bnd := range in.Bindings {
		if _, ok := roles[bnd.Role]; !ok {
			return invalidRole(bnd.Role, "binding for undeclared role")
		}
		if bnd.Contact.Empty() {
			return invalidRole(bnd.Role, "binding without contact")
		}
		bound[bnd.Role]++
	}
	for _, r := range in.Roles {
		if n := bound[r.ID]; n != 1 {
			return invalidRole(r.ID, "role has %d recipient bindings, want exactly one", n)
		}
	}

	for _, bnd := range in.Bindings {
		if roles[bnd.Role].Kind == model.RoleAssignee && bnd.Signer {
			return nil
		}
	}
	return invalid("no assignee role bound to a signer")
}

func checkField(f model.FieldPlacement) string {
	switch {
	case !f.Kind.Valid():
		return fmt.Sprintf("unknown field kind %q", f.Kind)
	case f.Page < 0:
		return "negative page index"
	case math.IsNaN(f.X) || math.IsNaN(f.Y) || math.IsNaN(f.Width) || math.IsNaN(f.Height):
		return "field geometry is not a number"
	case f.Width <= 0 || f.Height <= 0:
		return "field must have positive width and height"
	case f.X < 0 || f.Y < 0 || f.X+f.Width > 1 || f.Y+f.Height > 1:
		return "field geometry outside page bounds"
	}
	return ""
}

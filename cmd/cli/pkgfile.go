package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/and161185/signflow/internal/model"
)

// packageFile is the JSON description of a signature package accepted by `sf send`.
// Documents name either a local file to upload or an already uploaded id and hash.
type packageFile struct {
	Subject    string             `json:"subject"`
	Message    string             `json:"message"`
	Documents  []packageDocument  `json:"documents"`
	Roles      []packageRole      `json:"roles"`
	Recipients []packageRecipient `json:"recipients"`

	dir string // relative document paths resolve against it
}

type packageDocument struct {
	File     string         `json:"file,omitempty"`
	Strategy string         `json:"strategy,omitempty"`
	ID       string         `json:"id,omitempty"`
	Hash     string         `json:"hash,omitempty"`
	Fields   []packageField `json:"fields"`
}

type packageField struct {
	Kind   string  `json:"kind"`
	Page   int     `json:"page"`
	Role   string  `json:"role"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

type packageRole struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Kind  string `json:"kind"`
}

type packageRecipient struct {
	Role    string `json:"role"`
	Email   string `json:"email,omitempty"`
	Mailbox string `json:"mailbox,omitempty"`
	Signer  bool   `json:"signer"`
	Eink    bool   `json:"eink"`
}

// uploadFunc uploads one local file and returns its platform reference.
type uploadFunc func(ctx context.Context, f model.File, strategy model.FieldStrategy) (model.DocumentRef, error)

func loadPackageFile(path string) (*packageFile, error) {
	b, err := readAll(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var pf packageFile
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("package %s: %w", path, err)
	}
	pf.dir = "."
	if path != "-" {
		pf.dir = filepath.Dir(path)
	}
	return &pf, nil
}

// input uploads local documents and converts the file into builder input.
func (pf *packageFile) input(ctx context.Context, upload uploadFunc) (model.PackageInput, error) {
	in := model.PackageInput{Subject: pf.Subject, Message: pf.Message}
	for i, d := range pf.Documents {
		ref := model.DocumentRef{ID: d.ID, Hash: d.Hash}
		switch {
		case d.File != "":
			p := d.File
			if !filepath.IsAbs(p) {
				p = filepath.Join(pf.dir, p)
			}
			content, err := readAll(p)
			if err != nil {
				return model.PackageInput{}, fmt.Errorf("document %d: %w", i, err)
			}
			strategy := model.FieldStrategy(d.Strategy)
			if strategy == "" {
				strategy = model.FieldsKeep
			}
			if ref, err = upload(ctx, model.File{Name: filepath.Base(p), Content: content}, strategy); err != nil {
				return model.PackageInput{}, fmt.Errorf("document %d: %w", i, err)
			}
		case d.ID == "":
			return model.PackageInput{}, fmt.Errorf("document %d: need file or id", i)
		}

		spec := model.DocumentSpec{Ref: ref}
		for _, f := range d.Fields {
			spec.Fields = append(spec.Fields, model.FieldPlacement{
				Kind: model.FieldKind(f.Kind), Page: f.Page, Role: f.Role,
				X: f.X, Y: f.Y, Width: f.Width, Height: f.Height,
			})
		}
		in.Documents = append(in.Documents, spec)
	}
	for _, r := range pf.Roles {
		in.Roles = append(in.Roles, model.Role{ID: r.ID, Order: r.Order, Kind: model.RoleKind(r.Kind)})
	}
	for _, r := range pf.Recipients {
		in.Bindings = append(in.Bindings, model.RecipientBinding{
			Role:    r.Role,
			Contact: model.Contact{Email: r.Email, MailboxID: r.Mailbox},
			Signer:  r.Signer,
			Eink:    r.Eink,
		})
	}
	return in, nil
}

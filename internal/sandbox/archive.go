package sandbox

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"path"

	"github.com/and161185/signflow/internal/model"
)

// AuditFile is the name of the audit trail inside an archive.
const AuditFile = "audit.json"

type auditRecipient struct {
	Role    string `json:"role"`
	Contact string `json:"contact"`
	Signer  bool   `json:"signer"`
}

type auditTrail struct {
	Envelope   string               `json:"envelope"`
	Mailbox    string               `json:"mailbox"`
	Mode       model.SubmissionMode `json:"mode"`
	Subject    string               `json:"subject,omitempty"`
	Reference  string               `json:"reference,omitempty"`
	Recipients []auditRecipient     `json:"recipients"`
	History    []historyEntry       `json:"history"`
}

// buildArchive zips every signed document as signed/NN-name plus the audit trail.
func buildArchive(files []storedDocument, audit auditTrail) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, f := range files {
		name := path.Base(f.name)
		if name == "." || name == "/" || name == "" {
			name = f.ref.ID + ".pdf"
		}
		w, err := zw.Create(fmt.Sprintf("signed/%02d-%s", i+1, name))
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		if _, err := w.Write(f.content); err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
	}
	w, err := zw.Create(AuditFile)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(audit); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return buf.Bytes(), nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/signflow/internal/archivestore"
	"github.com/and161185/signflow/internal/config"
	"github.com/and161185/signflow/internal/errs"
	"github.com/and161185/signflow/internal/model"
	"github.com/and161185/signflow/internal/service"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"mailbox":    cmdMailbox,
	"upload":     cmdUpload,
	"send":       cmdSend,
	"quick-send": cmdQuickSend,
	"status":     cmdStatus,
	"wait":       cmdWait,
	"fetch":      cmdFetch,
	"reconcile":  cmdReconcile,
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func need(cmd, flagName string) error {
	return fmt.Errorf("%s: -%s is required: %w", cmd, flagName, errs.ErrValidation)
}

// contactOf reads an address: anything with an @ is an email, otherwise a mailbox id.
func contactOf(v string) model.Contact {
	if strings.Contains(v, "@") {
		return model.Contact{Email: v}
	}
	return model.Contact{MailboxID: v}
}

func requestID(v string) (uuid.UUID, error) {
	if v == "" {
		return uuid.NewV4()
	}
	id, err := uuid.FromString(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("request id: %w: %w", errs.ErrValidation, err)
	}
	return id, nil
}

// cmdLogin stores a bearer token, taken from -token or issued by a sandbox platform.
func cmdLogin(ctx context.Context, cfg *config.Config, passphrase string, args []string, out io.Writer) error {
	fs := newFlagSet("login")
	tok := fs.String("token", "", "bearer token")
	fromSandbox := fs.Bool("sandbox", false, "request a development token from the sandbox at -base-url")
	subject := fs.String("subject", "sf", "token subject (with -sandbox)")
	encrypt := fs.Bool("encrypt", false, "encrypt the stored token (prompts when no passphrase is set)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *encrypt && passphrase == "" {
		if passphrase = askPassphrase("New passphrase: "); passphrase == "" {
			return fmt.Errorf("login: -encrypt needs %s or a terminal: %w", config.EnvPassphrase, errs.ErrValidation)
		}
	}
	if *fromSandbox {
		t, err := sandboxToken(ctx, cfg, *subject)
		if err != nil {
			return err
		}
		*tok = t
	}
	if *tok == "" {
		*tok = cfg.Token
	}
	if *tok == "" {
		return need("login", "token")
	}
	exp := tokenExpiry(*tok)
	if err := saveToken(*tok, exp, passphrase); err != nil {
		return err
	}
	res := struct {
		Path      string     `json:"path"`
		Encrypted bool       `json:"encrypted"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}{Path: tokenPath(), Encrypted: passphrase != ""}
	if !exp.IsZero() {
		res.ExpiresAt = &exp
	}
	printJSON(out, res)
	return nil
}

func cmdMailbox(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("mailbox").Parse(args); err != nil {
		return err
	}
	mb, err := a.svc.Mailboxes.ResolveDefaultMailbox(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, mb)
	return nil
}

func cmdUpload(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("upload")
	file := fs.String("file", "", "document path (- for stdin)")
	name := fs.String("name", "", "document name (default: file base name)")
	strategy := fs.String("strategy", string(model.FieldsKeep), "existing fields: keep|delete")
	mailbox := fs.String("mailbox", "", "mailbox id (default: first mailbox)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return need("upload", "file")
	}
	content, err := readAll(*file)
	if err != nil {
		return err
	}
	if *name == "" && *file != "-" {
		*name = filepath.Base(*file)
	}
	mb, err := a.mailbox(ctx, *mailbox)
	if err != nil {
		return err
	}
	ref, err := a.svc.Builder.UploadDocument(ctx, mb, model.File{Name: *name, Content: content}, model.FieldStrategy(*strategy))
	if err != nil {
		return err
	}
	printJSON(a.out, ref)
	return nil
}

type sendResult struct {
	RequestID  string                `json:"request_id"`
	EnvelopeID string                `json:"envelope_id"`
	Status     *model.EnvelopeStatus `json:"status,omitempty"`
}

func cmdSend(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("send")
	pkgPath := fs.String("package", "", "package description (JSON)")
	reqID := fs.String("request-id", "", "request id (uuid; generated when empty)")
	mailbox := fs.String("mailbox", "", "mailbox id (default: first mailbox)")
	wait := fs.Bool("wait", false, "wait for a terminal status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pkgPath == "" {
		return need("send", "package")
	}
	id, err := requestID(*reqID)
	if err != nil {
		return err
	}
	pf, err := loadPackageFile(*pkgPath)
	if err != nil {
		return err
	}
	mb, err := a.mailbox(ctx, *mailbox)
	if err != nil {
		return err
	}
	in, err := pf.input(ctx, func(ctx context.Context, f model.File, s model.FieldStrategy) (model.DocumentRef, error) {
		return a.svc.Builder.UploadDocument(ctx, mb, f, s)
	})
	if err != nil {
		return err
	}
	pkg, err := a.svc.Builder.BuildPackage(in)
	if err != nil {
		return err
	}
	envID, err := a.svc.Submitter.Submit(ctx, id, mb, pkg)
	if err != nil {
		return fmt.Errorf("request %s: %w", id, err)
	}
	return a.finishSend(ctx, sendResult{RequestID: id.String(), EnvelopeID: envID}, mb, *wait)
}

func cmdQuickSend(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("quick-send")
	var files, to, cc listFlag
	fs.Var(&files, "file", "document path (repeatable)")
	fs.Var(&to, "to", "signer email or mailbox id (repeatable)")
	fs.Var(&cc, "cc", "non-signing recipient (repeatable)")
	eink := fs.Bool("eink", false, "signers sign by hand")
	reqID := fs.String("request-id", "", "request id (uuid; generated when empty)")
	mailbox := fs.String("mailbox", "", "mailbox id (default: first mailbox)")
	wait := fs.Bool("wait", false, "wait for a terminal status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(files) == 0 {
		return need("quick-send", "file")
	}
	if len(to) == 0 {
		return need("quick-send", "to")
	}
	id, err := requestID(*reqID)
	if err != nil {
		return err
	}

	docs := make([]model.File, 0, len(files))
	for _, p := range files {
		content, err := readAll(p)
		if err != nil {
			return err
		}
		docs = append(docs, model.File{Name: filepath.Base(p), Content: content})
	}
	recipients := make([]model.QuickRecipient, 0, len(to)+len(cc))
	for _, v := range to {
		recipients = append(recipients, model.QuickRecipient{Contact: contactOf(v), Signer: true, Eink: *eink})
	}
	for _, v := range cc {
		recipients = append(recipients, model.QuickRecipient{Contact: contactOf(v)})
	}

	mb, err := a.mailbox(ctx, *mailbox)
	if err != nil {
		return err
	}
	envID, err := a.svc.Submitter.QuickSend(ctx, id, mb, docs, recipients)
	if err != nil {
		return fmt.Errorf("request %s: %w", id, err)
	}
	return a.finishSend(ctx, sendResult{RequestID: id.String(), EnvelopeID: envID}, mb, *wait)
}

func (a *app) finishSend(ctx context.Context, res sendResult, mb model.Mailbox, wait bool) error {
	if !wait {
		printJSON(a.out, res)
		return nil
	}
	st, err := a.svc.Poller.Wait(ctx, res.EnvelopeID, mb, a.waitOptions(a.cfg.PollDeadline))
	if st.Status != "" {
		res.Status = &st
	}
	printJSON(a.out, res)
	return err
}

func (a *app) waitOptions(deadline time.Duration) service.WaitOptions {
	return service.WaitOptions{Initial: a.cfg.PollInitial, Max: a.cfg.PollMax, Deadline: deadline}
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("status")
	id := fs.String("id", "", "envelope id")
	mailbox := fs.String("mailbox", "", "mailbox id (default: first mailbox)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return need("status", "id")
	}
	mb, err := a.mailbox(ctx, *mailbox)
	if err != nil {
		return err
	}
	st, err := a.svc.Poller.GetStatus(ctx, *id, mb)
	if err != nil {
		return err
	}
	printJSON(a.out, st)
	return nil
}

func cmdWait(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("wait")
	id := fs.String("id", "", "envelope id")
	mailbox := fs.String("mailbox", "", "mailbox id (default: first mailbox)")
	deadline := fs.Duration("deadline", a.cfg.PollDeadline, "give up after (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return need("wait", "id")
	}
	mb, err := a.mailbox(ctx, *mailbox)
	if err != nil {
		return err
	}
	st, err := a.svc.Poller.Wait(ctx, *id, mb, a.waitOptions(*deadline))
	if st.Status != "" {
		printJSON(a.out, st)
	}
	return err
}

func cmdFetch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("fetch")
	id := fs.String("id", "", "envelope id")
	mailbox := fs.String("mailbox", "", "mailbox id (default: first mailbox)")
	outPath := fs.String("out", "", "archive path or s3://bucket/key (default: <id>.zip)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return need("fetch", "id")
	}
	if *outPath == "" {
		*outPath = *id + ".zip"
	}
	mb, err := a.mailbox(ctx, *mailbox)
	if err != nil {
		return err
	}
	// The poller only releases the archive for a status it has observed.
	if _, err := a.svc.Poller.GetStatus(ctx, *id, mb); err != nil {
		return err
	}
	archive, err := a.svc.Poller.FetchSignedResult(ctx, *id, mb)
	if err != nil {
		return err
	}
	store, key, err := a.archiveStore(ctx, *outPath, *id+".zip")
	if err != nil {
		return err
	}
	loc, err := store.Put(ctx, key, archive)
	if err != nil {
		return err
	}
	printJSON(a.out, struct {
		EnvelopeID string `json:"envelope_id"`
		Path       string `json:"path"`
		Bytes      int    `json:"bytes"`
	}{*id, loc, len(archive)})
	return nil
}

// archiveStore picks where fetch writes: an S3 bucket for s3:// targets, the local
// filesystem otherwise.
func (a *app) archiveStore(ctx context.Context, out, defaultKey string) (archivestore.Store, string, error) {
	if bucket, key, ok := archivestore.ParseS3URL(out); ok {
		if key == "" || strings.HasSuffix(key, "/") {
			key += defaultKey
		}
		st, err := archivestore.NewS3(ctx, archivestore.S3Config{
			Region:    a.cfg.S3Region,
			Endpoint:  a.cfg.S3Endpoint,
			AccessKey: a.cfg.S3AccessKey,
			SecretKey: a.cfg.S3SecretKey,
		}, bucket)
		return st, key, err
	}
	return archivestore.NewDir(filepath.Dir(out)), filepath.Base(out), nil
}

type reconcileRow struct {
	RequestID  string `json:"request_id"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Result     string `json:"result"`
}

func cmdReconcile(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("reconcile")
	reqID := fs.String("request-id", "", "request id (default: every unresolved request)")
	mailbox := fs.String("mailbox", "", "mailbox id (default: the one recorded with the request)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mb := model.Mailbox{ID: *mailbox}

	var ids []uuid.UUID
	if *reqID != "" {
		id, err := uuid.FromString(*reqID)
		if err != nil {
			return fmt.Errorf("request id: %w: %w", errs.ErrValidation, err)
		}
		ids = append(ids, id)
	} else {
		recs, err := a.svc.Submitter.Unresolved(ctx)
		if err != nil {
			return err
		}
		for _, r := range recs {
			ids = append(ids, r.RequestID)
		}
	}

	rows := make([]reconcileRow, 0, len(ids))
	var failed error
	for _, id := range ids {
		envID, err := a.svc.Submitter.Reconcile(ctx, id, mb)
		row := reconcileRow{RequestID: id.String(), EnvelopeID: envID}
		switch {
		case err == nil:
			row.Result = "submitted"
		case errors.Is(err, service.ErrReleased):
			row.Result = "released"
		default:
			row.Result = "error: " + err.Error()
			failed = errors.Join(failed, err)
		}
		rows = append(rows, row)
	}
	printJSON(a.out, rows)
	return failed
}

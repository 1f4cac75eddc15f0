// Package notify delivers rendered reports by email through the tenant
// notification HTTP API.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"emsreport/internal/platform/httpclient"
	"emsreport/internal/shared"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TokenSource supplies a bearer token for the notification gateway.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Mailer sends report emails via the notification API. The workbook rides
// along as a base64 attachment on the JSON payload.
type Mailer struct {
	http     *httpclient.Client
	tokens   TokenSource
	log      *slog.Logger
	endpoint string

	// Subject and FileName override the defaults when set.
	Subject  string
	FileName string
}

// NewMailer creates a Mailer posting to the given notification endpoint.
func NewMailer(endpoint string, hc *httpclient.Client, tokens TokenSource, log *slog.Logger) *Mailer {
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{
		http:     hc,
		tokens:   tokens,
		log:      log.With("component", "mailer"),
		endpoint: endpoint,
		Subject:  "Scheduled Energy Consumption Report",
		FileName: "EnergyReport.xlsx",
	}
}

// emailPayload mirrors the notification API contract. Nullable fields the
// template engine expects are sent explicitly as null.
type emailPayload struct {
	ToAddresses    string  `json:"toAddresses"`
	CcAddresses    *string `json:"ccAddresses"`
	BccAddresses   *string `json:"bccAddresses"`
	Content        string  `json:"content"`
	Subject        string  `json:"subject"`
	To             string  `json:"to"`
	EmailTemplate  string  `json:"emailTemplate"`
	URL            *string `json:"url"`
	UserName       *string `json:"userName"`
	Domain         *string `json:"domain"`
	Profile        *string `json:"profile"`
	AttachFile     string  `json:"attachFile"`
	AttachFiles    *string `json:"attachFiles"`
	ContentType    string  `json:"contentType"`
	AttachFileName string  `json:"attachFileName"`
	Model          *string `json:"model"`
}

// Send emails the workbook to the recipients. One call per tick; failures
// surface to the scheduler, which logs and moves on to the next run.
func (m *Mailer) Send(ctx context.Context, recipients []string, document []byte) error {
	if len(recipients) == 0 {
		return shared.MarkKind(fmt.Errorf("no recipients"), shared.KindValidation)
	}
	if len(document) == 0 {
		return shared.MarkKind(fmt.Errorf("empty report document"), shared.KindValidation)
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		return shared.Wrap(err, "notification auth")
	}

	to := strings.Join(recipients, ",")
	payload := emailPayload{
		ToAddresses:    to,
		To:             to,
		Subject:        m.Subject,
		Content:        `<div style="padding:20px;"><h1 style="color:#6c5dd3">Your Energy Report is Ready</h1><p>Please find the attached Excel report.</p></div>`,
		EmailTemplate:  "BasicNotification.vm",
		AttachFile:     base64.StdEncoding.EncodeToString(document),
		ContentType:    xlsxContentType,
		AttachFileName: m.FileName,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.http.Do(ctx, req)
	if err != nil {
		return shared.MarkKind(shared.Wrap(err, "send report email"), shared.KindDependencyFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return shared.MarkKind(&httpclient.StatusError{
			Method:     http.MethodPost,
			URL:        m.endpoint,
			StatusCode: resp.StatusCode,
		}, shared.KindDependencyFailure)
	}

	m.log.InfoContext(ctx, "report email sent", "recipients", len(recipients), "bytes", len(document))
	return nil
}

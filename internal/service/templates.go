package service

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// ============================================================
// Email templates
// ============================================================

type emailTemplate struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

func mustEmailTemplate(name, subject, html, text string) *emailTemplate {
	return &emailTemplate{
		subject: texttemplate.Must(texttemplate.New(name + ".subject").Parse(subject)),
		html:    htmltemplate.Must(htmltemplate.New(name + ".html").Parse(html)),
		text:    texttemplate.Must(texttemplate.New(name + ".text").Parse(text)),
	}
}

// render returns subject, HTML body and text body.
func (t *emailTemplate) render(data any) (string, string, string, error) {
	var subject, html, text bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := t.html.Execute(&html, data); err != nil {
		return "", "", "", fmt.Errorf("render html: %w", err)
	}
	if err := t.text.Execute(&text, data); err != nil {
		return "", "", "", fmt.Errorf("render text: %w", err)
	}
	return subject.String(), html.String(), text.String(), nil
}

type friendRequestData struct {
	RecipientName string
	SenderName    string
	AppURL        string
}

type friendAcceptedData struct {
	RequesterName string
	AccepterName  string
	AppURL        string
}

type expenseCreatedData struct {
	ParticipantName string
	PayerName       string
	Description     string
	Amount          string
	AppURL          string
}

const emailLayoutStart = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;color:#222;max-width:560px;margin:0 auto;padding:24px">`
const emailLayoutEnd = `<p style="color:#888;font-size:12px;margin-top:32px">You are receiving this email because you have a Splitly account.</p></body></html>`

var (
	friendRequestTemplate = mustEmailTemplate("friend_request",
		`{{.SenderName}} sent you a friend request on Splitly`,
		emailLayoutStart+`
<h2>New friend request</h2>
<p>Hi {{.RecipientName}},</p>
<p><strong>{{.SenderName}}</strong> wants to split expenses with you on Splitly.</p>
<p><a href="{{.AppURL}}" style="background:#1a73e8;color:#fff;padding:10px 18px;border-radius:4px;text-decoration:none">Open Splitly</a></p>
`+emailLayoutEnd,
		`Hi {{.RecipientName}},

{{.SenderName}} wants to split expenses with you on Splitly.

Open the app to respond: {{.AppURL}}
`)

	friendAcceptedTemplate = mustEmailTemplate("friend_accepted",
		`{{.AccepterName}} accepted your friend request`,
		emailLayoutStart+`
<h2>Friend request accepted</h2>
<p>Hi {{.RequesterName}},</p>
<p><strong>{{.AccepterName}}</strong> accepted your friend request. You can now add expenses together.</p>
<p><a href="{{.AppURL}}" style="background:#1a73e8;color:#fff;padding:10px 18px;border-radius:4px;text-decoration:none">Open Splitly</a></p>
`+emailLayoutEnd,
		`Hi {{.RequesterName}},

{{.AccepterName}} accepted your friend request. You can now add expenses together.

{{.AppURL}}
`)

	expenseCreatedTemplate = mustEmailTemplate("expense_created",
		`{{.PayerName}} added an expense: {{.Description}}`,
		emailLayoutStart+`
<h2>New expense</h2>
<p>Hi {{.ParticipantName}},</p>
<p><strong>{{.PayerName}}</strong> added <em>{{.Description}}</em>.</p>
<p>You owe <strong>{{.Amount}}</strong>.</p>
<p><a href="{{.AppURL}}" style="background:#1a73e8;color:#fff;padding:10px 18px;border-radius:4px;text-decoration:none">View in Splitly</a></p>
`+emailLayoutEnd,
		`Hi {{.ParticipantName}},

{{.PayerName}} added "{{.Description}}".
You owe {{.Amount}}.

{{.AppURL}}
`)
)

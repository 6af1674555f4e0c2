package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers rendered emails.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridSender(apiKey, fromAddress, fromName string) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (s *SendGridSender) Send(ctx context.Context, m Message) error {
	msg := mail.NewSingleEmail(s.from, m.Subject, mail.NewEmail("", m.To), m.Text, m.HTML)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogSender only logs. It is used when no SendGrid key is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, m Message) error {
	log.WithFields(log.Fields{"to": m.To, "subject": m.Subject}).Info("email delivery disabled, dropping message")
	return nil
}

var (
	invitationText = texttemplate.Must(texttemplate.New("invitation").Parse(
		`{{.InviterName}} invited you to join "{{.BoardTitle}}" as {{.Role}}.

Accept the invitation: {{.AcceptURL}}
`))
	invitationHTML = htmltemplate.Must(htmltemplate.New("invitation").Parse(
		`<p><strong>{{.InviterName}}</strong> invited you to join <strong>{{.BoardTitle}}</strong> as {{.Role}}.</p>
<p><a href="{{.AcceptURL}}">Accept the invitation</a></p>
`))
)

type invitationView struct {
	domain.Invitation
	Role      string
	AcceptURL string
}

// Mailer renders invitation emails and hands them to a Sender.
type Mailer struct {
	sender Sender
	appURL string
}

// NewMailer returns a Mailer. A nil sender selects LogSender.
func NewMailer(sender Sender, appURL string) *Mailer {
	if sender == nil {
		sender = LogSender{}
	}
	return &Mailer{sender: sender, appURL: strings.TrimRight(appURL, "/")}
}

// AcceptURL is the link an invitee follows to join the board.
func (m *Mailer) AcceptURL(memberID string) string {
	return fmt.Sprintf("%s/invitations/%s/accept", m.appURL, memberID)
}

// SendInvitation implements domain.InvitationMailer.
func (m *Mailer) SendInvitation(ctx context.Context, inv domain.Invitation) error {
	msg, err := m.render(inv)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, msg)
}

func (m *Mailer) render(inv domain.Invitation) (Message, error) {
	view := invitationView{
		Invitation: inv,
		Role:       strings.ToLower(string(inv.Role)),
		AcceptURL:  m.AcceptURL(inv.MemberID),
	}
	if view.Role == "" {
		view.Role = strings.ToLower(string(domain.RoleMember))
	}
	var text, html bytes.Buffer
	if err := invitationText.Execute(&text, view); err != nil {
		return Message{}, err
	}
	if err := invitationHTML.Execute(&html, view); err != nil {
		return Message{}, err
	}
	return Message{
		To:      inv.Email,
		Subject: fmt.Sprintf("%s invited you to %s", inv.InviterName, inv.BoardTitle),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

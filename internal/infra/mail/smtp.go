// Package mail sends transactional email over SMTP.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/boddenberg/splitly-bfa-go/internal/port"

	gomail "github.com/wneessen/go-mail"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mail")

var _ port.Mailer = (*SMTPMailer)(nil)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPMailer sends one message per connection. A nil *SMTPMailer is valid
// and reports domain.ErrTransportUnavailable.
type SMTPMailer struct {
	client *gomail.Client
	logger *zap.Logger
}

// NewSMTPMailer builds the transport. It returns (nil, nil) when no host is
// configured.
func NewSMTPMailer(cfg Config, logger *zap.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPMailer{client: client, logger: logger}, nil
}

// Send delivers msg. Failures are *domain.ErrTransportFailure.
func (m *SMTPMailer) Send(ctx context.Context, msg *domain.EmailMessage) error {
	if m == nil || m.client == nil {
		return domain.ErrTransportUnavailable
	}

	ctx, span := tracer.Start(ctx, "SMTPMailer.Send")
	defer span.End()
	span.SetAttributes(attribute.String("mail.to", msg.To))

	out, err := buildMessage(msg)
	if err != nil {
		return &domain.ErrTransportFailure{To: msg.To, Err: err}
	}

	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		span.RecordError(err)
		m.logger.Error("mail: smtp send failed",
			zap.String("to", msg.To),
			zap.Error(err),
		)
		return &domain.ErrTransportFailure{To: msg.To, Err: err}
	}

	m.logger.Debug("mail: sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// buildMessage converts msg to a multipart/alternative message with the
// text part first.
func buildMessage(msg *domain.EmailMessage) (*gomail.Msg, error) {
	out := gomail.NewMsg()
	if err := out.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid from %q: %w", msg.From, err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid to %q: %w", msg.To, err)
	}
	out.Subject(msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		out.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}
	return out, nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/oshokin/fleet-updater/internal/config"
	"github.com/oshokin/fleet-updater/internal/logger"
)

// MailNotifier delivers outcome messages over SMTP.
type MailNotifier struct {
	cfg config.SMTPConfig
}

// NewMailNotifier creates an SMTP notifier from validated configuration.
func NewMailNotifier(cfg config.SMTPConfig) *MailNotifier {
	return &MailNotifier{cfg: cfg}
}

// Notify implements Notifier.
func (n *MailNotifier) Notify(ctx context.Context, message Message) error {
	msg := mail.NewMsg()

	if err := msg.From(n.cfg.From); err != nil {
		return fmt.Errorf("set mail sender: %w", err)
	}

	if err := msg.To(n.cfg.To...); err != nil {
		return fmt.Errorf("set mail recipients: %w", err)
	}

	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextPlain, message.Body+
		"\n\nHost: "+message.Hostname+
		"\nTime: "+message.Timestamp.Format("2006-01-02 15:04:05"))

	options := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}

	if n.cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.Host, options...)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send notification mail: %w", err)
	}

	logger.InfoKV(ctx, "Notification mail sent",
		"kind", string(message.Kind), "recipients", len(n.cfg.To))

	return nil
}

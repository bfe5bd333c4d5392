package transport

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RedHatInsights/notifications-backend-sub014/internal/config"
)

// EmailMessage is sent once to all of its recipients, which are placed in Bcc.
type EmailMessage struct {
	Recipients []string
	Subject    string
	Body       string
}

type EmailReceipt struct {
	Accepted  bool
	MessageID string
}

// sendMailFunc matches smtp.SendMail so tests can capture outgoing mail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPClient struct {
	host     string
	port     string
	username string
	password string
	from     string
	sendMail sendMailFunc
	log      *zap.Logger
}

func NewSMTPClient(cfg config.SMTP, log *zap.Logger) *SMTPClient {
	return &SMTPClient{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.User,
		password: cfg.Password,
		from:     cfg.From,
		sendMail: smtp.SendMail,
		log:      log,
	}
}

func (c *SMTPClient) Send(ctx context.Context, msg *EmailMessage) (*EmailReceipt, error) {
	if c.host == "" {
		return nil, fmt.Errorf("%w: smtp host not configured", ErrInvalidRequest)
	}
	if len(msg.Recipients) == 0 {
		return nil, fmt.Errorf("%w: email without recipients", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domain := "localhost"
	if at := strings.LastIndex(c.from, "@"); at >= 0 {
		domain = c.from[at+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)

	headers := []string{
		fmt.Sprintf("From: %s", c.from),
		"To: undisclosed-recipients:;",
		fmt.Sprintf("Subject: %s", msg.Subject),
		fmt.Sprintf("Message-ID: %s", messageID),
		fmt.Sprintf("Date: %s", time.Now().UTC().Format(time.RFC1123Z)),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	data := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body

	var auth smtp.Auth
	if c.username != "" || c.password != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	addr := fmt.Sprintf("%s:%s", c.host, c.port)
	if err := c.sendMail(addr, auth, c.from, msg.Recipients, []byte(data)); err != nil {
		return &EmailReceipt{Accepted: false, MessageID: messageID}, fmt.Errorf("smtp send failed: %w", err)
	}

	c.log.Debug("Email accepted by SMTP server",
		zap.String("message_id", messageID),
		zap.Int("recipient_count", len(msg.Recipients)))

	return &EmailReceipt{Accepted: true, MessageID: messageID}, nil
}

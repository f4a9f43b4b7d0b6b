package email

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type SMTPProvider struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, send: smtp.SendMail}
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %s", ErrInvalidRecipient, err)
	}

	fromAddr := msg.From
	if fromAddr == "" {
		fromAddr = p.cfg.From
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = p.cfg.FromName
	}
	from := mail.Address{Name: fromName, Address: fromAddr}

	messageID := p.messageID(msg.IdempotencyKey, fromAddr)
	headers := []string{
		"From: " + from.String(),
		"To: " + to.String(),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Message-ID: " + messageID,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
	}
	if msg.IdempotencyKey != "" {
		headers = append(headers, "X-Idempotency-Key: "+msg.IdempotencyKey)
	}
	if msg.TemplateID != "" {
		headers = append(headers, "X-Template-ID: "+msg.TemplateID)
	}
	body := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.HTMLBody

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	if err := p.send(addr, auth, fromAddr, []string{to.Address}, []byte(body)); err != nil {
		return Receipt{}, classifySMTPError(err)
	}
	return Receipt{MessageID: messageID, Provider: p.Name()}, nil
}

func (p *SMTPProvider) messageID(key, from string) string {
	host := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		host = from[at+1:]
	}
	if key == "" {
		key = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "<" + strings.ReplaceAll(key, ":", ".") + "@" + host + ">"
}

// classifySMTPError maps mailbox rejections (550-553) to ErrInvalidRecipient.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 550, 551, 553:
			return fmt.Errorf("%w: %s", ErrInvalidRecipient, protoErr.Msg)
		}
	}
	return err
}

package email

import (
	"context"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPProvider_Send(t *testing.T) {
	p := NewSMTP(Config{Host: "mail.test", Port: 2525, From: "sales@acme.test", FromName: "Acme"})

	var (
		gotAddr string
		gotTo   []string
		gotBody string
	)
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotBody = string(msg)
		return nil
	}

	receipt, err := p.Send(context.Background(), Message{
		To:             "lead@example.com",
		Subject:        "Hello",
		HTMLBody:       "<p>hi</p>",
		IdempotencyKey: "123:step-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.test:2525", gotAddr)
	assert.Equal(t, []string{"lead@example.com"}, gotTo)
	assert.Equal(t, "<123.step-1@acme.test>", receipt.MessageID)
	assert.Contains(t, gotBody, "X-Idempotency-Key: 123:step-1")
	assert.True(t, strings.HasSuffix(gotBody, "\r\n\r\n<p>hi</p>"))
}

func TestSMTPProvider_ClassifiesRejections(t *testing.T) {
	p := NewSMTP(Config{Host: "mail.test", Port: 25, From: "sales@acme.test"})

	p.send = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	}
	_, err := p.Send(context.Background(), Message{To: "gone@example.com"})
	assert.True(t, IsPermanent(err))

	p.send = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 421, Msg: "try later"}
	}
	_, err = p.Send(context.Background(), Message{To: "busy@example.com"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	_, err = p.Send(context.Background(), Message{To: "not an address"})
	assert.True(t, IsPermanent(err))
}

package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSMTPMailer_Unconfigured(t *testing.T) {
	m, err := NewSMTPMailer(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, m)

	err = m.Send(context.Background(), &domain.EmailMessage{To: "a@example.com"})
	assert.True(t, errors.Is(err, domain.ErrTransportUnavailable))
}

func TestBuildMessage(t *testing.T) {
	out, err := buildMessage(&domain.EmailMessage{
		From:    "Splitly <no-reply@splitly.app>",
		To:      "bruno@example.com",
		Subject: "Ana sent you a friend request on Splitly",
		HTML:    "<p>Hi bruno</p>",
		Text:    "Hi bruno",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = out.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "Subject: Ana sent you a friend request on Splitly")
	assert.Contains(t, raw, "bruno@example.com")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/html")
	assert.True(t, strings.Index(raw, "text/plain") < strings.Index(raw, "text/html"), "text part comes first")
}

func TestBuildMessage_InvalidRecipient(t *testing.T) {
	_, err := buildMessage(&domain.EmailMessage{From: "no-reply@splitly.app", To: "not an address", Text: "x"})
	assert.Error(t, err)
}

func TestSend_InvalidAddressIsTransportFailure(t *testing.T) {
	m, err := NewSMTPMailer(Config{Host: "localhost", Port: 2525}, zap.NewNop())
	require.NoError(t, err)

	err = m.Send(context.Background(), &domain.EmailMessage{From: "no-reply@splitly.app", To: "broken", Text: "x"})
	var tf *domain.ErrTransportFailure
	assert.ErrorAs(t, err, &tf)
}

package email

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(config.EmailConfig{Host: "localhost", Port: 2525, From: "desk@citidesk.example"})
	require.NoError(t, err)
	return s
}

func TestMessageHeadersAndBody(t *testing.T) {
	s := newTestService(t)

	msg, err := s.message("citizen@example.com", "Ticket #4 Completed", "Your ticket has been completed.")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Subject: Ticket #4 Completed")
	assert.Contains(t, out, "<citizen@example.com>")
	assert.Contains(t, out, "Your ticket has been completed.")
}

func TestMessageRejectsBadAddresses(t *testing.T) {
	s := newTestService(t)

	_, err := s.message("", "s", "b")
	assert.ErrorIs(t, err, ErrNoRecipient)

	_, err = s.message("not an address", "s", "b")
	assert.Error(t, err)
}

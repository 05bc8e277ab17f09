package channels

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"cadence/models"

	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestBuildMessage(t *testing.T) {
	sender := NewEmailSenderWithDialer(&fakeDialer{}, "outreach@acme.io", "Acme Sales", quietLogger())

	m, messageID, err := sender.BuildMessage(Request{
		StepType: models.StepTypeEmail,
		Lead:     testLead(),
		Subject:  "Quick question",
		Message:  "<p>Hi Ann</p>",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(messageID, "<"))
	require.True(t, strings.HasSuffix(messageID, "@acme.io>"))
	require.Equal(t, []string{"ann@example.com"}, m.GetHeader("To"))
	require.Equal(t, []string{"Quick question"}, m.GetHeader("Subject"))
	require.Equal(t, []string{messageID}, m.GetHeader("Message-ID"))
	require.Contains(t, m.GetHeader("From")[0], "outreach@acme.io")

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Hi Ann")
}

func TestBuildMessageNeedsRecipient(t *testing.T) {
	sender := NewEmailSenderWithDialer(&fakeDialer{}, "outreach@acme.io", "", quietLogger())
	lead := testLead()
	lead.Email = " "

	_, _, err := sender.BuildMessage(Request{Lead: lead})
	require.ErrorIs(t, err, ErrNoRecipient)
}

func TestEmailSend(t *testing.T) {
	dialer := &fakeDialer{}
	sender := NewEmailSenderWithDialer(dialer, "outreach@acme.io", "", quietLogger())

	resp, err := sender.Send(context.Background(), Request{StepType: models.StepTypeEmail, Lead: testLead(), Subject: "s", Message: "b"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.MessageID)
	require.Len(t, dialer.sent, 1)

	noEmail := testLead()
	noEmail.Email = ""
	resp, err = sender.Send(context.Background(), Request{StepType: models.StepTypeEmail, Lead: noEmail})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Len(t, dialer.sent, 1)

	dialer.err = errors.New("connection refused")
	_, err = sender.Send(context.Background(), Request{StepType: models.StepTypeEmail, Lead: testLead()})
	require.Error(t, err)
}

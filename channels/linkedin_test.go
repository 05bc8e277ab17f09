package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cadence/config"
	"cadence/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recorded struct {
	path    string
	auth    string
	payload linkedInPayload
}

func linkedInServer(t *testing.T, status int, body string) (*LinkedInClient, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p linkedInPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		calls = append(calls, recorded{path: r.URL.Path, auth: r.Header.Get("Authorization"), payload: p})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := NewLinkedInClient(config.LinkedInConfig{
		BaseURL: srv.URL + "/",
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	}, quietLogger())
	return client, &calls
}

func testLead() *models.Lead {
	lead := &models.Lead{FirstName: "Ann", Email: "ann@example.com", LinkedInURL: "https://www.linkedin.com/in/ann"}
	lead.ID = 11
	return lead
}

func TestLinkedInSendMessage(t *testing.T) {
	client, calls := linkedInServer(t, http.StatusOK, `{"success":true,"message_id":"li-1"}`)

	resp, err := client.Send(context.Background(), Request{
		TenantID: 3,
		StepType: models.StepTypeLinkedInMessage,
		Lead:     testLead(),
		Message:  "Hi Ann",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "li-1", resp.MessageID)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "/linkedin/message", call.path)
	require.Equal(t, "Bearer secret", call.auth)
	require.Equal(t, uint(3), call.payload.TenantID)
	require.Equal(t, uint(11), call.payload.LeadID)
	require.Equal(t, "https://www.linkedin.com/in/ann", call.payload.LinkedInURL)
	require.Equal(t, "Hi Ann", call.payload.Message)
}

func TestLinkedInAlreadyConnected(t *testing.T) {
	client, calls := linkedInServer(t, http.StatusOK, `{"success":true,"already_connected":true}`)

	resp, err := client.Send(context.Background(), Request{StepType: models.StepTypeLinkedInConnect, Lead: testLead()})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, resp.AlreadyConnected)
	require.Equal(t, "/linkedin/connect", (*calls)[0].path)
}

func TestLinkedInRejection(t *testing.T) {
	client, _ := linkedInServer(t, http.StatusUnprocessableEntity, `{"success":true,"error":"profile is private"}`)

	resp, err := client.Send(context.Background(), Request{StepType: models.StepTypeLinkedInMessage, Lead: testLead()})
	require.NoError(t, err)
	require.False(t, resp.Success, "4xx is a rejection even if the body says otherwise")
	require.Equal(t, "profile is private", resp.Error)
}

func TestLinkedInServerError(t *testing.T) {
	client, _ := linkedInServer(t, http.StatusBadGateway, `upstream down`)

	_, err := client.Send(context.Background(), Request{StepType: models.StepTypeLinkedInMessage, Lead: testLead()})
	require.Error(t, err)
}

func TestLinkedInReactionWithoutProfile(t *testing.T) {
	client, calls := linkedInServer(t, http.StatusOK, `{"success":true}`)
	lead := testLead()
	lead.LinkedInURL = ""

	resp, err := client.Send(context.Background(), Request{StepType: models.StepTypeLinkedInMessage, Lead: lead})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Empty(t, *calls)

	resp, err = client.Send(context.Background(), Request{
		StepType: models.StepTypeLinkedInReaction,
		Lead:     lead,
		PostURL:  "https://www.linkedin.com/feed/update/1",
		Reaction: "celebrate",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "/linkedin/react", (*calls)[0].path)
	require.Equal(t, "celebrate", (*calls)[0].payload.Reaction)
}

func TestLinkedInNotConfigured(t *testing.T) {
	client := NewLinkedInClient(config.LinkedInConfig{}, quietLogger())
	_, err := client.Send(context.Background(), Request{StepType: models.StepTypeLinkedInMessage, Lead: testLead()})
	require.Error(t, err)

	client = NewLinkedInClient(config.LinkedInConfig{BaseURL: "http://127.0.0.1:1"}, quietLogger())
	_, err = client.Send(context.Background(), Request{StepType: models.StepTypeEmail, Lead: testLead()})
	require.Error(t, err, "email is not a LinkedIn action")
}

func TestRegistry(t *testing.T) {
	li := NewLinkedInClient(config.LinkedInConfig{BaseURL: "http://example.test"}, quietLogger())
	r := NewRegistry(li, nil)

	_, ok := r.For(models.StepTypeLinkedInComment)
	require.True(t, ok)
	_, ok = r.For(models.StepTypeEmail)
	require.False(t, ok)
	_, ok = r.For(models.StepTypeCall)
	require.False(t, ok)
}

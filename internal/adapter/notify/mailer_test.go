package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emsreport/internal/platform/httpclient"
	"emsreport/internal/shared"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) {
	return s.token, s.err
}

func TestMailerSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, httpclient.New(), staticTokens{token: "tok-1"}, nil)
	doc := []byte("fake xlsx bytes")

	err := m.Send(context.Background(), []string{"a@example.com", "b@example.com"}, doc)
	require.NoError(t, err)

	assert.Equal(t, "a@example.com,b@example.com", got["toAddresses"])
	assert.Equal(t, "a@example.com,b@example.com", got["to"])
	assert.Equal(t, "Scheduled Energy Consumption Report", got["subject"])
	assert.Equal(t, "BasicNotification.vm", got["emailTemplate"])
	assert.Equal(t, "EnergyReport.xlsx", got["attachFileName"])
	assert.Equal(t, xlsxContentType, got["contentType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(doc), got["attachFile"])
	assert.Nil(t, got["ccAddresses"])
	assert.Nil(t, got["model"])
}

func TestMailerSendGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, httpclient.New(httpclient.WithRetries(0, 0)), staticTokens{token: "tok"}, nil)
	err := m.Send(context.Background(), []string{"a@example.com"}, []byte("doc"))
	require.Error(t, err)
	assert.True(t, shared.IsDependencyFailure(err))
}

func TestMailerSendValidation(t *testing.T) {
	m := NewMailer("http://unused", httpclient.New(), staticTokens{token: "tok"}, nil)

	err := m.Send(context.Background(), nil, []byte("doc"))
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	err = m.Send(context.Background(), []string{"a@example.com"}, nil)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestMailerSendAuthFailure(t *testing.T) {
	m := NewMailer("http://unused", httpclient.New(), staticTokens{err: errors.New("login failed")}, nil)

	err := m.Send(context.Background(), []string{"a@example.com"}, []byte("doc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification auth")
}

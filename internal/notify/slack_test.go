package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cphillipson/mergebot/internal/notify"
)

func TestAlertSchedulerBackoff_NoWebhookConfigured_IsNoOp(t *testing.T) {
	s := notify.NewSlack(notify.SlackConfig{})

	err := s.AlertSchedulerBackoff(context.Background(), errors.New("boom"))

	require.NoError(t, err)
}

func TestAlertSchedulerBackoff_PostsToWebhook(t *testing.T) {
	var received bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := notify.NewSlack(notify.SlackConfig{WebhookURL: srv.URL})

	err := s.AlertSchedulerBackoff(context.Background(), errors.New("step failed"))

	require.NoError(t, err)
	assert.True(t, received)
}

func TestAlertSchedulerBackoff_ServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := notify.NewSlack(notify.SlackConfig{WebhookURL: srv.URL})

	err := s.AlertSchedulerBackoff(context.Background(), errors.New("step failed"))

	assert.Error(t, err)
}

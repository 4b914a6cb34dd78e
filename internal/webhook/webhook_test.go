package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cphillipson/mergebot/internal/webhook"
)

type countingRunner struct{ calls int32 }

func (c *countingRunner) Run(context.Context) { atomic.AddInt32(&c.calls, 1) }

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestServeHTTP_ValidSignatureAndRecognizedEvent_TriggersRun(t *testing.T) {
	runner := &countingRunner{}
	h := webhook.New(context.Background(), "s3cr3t", runner)
	body := `{"action":"opened"}`

	req := httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cr3t", body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runner.calls))
}

func TestServeHTTP_InvalidSignature_Rejects(t *testing.T) {
	runner := &countingRunner{}
	h := webhook.New(context.Background(), "s3cr3t", runner)
	body := `{"action":"opened"}`

	req := httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("wrong-secret", body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.EqualValues(t, 0, atomic.LoadInt32(&runner.calls))
}

func TestServeHTTP_UnrecognizedEvent_AcceptsWithoutRunning(t *testing.T) {
	runner := &countingRunner{}
	h := webhook.New(context.Background(), "s3cr3t", runner)
	body := `{}`

	req := httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cr3t", body))
	req.Header.Set("X-GitHub-Event", "ping")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, atomic.LoadInt32(&runner.calls))
}

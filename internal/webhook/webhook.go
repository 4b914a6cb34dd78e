// Package webhook implements the Event Adapter of §4.6: an HTTP handler
// that verifies the host's HMAC signature and maps every accepted push,
// pull_request, pull_request_review, and status event onto a single
// Scheduler.Run() call.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/cphillipson/mergebot/internal/logging"
)

var acceptedEvents = map[string]bool{
	"push":                true,
	"pull_request":        true,
	"pull_request_review": true,
	"status":              true,
}

// Runner is the Scheduler contract the adapter drives.
type Runner interface {
	Run(ctx context.Context)
}

// Handler is an http.Handler that verifies the webhook signature and
// triggers a Scheduler run for recognized events.
type Handler struct {
	secret []byte
	runner Runner
	ctx    context.Context
	logger *logging.Logger
}

// New builds a Handler. secret is the configured github_webhook_secret.
// ctx is the process's long-lived context, not the per-request context:
// a Step dispatched from a webhook delivery must keep running after the
// delivering request disconnects (GitHub's ~10s delivery timeout would
// otherwise cancel an in-flight merge).
func New(ctx context.Context, secret string, runner Runner) *Handler {
	return &Handler{
		secret: []byte(secret),
		runner: runner,
		ctx:    ctx,
		logger: logging.Global().WithComponent("webhook"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.verifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		h.logger.Warn("rejected webhook delivery with invalid signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if !acceptedEvents[event] {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.WithField("event", event).Debug("accepted webhook delivery")
	h.runner.Run(h.ctx)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if len(h.secret) == 0 {
		return true
	}
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	got := mac.Sum(nil)

	return hmac.Equal(got, want)
}

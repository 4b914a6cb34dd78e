// Package status implements the Status Evaluator of §4.2: it reduces a
// commit's combined status plus the base branch's required contexts down
// to one of pending, success, or failure.
package status

import (
	"github.com/cphillipson/mergebot/internal/gateway"
	"github.com/cphillipson/mergebot/internal/logging"
)

// State is the evaluator's three-way result.
type State string

const (
	Pending State = "pending"
	Success State = "success"
	Failure State = "failure"
)

// Evaluate combines combined with the required context set. An empty
// required set is a misconfiguration: it falls back to the host's
// aggregate state and logs a warning rather than silently passing.
func Evaluate(combined *gateway.CombinedStatus, required []string) State {
	logger := logging.Global().WithComponent("status")

	if len(required) == 0 {
		logger.Warn("no required status contexts configured; falling back to aggregate state")
		return fromGatewayState(combined.Aggregate)
	}

	wanted := make(map[string]bool, len(required))
	for _, ctx := range required {
		wanted[ctx] = false
	}

	kept := 0
	anyPending := false
	anyFailing := false

	for _, s := range combined.Statuses {
		if _, ok := wanted[s.Context]; !ok {
			continue
		}
		if !wanted[s.Context] {
			wanted[s.Context] = true
			kept++
		}
		switch s.State {
		case gateway.StatusPending:
			anyPending = true
		case gateway.StatusSuccess:
			// no-op
		default:
			anyFailing = true
		}
	}

	if kept < len(required) || anyPending {
		return Pending
	}
	if anyFailing {
		return Failure
	}
	return Success
}

func fromGatewayState(s gateway.StatusState) State {
	switch s {
	case gateway.StatusSuccess:
		return Success
	case gateway.StatusPending:
		return Pending
	default:
		return Failure
	}
}

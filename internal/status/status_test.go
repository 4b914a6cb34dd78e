package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cphillipson/mergebot/internal/gateway"
	"github.com/cphillipson/mergebot/internal/status"
)

func TestEvaluate_MissingRequiredContext_IsPending(t *testing.T) {
	combined := &gateway.CombinedStatus{
		Aggregate: gateway.StatusSuccess,
		Statuses: []gateway.StatusEntry{
			{Context: "ci/build", State: gateway.StatusSuccess},
		},
	}

	got := status.Evaluate(combined, []string{"ci/build", "ci/test"})

	assert.Equal(t, status.Pending, got)
}

func TestEvaluate_AllRequiredSuccess_IsSuccess(t *testing.T) {
	combined := &gateway.CombinedStatus{
		Statuses: []gateway.StatusEntry{
			{Context: "ci/build", State: gateway.StatusSuccess},
			{Context: "ci/test", State: gateway.StatusSuccess},
			{Context: "unrelated", State: gateway.StatusFailure},
		},
	}

	got := status.Evaluate(combined, []string{"ci/build", "ci/test"})

	assert.Equal(t, status.Success, got)
}

func TestEvaluate_OneRequiredFailing_IsFailure(t *testing.T) {
	combined := &gateway.CombinedStatus{
		Statuses: []gateway.StatusEntry{
			{Context: "ci/build", State: gateway.StatusSuccess},
			{Context: "ci/test", State: gateway.StatusFailure},
		},
	}

	got := status.Evaluate(combined, []string{"ci/build", "ci/test"})

	assert.Equal(t, status.Failure, got)
}

func TestEvaluate_OneRequiredPending_IsPending(t *testing.T) {
	combined := &gateway.CombinedStatus{
		Statuses: []gateway.StatusEntry{
			{Context: "ci/build", State: gateway.StatusSuccess},
			{Context: "ci/test", State: gateway.StatusPending},
		},
	}

	got := status.Evaluate(combined, []string{"ci/build", "ci/test"})

	assert.Equal(t, status.Pending, got)
}

func TestEvaluate_NoRequiredContexts_FallsBackToAggregate(t *testing.T) {
	combined := &gateway.CombinedStatus{Aggregate: gateway.StatusSuccess}

	got := status.Evaluate(combined, nil)

	assert.Equal(t, status.Success, got)
}

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err    *ServiceError
		status int
	}{
		{InvalidInput("name required"), http.StatusBadRequest},
		{InvalidAmount("abc", nil), http.StatusBadRequest},
		{InsufficientBudget("6", "7"), http.StatusBadRequest},
		{Forbidden("not the approver"), http.StatusForbidden},
		{NotFound("round", "r1"), http.StatusNotFound},
		{InvalidState("round closed"), http.StatusConflict},
		{PaymentsUnavailable("no signer"), http.StatusInternalServerError},
		{Internal("boom", nil), http.StatusInternalServerError},
		{RateLimitExceeded(10, "1s"), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("decide: %w", InsufficientBudget("6", "7"))

	require.True(t, stderrors.Is(err, ErrInsufficientBudget))
	require.False(t, stderrors.Is(err, ErrForbidden))

	se := GetServiceError(err)
	require.NotNil(t, se)
	require.Equal(t, "6", se.Details["remaining"])
	require.Equal(t, "7", se.Details["requested"])
	require.True(t, HasCode(err, CodeInsufficientBudget))
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := InvalidInput("bad")
	derived := base.WithDetails("field", "name")

	require.Nil(t, base.Details)
	require.Equal(t, "name", derived.Details["field"])
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("rpc down")
	err := TransactionNotFound("0x01", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "rpc down")
	require.Nil(t, GetServiceError(cause))
}

package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "rid-9")
	WriteError(rec, ErrRateLimitExceeded.WithDetail("retry in 10s"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
	require.Equal(t, "retry in 10s", body["detail"])
	require.Equal(t, "rid-9", body["request_id"])
}

func TestFromError_WrapsAndUnwraps(t *testing.T) {
	cause := fmt.Errorf("boom")
	wrapped := fmt.Errorf("ctx: %w", ErrForbidden.WithCause(cause))
	require.Equal(t, "FORBIDDEN", FromError(wrapped).Code)

	plain := FromError(cause)
	require.Equal(t, http.StatusInternalServerError, plain.HTTPStatus)
	require.ErrorIs(t, plain, cause)
}

func TestWithDetail_DoesNotMutateBase(t *testing.T) {
	_ = ErrBadRequest.WithDetail("x")
	require.Empty(t, ErrBadRequest.Detail)
}

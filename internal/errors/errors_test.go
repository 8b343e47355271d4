package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := PollingNetwork("wuyin", cause)

	assert.Equal(t, "status query failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	plain := NotFound("job missing")
	assert.Equal(t, "job missing", plain.Error())
	assert.Nil(t, plain.Unwrap())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"not found", NotFoundf("job %s", "x"), IsNotFound},
		{"validation", Validation("bad"), IsValidation},
		{"conflict", Conflict("dupe"), IsConflict},
		{"provider unavailable", ProviderUnavailable("wuyin", "no creds"), IsProviderUnavailable},
		{"provider request", ProviderRequest("keling", "rejected", nil), IsProviderRequest},
		{"polling network", PollingNetwork("wuyin", errors.New("eof")), IsPollingNetwork},
		{"polling timeout", PollingTimeout("wuyin", 60), IsPollingTimeout},
		{"persistence", Persistence("write failed", errors.New("down")), IsPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.predicate(tt.err))
			assert.False(t, tt.predicate(errors.New("plain")))
		})
	}
}

func TestIsCreationFailure(t *testing.T) {
	assert.True(t, IsCreationFailure(ProviderUnavailable("wuyin", "no creds")))
	assert.True(t, IsCreationFailure(ProviderRequest("wuyin", "rejected", nil)))
	assert.False(t, IsCreationFailure(PollingNetwork("wuyin", errors.New("eof"))))
	assert.False(t, IsCreationFailure(errors.New("plain")))
}

func TestIsPollingNetwork_IncludesUnknownResponse(t *testing.T) {
	assert.True(t, IsPollingNetwork(UnknownResponse("keling", "missing field")))
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	inner := NotFound("gone")
	wrapped := fmt.Errorf("querying store: %w", inner)
	assert.True(t, IsNotFound(wrapped))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))

	cause := errors.New("boom")
	err := Wrap(cause, ErrCodePersistence, "saving job")
	require.NotNil(t, err)
	assert.Equal(t, ErrCodePersistence, err.Code)
	assert.ErrorIs(t, err, cause)

	formatted := Wrapf(cause, ErrCodeInternal, "job %s", "abc")
	require.NotNil(t, formatted)
	assert.Equal(t, "job abc: boom", formatted.Error())
}

func TestGetCodeAndProvider(t *testing.T) {
	err := ProviderRequest("keling", "rejected", nil)
	assert.Equal(t, ErrCodeProviderRequest, GetCode(err))
	assert.Equal(t, "keling", GetProvider(err))

	wrapped := fmt.Errorf("submit: %w", err)
	assert.Equal(t, ErrCodeProviderRequest, GetCode(wrapped))
	assert.Equal(t, "keling", GetProvider(wrapped))

	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, "", GetProvider(nil))
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/galchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_errorFor(t *testing.T) {
	tcases := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{"not found", fmt.Errorf("get room: %w", types.ErrNotFound), http.StatusNotFound},
		{"already exists", fmt.Errorf("create room: %w", types.ErrAlreadyExists), http.StatusConflict},
		{"invalid content", fmt.Errorf("avatar: %w", types.ErrInvalidContent), http.StatusBadRequest},
		{"storage unavailable", fmt.Errorf("ping: %w", types.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{"service error", fmt.Errorf("completion: %w", types.ErrService), http.StatusBadGateway},
		{"body too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := errorFor(tc.err)
			assert.Equal(t, tc.expectedCode, apiErr.StatusCode)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestApiError(t *testing.T) {
	err := NewInternalServerError(errors.New("db down"))
	assert.Equal(t, "internal server error: db down", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "db down")

	assert.Equal(t, "id already exists", NewConflictError().Error())
}

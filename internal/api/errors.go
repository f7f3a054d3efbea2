package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/galchat/internal/types"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int, err error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewConflictError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    types.ErrAlreadyExists.Error(),
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

func NewBadGatewayError(err error) *ApiError {
	return newApiError(http.StatusBadGateway, err)
}

func NewRequestTooLargeError() *ApiError {
	return newApiError(http.StatusRequestEntityTooLarge, nil)
}

// errorFor maps a domain error to the response reported to the caller.
func errorFor(err error) *ApiError {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, types.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, types.ErrAlreadyExists):
		return NewConflictError()
	case errors.Is(err, types.ErrInvalidContent):
		return NewBadRequestError()
	case errors.Is(err, types.ErrStorageUnavailable):
		return NewServiceUnavailableError(err)
	case errors.Is(err, types.ErrService):
		return NewBadGatewayError(err)
	case errors.As(err, &maxBytes):
		return NewRequestTooLargeError()
	default:
		return NewInternalServerError(err)
	}
}

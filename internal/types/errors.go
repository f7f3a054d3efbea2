package types

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("id already exists")
	ErrInvalidContent     = errors.New("invalid content")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrService            = errors.New("service error")
)

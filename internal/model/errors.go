package model

import "errors"

// Domain errors. All of them are recoverable at the API boundary.
var (
	ErrEventNotFound         = errors.New("event not found")
	ErrDuplicateName         = errors.New("name already signed up")
	ErrNameNotFound          = errors.New("name not found in signup list")
	ErrIDGenerationExhausted = errors.New("could not generate a unique event id")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrInvalidInput          = errors.New("invalid input")
)

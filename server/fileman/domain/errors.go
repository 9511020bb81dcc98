package domain

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrDuplicateFile        = errors.New("duplicate file")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	// ErrConflict is raised by stores on a uniqueness violation. The
	// ingestion flow never lets it reach a caller.
	ErrConflict           = errors.New("conflict")
	ErrIncompleteUpload   = errors.New("incomplete upload")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

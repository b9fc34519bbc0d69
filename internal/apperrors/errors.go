package apperrors

import "errors"

var (
	ErrUnsupportedProvider  = errors.New("unsupported provider")
	ErrMappingNotFound      = errors.New("attribute mapping not found")
	ErrConnectorUnavailable = errors.New("connector unavailable")
	ErrSubjectNotFound      = errors.New("subject not found")
	ErrDecryption           = errors.New("decryption failed")
	ErrCacheUnavailable     = errors.New("cache unavailable")
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrSecretNotFound       = errors.New("secret not found")
	ErrInvalidInput         = errors.New("invalid input")
)

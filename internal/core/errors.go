package core

import "errors"

// Error taxonomy shared by services and transport. Callers match with errors.Is.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrUpstreamFeed        = errors.New("upstream feed error")
	ErrClassificationParse = errors.New("classification parse error")
	ErrReauthRequired      = errors.New("connection requires re-authentication")
	ErrConnectionLimit     = errors.New("bank connection limit reached")
)

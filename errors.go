package corvus

import (
	"github.com/corvusbot/corvus/internal/restapi"
	"github.com/corvusbot/corvus/internal/sessionmgr"
)

// Re-exported error kinds so callers never need to import
// the internal packages directly.
var (
	ErrInvalidAuthentication = sessionmgr.ErrInvalidAuthentication
	ErrNoPermission          = restapi.ErrNoPermission
	ErrNotFound              = restapi.ErrNotFound
	ErrTransport             = restapi.ErrTransport
)

// RateLimited is returned by REST-backed operations when Discord responds 429.
type RateLimited = restapi.RateLimited

// StatusError is returned by REST-backed operations for an otherwise
// unclassified HTTP status.
type StatusError = restapi.StatusError

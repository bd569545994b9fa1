// internal/domain/errors.go
package domain

import "errors"

// ErrUnauthorized is returned by the fetch layer when the API responds with
// HTTP 401. Callers can check for it using errors.Is to trigger token refresh
// or re-auth.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned by the fetch layer when the API responds with
// HTTP 404, typically a wrong project ID or missing permissions.
var ErrNotFound = errors.New("not found")

// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for connection policy failures. Callers branch on these with
// errors.Is instead of matching message text.
var (
	// ErrNotConnected means the user has no stored GitHub token.
	ErrNotConnected = errors.New("github not connected")

	// ErrTokenExpired means the stored token has passed its expiry. There is no
	// in-place refresh; the user must reconnect.
	ErrTokenExpired = errors.New("github token has expired")

	// ErrNoRepositories means a sync was requested but the user has no active
	// tracked repositories.
	ErrNoRepositories = errors.New("no repositories connected")

	// ErrRepositoryNotAccessible means the repository does not exist or the
	// token cannot see it.
	ErrRepositoryNotAccessible = errors.New("repository not found or not accessible")

	// ErrBadCredentials means GitHub rejected the token (HTTP 401).
	ErrBadCredentials = errors.New("github rejected credentials")
)

// ErrInvalidRepoFormat is returned when a repository string is not in
// 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// RateLimitError is returned on HTTP 403 with an exhausted quota. Reset is when
// the quota replenishes; the core never waits it out itself.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github API rate limit exceeded, resets at %s", e.Reset.Format(time.RFC3339))
}

// RetryAfter returns how long callers should back off before retrying.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	if d := e.Reset.Sub(now); d > 0 {
		return d
	}
	return 0
}

// APIError wraps any other non-2xx GitHub response.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API error (status %d): %s", e.Status, e.Msg)
}

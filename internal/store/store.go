// internal/store/store.go

// Package store persists connections, tracked repositories, and activity
// snapshots. The Store interface is what the service layer programs against;
// Postgres provides the production implementation.
package store

import (
	"context"
	"errors"
	"time"

	"devpulse/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// TokenFields are the mutable parts of a connection, set on OAuth completion
// or token rotation.
type TokenFields struct {
	AccessToken  string
	RefreshToken *string
	TokenType    string
	Scope        *string
	ExpiresAt    *time.Time
}

// Store is the persistence boundary for the aggregation core. Snapshots are
// derived data, rebuildable from GitHub at any time; connections and tracked
// repositories are owned by the user entity.
type Store interface {
	// FindConnection returns the user's connection or ErrNotFound.
	FindConnection(ctx context.Context, userID string) (*model.Connection, error)
	// UpsertConnection creates or replaces the user's single connection.
	UpsertConnection(ctx context.Context, userID string, fields TokenFields) (*model.Connection, error)
	// DeleteConnection removes the user's connection; ErrNotFound when absent.
	DeleteConnection(ctx context.Context, userID string) error

	// ListRepositories returns the user's tracked repositories, optionally
	// restricted to active ones.
	ListRepositories(ctx context.Context, userID string, activeOnly bool) ([]model.Repository, error)
	// FindRepositoryByGithubID looks a tracked repository up by its GitHub id.
	FindRepositoryByGithubID(ctx context.Context, userID string, githubRepoID int64) (*model.Repository, error)
	// CreateRepository inserts a new tracked repository row.
	CreateRepository(ctx context.Context, repo model.Repository) (*model.Repository, error)
	// SetRepositoryActive flips one repository's active flag; ErrNotFound when
	// the row does not belong to the user.
	SetRepositoryActive(ctx context.Context, userID, repoID string, active bool) (*model.Repository, error)
	// DeactivateAllRepositories flips every repository of the user inactive.
	DeactivateAllRepositories(ctx context.Context, userID string) error

	// FindSnapshot returns the snapshot for (user, date) or ErrNotFound.
	FindSnapshot(ctx context.Context, userID string, date time.Time) (*model.ActivitySnapshot, error)
	// UpsertSnapshot writes the single snapshot for (user, date). Concurrent
	// syncs for the same pair serialize on the row.
	UpsertSnapshot(ctx context.Context, snapshot model.ActivitySnapshot) (*model.ActivitySnapshot, error)
	// ListRecentSnapshots returns up to limit snapshots, newest date first.
	ListRecentSnapshots(ctx context.Context, userID string, limit int) ([]model.ActivitySnapshot, error)

	// DeleteUserData removes everything owned by the user, for account-level
	// cleanup.
	DeleteUserData(ctx context.Context, userID string) error
}

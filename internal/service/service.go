// internal/service/service.go

// Package service hosts the caller-facing operations of the activity
// aggregation core and the connection policy that gates them. HTTP handlers
// call into here; persistence and the GitHub API sit behind interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"devpulse/internal/aggregator"
	apperrors "devpulse/internal/errors"
	"devpulse/internal/github"
	"devpulse/internal/model"
	"devpulse/internal/normalize"
	"devpulse/internal/store"
	"devpulse/internal/validate"
)

// GitHubClient is everything the service needs from the GitHub API for one
// user token.
type GitHubClient interface {
	aggregator.Source
	ListRepositories(ctx context.Context, opts github.RepoListOptions) ([]model.RemoteRepo, *model.RateLimit, error)
	GetRateLimit(ctx context.Context) (*model.RateLimit, error)
}

// ClientFactory builds a GitHub client for an access token. Injected so tests
// can substitute doubles and so no package-level client exists.
type ClientFactory func(token string) (GitHubClient, error)

// Service wires the store, the GitHub client factory, and the aggregation
// pipeline together.
type Service struct {
	store       store.Store
	clients     ClientFactory
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// New creates a Service. concurrency bounds parallel per-repository fetches
// within one aggregation run.
func New(st store.Store, clients ClientFactory, logger *slog.Logger, concurrency int) *Service {
	return &Service{
		store:       st,
		clients:     clients,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// GetConnectionStatus reports whether the user has a GitHub connection, its
// token expiry, and the active tracked repositories.
func (s *Service) GetConnectionStatus(ctx context.Context, userID string) (*model.ConnectionStatus, error) {
	conn, err := s.store.FindConnection(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.ConnectionStatus{Connected: false, Repositories: []model.Repository{}}, nil
	}
	if err != nil {
		return nil, err
	}

	repos, err := s.store.ListRepositories(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []model.Repository{}
	}
	return &model.ConnectionStatus{
		Connected:             true,
		TokenExpiry:           conn.ExpiresAt,
		ConnectedRepositories: len(repos),
		Repositories:          repos,
	}, nil
}

// usableConnection is the connection policy gate: ErrNotConnected without a
// stored token, ErrTokenExpired past expiry. There is no silent refresh; an
// expired token blocks aggregation until the user reconnects.
func (s *Service) usableConnection(ctx context.Context, userID string) (*model.Connection, error) {
	conn, err := s.store.FindConnection(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	if conn.Expired(s.now()) {
		return nil, apperrors.ErrTokenExpired
	}
	return conn, nil
}

// ValidateToken exposes the connection policy upward: it returns the
// connection when usable and the policy error otherwise.
func (s *Service) ValidateToken(ctx context.Context, userID string) (*model.Connection, error) {
	return s.usableConnection(ctx, userID)
}

// StoreToken creates or replaces the user's GitHub token.
func (s *Service) StoreToken(ctx context.Context, userID string, fields store.TokenFields) (*model.Connection, error) {
	return s.store.UpsertConnection(ctx, userID, fields)
}

// ListAvailableRepositories lists the user's repositories live from GitHub,
// together with the rate-limit snapshot of the call.
func (s *Service) ListAvailableRepositories(ctx context.Context, userID string) ([]model.RemoteRepo, *model.RateLimit, error) {
	conn, err := s.usableConnection(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	client, err := s.clients(conn.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	return client.ListRepositories(ctx, github.RepoListOptions{
		Visibility: "all",
		Sort:       "updated",
		PerPage:    100,
	})
}

// ConnectRepository starts tracking a repository for the user. A previously
// disconnected repository is reactivated instead of duplicated.
func (s *Service) ConnectRepository(ctx context.Context, userID, owner, name string) (*model.Repository, error) {
	remote, _, err := s.ListAvailableRepositories(ctx, userID)
	if err != nil {
		return nil, err
	}

	var found *model.RemoteRepo
	for i := range remote {
		if remote[i].Owner == owner && remote[i].Name == name {
			found = &remote[i]
			break
		}
	}
	if found == nil {
		return nil, apperrors.ErrRepositoryNotAccessible
	}

	existing, err := s.store.FindRepositoryByGithubID(ctx, userID, found.GithubRepoID)
	if err == nil {
		return s.store.SetRepositoryActive(ctx, userID, existing.ID, true)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	defaultBranch := found.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	return s.store.CreateRepository(ctx, model.Repository{
		UserID:        userID,
		GithubRepoID:  found.GithubRepoID,
		Name:          found.Name,
		FullName:      found.FullName,
		Private:       found.Private,
		DefaultBranch: defaultBranch,
		Language:      found.Language,
		Description:   found.Description,
		HTMLURL:       found.HTMLURL,
		CloneURL:      found.CloneURL,
		IsActive:      true,
	})
}

// DisconnectRepository stops tracking one repository. The row is deactivated,
// not deleted, so history survives a reconnect.
func (s *Service) DisconnectRepository(ctx context.Context, userID, repoID string) error {
	_, err := s.store.SetRepositoryActive(ctx, userID, repoID, false)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.ErrRepositoryNotAccessible
	}
	return err
}

// FetchResult is the outcome of one fetch/sync run.
type FetchResult struct {
	Snapshots []model.ActivitySnapshot `json:"snapshots"`
	FetchedAt time.Time                `json:"fetchedAt"`
}

// FetchActivity aggregates GitHub activity for every calendar date in
// [start, end), normalizes and validates each day, and upserts one snapshot
// per (user, date). The whole operation is idempotent: re-running it for the
// same window rebuilds the same snapshots.
func (s *Service) FetchActivity(ctx context.Context, userID string, start, end time.Time) (*FetchResult, error) {
	conn, err := s.usableConnection(ctx, userID)
	if err != nil {
		return nil, err
	}

	repos, err := s.store.ListRepositories(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, apperrors.ErrNoRepositories
	}
	fullNames := make([]string, len(repos))
	for i, r := range repos {
		fullNames[i] = r.FullName
	}

	client, err := s.clients(conn.AccessToken)
	if err != nil {
		return nil, err
	}
	agg := aggregator.New(client, s.logger.With("user_id", userID), s.concurrency)

	start = dateOnly(start)
	end = dateOnly(end)
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}

	result := &FetchResult{FetchedAt: s.now()}
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		snapshot, err := s.syncDay(ctx, userID, agg, fullNames, day)
		if err != nil {
			return nil, err
		}
		result.Snapshots = append(result.Snapshots, *snapshot)
	}
	return result, nil
}

// syncDay aggregates one [day, day+1) window and persists its snapshot.
func (s *Service) syncDay(ctx context.Context, userID string, agg *aggregator.Aggregator, repos []string, day time.Time) (*model.ActivitySnapshot, error) {
	activity, err := agg.Aggregate(ctx, repos, day, day.AddDate(0, 0, 1), "")
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", day.Format("2006-01-02"), err)
	}

	snapshot := normalize.Activity(model.ActivitySnapshot{
		UserID:       userID,
		Date:         day,
		Commits:      activity.Commits,
		PullRequests: activity.PullRequests,
		Issues:       activity.Issues,
	})

	stored, err := s.store.UpsertSnapshot(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("persist snapshot %s: %w", day.Format("2006-01-02"), err)
	}

	// The report is diagnostic only; a flagged snapshot is still served.
	report := validate.Activity(*stored)
	if len(report.Errors) > 0 {
		s.logger.Error("Snapshot failed validation", "user_id", userID, "date", day.Format("2006-01-02"), "errors", report.Errors)
	}
	for _, w := range report.Warnings {
		s.logger.Warn("Snapshot validation warning", "user_id", userID, "date", day.Format("2006-01-02"), "warning", w)
	}
	return stored, nil
}

// SyncForRepository is the webhook entry point: after delivery verification
// upstream, it re-syncs today's window for the user if the named repository is
// actively tracked.
func (s *Service) SyncForRepository(ctx context.Context, userID, fullName string) (*FetchResult, error) {
	repos, err := s.store.ListRepositories(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	tracked := false
	for _, r := range repos {
		if r.FullName == fullName {
			tracked = true
			break
		}
	}
	if !tracked {
		return nil, apperrors.ErrRepositoryNotAccessible
	}
	today := dateOnly(s.now())
	return s.FetchActivity(ctx, userID, today, today.AddDate(0, 0, 1))
}

// GetDailyActivity returns the stored snapshot for one date, or
// store.ErrNotFound when none exists.
func (s *Service) GetDailyActivity(ctx context.Context, userID string, date time.Time) (*model.ActivitySnapshot, error) {
	return s.store.FindSnapshot(ctx, userID, date)
}

// GetRecentActivities returns up to limit recent snapshots, normalized with
// empty days dropped and sorted newest first.
func (s *Service) GetRecentActivities(ctx context.Context, userID string, limit int) ([]model.ActivitySnapshot, error) {
	snapshots, err := s.store.ListRecentSnapshots(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	optimized := normalize.OptimizeActivityData(snapshots)
	if optimized == nil {
		optimized = []model.ActivitySnapshot{}
	}
	return optimized, nil
}

// GetActivitySummary builds the compact digest used by downstream summary
// generation from the user's recent snapshots.
func (s *Service) GetActivitySummary(ctx context.Context, userID string, limit int) (*normalize.Summary, error) {
	snapshots, err := s.store.ListRecentSnapshots(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	summary := normalize.BuildSummary(snapshots, userID, s.now())
	return &summary, nil
}

// DisconnectAccount deactivates every tracked repository and deletes the
// user's connection.
func (s *Service) DisconnectAccount(ctx context.Context, userID string) error {
	if err := s.store.DeactivateAllRepositories(ctx, userID); err != nil {
		return err
	}
	err := s.store.DeleteConnection(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.ErrNotConnected
	}
	return err
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

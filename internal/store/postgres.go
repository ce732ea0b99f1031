// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"devpulse/internal/model"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const connectionColumns = `id, user_id, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at`

func (p *Postgres) FindConnection(ctx context.Context, userID string) (*model.Connection, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM github_connections WHERE user_id = $1`, userID)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return conn, nil
}

func (p *Postgres) UpsertConnection(ctx context.Context, userID string, fields TokenFields) (*model.Connection, error) {
	tokenType := fields.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO github_connections (user_id, access_token, refresh_token, token_type, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		RETURNING `+connectionColumns,
		userID, fields.AccessToken, fields.RefreshToken, tokenType, fields.Scope, fields.ExpiresAt)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("upsert connection: %w", err)
	}
	return conn, nil
}

func (p *Postgres) DeleteConnection(ctx context.Context, userID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM github_connections WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const repositoryColumns = `id, user_id, github_repo_id, name, full_name, private, default_branch, language, description, html_url, clone_url, is_active, created_at, updated_at`

func (p *Postgres) ListRepositories(ctx context.Context, userID string, activeOnly bool) ([]model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM tracked_repositories WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at`

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("list repositories: %w", err)
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

func (p *Postgres) FindRepositoryByGithubID(ctx context.Context, userID string, githubRepoID int64) (*model.Repository, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM tracked_repositories WHERE user_id = $1 AND github_repo_id = $2`,
		userID, githubRepoID)
	repo, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find repository: %w", err)
	}
	return repo, nil
}

func (p *Postgres) CreateRepository(ctx context.Context, repo model.Repository) (*model.Repository, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO tracked_repositories
			(user_id, github_repo_id, name, full_name, private, default_branch, language, description, html_url, clone_url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+repositoryColumns,
		repo.UserID, repo.GithubRepoID, repo.Name, repo.FullName, repo.Private, repo.DefaultBranch,
		repo.Language, repo.Description, repo.HTMLURL, repo.CloneURL, repo.IsActive)
	created, err := scanRepository(row)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	return created, nil
}

func (p *Postgres) SetRepositoryActive(ctx context.Context, userID, repoID string, active bool) (*model.Repository, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE tracked_repositories SET is_active = $3, updated_at = now()
		WHERE user_id = $1 AND id = $2
		RETURNING `+repositoryColumns,
		userID, repoID, active)
	repo, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set repository active: %w", err)
	}
	return repo, nil
}

func (p *Postgres) DeactivateAllRepositories(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE tracked_repositories SET is_active = false, updated_at = now() WHERE user_id = $1 AND is_active`,
		userID)
	if err != nil {
		return fmt.Errorf("deactivate repositories: %w", err)
	}
	return nil
}

const snapshotColumns = `id, user_id, date, commits, pull_requests, issues, total_commits, total_pull_requests, total_issues, created_at, updated_at`

func (p *Postgres) FindSnapshot(ctx context.Context, userID string, date time.Time) (*model.ActivitySnapshot, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM activity_snapshots WHERE user_id = $1 AND date = $2`,
		userID, dateOnly(date))
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return snapshot, nil
}

func (p *Postgres) UpsertSnapshot(ctx context.Context, snapshot model.ActivitySnapshot) (*model.ActivitySnapshot, error) {
	commits, err := json.Marshal(emptyIfNilCommits(snapshot.Commits))
	if err != nil {
		return nil, fmt.Errorf("marshal commits: %w", err)
	}
	prs, err := json.Marshal(emptyIfNilPRs(snapshot.PullRequests))
	if err != nil {
		return nil, fmt.Errorf("marshal pull requests: %w", err)
	}
	issues, err := json.Marshal(emptyIfNilIssues(snapshot.Issues))
	if err != nil {
		return nil, fmt.Errorf("marshal issues: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO activity_snapshots
			(user_id, date, commits, pull_requests, issues, total_commits, total_pull_requests, total_issues)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, date) DO UPDATE SET
			commits = EXCLUDED.commits,
			pull_requests = EXCLUDED.pull_requests,
			issues = EXCLUDED.issues,
			total_commits = EXCLUDED.total_commits,
			total_pull_requests = EXCLUDED.total_pull_requests,
			total_issues = EXCLUDED.total_issues,
			updated_at = now()
		RETURNING `+snapshotColumns,
		snapshot.UserID, dateOnly(snapshot.Date), commits, prs, issues,
		snapshot.TotalCommits, snapshot.TotalPullRequests, snapshot.TotalIssues)
	stored, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}
	return stored, nil
}

func (p *Postgres) ListRecentSnapshots(ctx context.Context, userID string, limit int) ([]model.ActivitySnapshot, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM activity_snapshots WHERE user_id = $1 ORDER BY date DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.ActivitySnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, rows.Err()
}

func (p *Postgres) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete user data: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"activity_snapshots", "tracked_repositories", "github_connections"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete user data from %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func scanConnection(row pgx.Row) (*model.Connection, error) {
	var c model.Connection
	err := row.Scan(&c.ID, &c.UserID, &c.AccessToken, &c.RefreshToken, &c.TokenType, &c.Scope, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanRepository(row pgx.Row) (*model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.UserID, &r.GithubRepoID, &r.Name, &r.FullName, &r.Private, &r.DefaultBranch,
		&r.Language, &r.Description, &r.HTMLURL, &r.CloneURL, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanSnapshot(row pgx.Row) (*model.ActivitySnapshot, error) {
	var s model.ActivitySnapshot
	var commits, prs, issues []byte
	err := row.Scan(&s.ID, &s.UserID, &s.Date, &commits, &prs, &issues,
		&s.TotalCommits, &s.TotalPullRequests, &s.TotalIssues, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(commits, &s.Commits); err != nil {
		return nil, fmt.Errorf("unmarshal commits: %w", err)
	}
	if err := json.Unmarshal(prs, &s.PullRequests); err != nil {
		return nil, fmt.Errorf("unmarshal pull requests: %w", err)
	}
	if err := json.Unmarshal(issues, &s.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal issues: %w", err)
	}
	return &s, nil
}

func emptyIfNilCommits(v []model.Commit) []model.Commit {
	if v == nil {
		return []model.Commit{}
	}
	return v
}

func emptyIfNilPRs(v []model.PullRequest) []model.PullRequest {
	if v == nil {
		return []model.PullRequest{}
	}
	return v
}

func emptyIfNilIssues(v []model.Issue) []model.Issue {
	if v == nil {
		return []model.Issue{}
	}
	return v
}

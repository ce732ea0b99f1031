// internal/model/models.go
package model

import (
	"time"
)

// Connection holds a user's GitHub OAuth token. A user has at most one.
type Connection struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	AccessToken  string     `json:"-"`
	RefreshToken *string    `json:"-"`
	TokenType    string     `json:"tokenType"`
	Scope        *string    `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Expired reports whether the connection's token has an expiry in the past.
// Tokens without an expiry never expire.
func (c *Connection) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Repository is a GitHub repository a user has opted into activity tracking for.
// The pair (UserID, GithubRepoID) is unique; disconnecting flips IsActive rather
// than deleting the row so a reconnect restores history.
type Repository struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	GithubRepoID  int64     `json:"githubRepoId"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Private       bool      `json:"private"`
	DefaultBranch string    `json:"defaultBranch"`
	Language      *string   `json:"language,omitempty"`
	Description   *string   `json:"description,omitempty"`
	HTMLURL       string    `json:"htmlUrl"`
	CloneURL      string    `json:"cloneUrl"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Pull request and issue enum values as GitHub reports them.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"

	IssueStateOpen   = "open"
	IssueStateClosed = "closed"

	ActionOpened    = "opened"
	ActionClosed    = "closed"
	ActionMerged    = "merged"
	ActionReviewed  = "reviewed"
	ActionCommented = "commented"
)

// Commit is a single commit inside an activity snapshot, identified by SHA.
type Commit struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	URL        string    `json:"url"`
	Repository string    `json:"repository"`
	Additions  int       `json:"additions"`
	Deletions  int       `json:"deletions"`
	Timestamp  time.Time `json:"timestamp"`
}

// PullRequest is a pull request inside an activity snapshot, identified by its
// numeric GitHub id.
type PullRequest struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Repository string    `json:"repository"`
	State      string    `json:"state"`
	Action     string    `json:"action"`
	Additions  int       `json:"additions"`
	Deletions  int       `json:"deletions"`
	Timestamp  time.Time `json:"timestamp"`

	// CreatedAt and Author are carried for window and author filtering during
	// aggregation; they are not part of the stored snapshot shape.
	CreatedAt time.Time `json:"-"`
	Author    string    `json:"-"`
}

// Issue is an issue inside an activity snapshot, identified by its numeric
// GitHub id.
type Issue struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Repository string    `json:"repository"`
	State      string    `json:"state"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`

	// CreatedAt is carried for window filtering during aggregation; it is not
	// part of the stored snapshot shape.
	CreatedAt time.Time `json:"-"`
}

// ActivitySnapshot is the per-user per-date aggregate of GitHub activity.
// The totals are cached counts; normalization recomputes them from the
// deduplicated lists and is the only place they are authoritative.
type ActivitySnapshot struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	Date              time.Time     `json:"date"`
	Commits           []Commit      `json:"commits"`
	PullRequests      []PullRequest `json:"pullRequests"`
	Issues            []Issue       `json:"issues"`
	TotalCommits      int           `json:"totalCommits"`
	TotalPullRequests int           `json:"totalPullRequests"`
	TotalIssues       int           `json:"totalIssues"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// ActivityStats are the aggregate counters computed during one aggregation run.
// LinesAdded and LinesDeleted sum both commit-level and PR-level deltas, so a
// change counted in a PR and again in its constituent commits is counted twice.
// This matches the upstream accounting and is a documented over-count.
type ActivityStats struct {
	TotalCommits         int `json:"totalCommits"`
	TotalPRs             int `json:"totalPRs"`
	TotalIssues          int `json:"totalIssues"`
	LinesAdded           int `json:"linesAdded"`
	LinesDeleted         int `json:"linesDeleted"`
	RepositoriesWorkedOn int `json:"repositoriesWorkedOn"`
}

// DeveloperActivity is the raw multi-repository aggregation result before it is
// normalized into a per-date snapshot.
type DeveloperActivity struct {
	Since        time.Time     `json:"since"`
	Until        time.Time     `json:"until"`
	Repositories []RemoteRepo  `json:"repositories"`
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pullRequests"`
	Issues       []Issue       `json:"issues"`
	Stats        ActivityStats `json:"stats"`
}

// RemoteRepo is repository metadata as returned by the GitHub API, before a
// user connects it.
type RemoteRepo struct {
	GithubRepoID  int64   `json:"id"`
	Name          string  `json:"name"`
	FullName      string  `json:"fullName"`
	Owner         string  `json:"owner"`
	Private       bool    `json:"private"`
	DefaultBranch string  `json:"defaultBranch"`
	Language      *string `json:"language,omitempty"`
	Description   *string `json:"description,omitempty"`
	HTMLURL       string  `json:"htmlUrl"`
	CloneURL      string  `json:"cloneUrl"`
}

// RateLimit is the GitHub API quota state parsed from response headers or the
// rate-limit endpoint.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Used      int       `json:"used"`
}

// ConnectionStatus is the caller-facing view of a user's GitHub connection.
type ConnectionStatus struct {
	Connected             bool         `json:"connected"`
	TokenExpiry           *time.Time   `json:"tokenExpiry,omitempty"`
	ConnectedRepositories int          `json:"connectedRepositories"`
	Repositories          []Repository `json:"repositories"`
}

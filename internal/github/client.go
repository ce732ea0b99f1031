// internal/github/client.go
package github

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	apperrors "devpulse/internal/errors"
	"devpulse/internal/model"
)

const defaultRequestsPerSecond = 10

// Config carries everything needed to construct a Client. A client is built per
// user token and passed by injection; there is no package-level instance.
type Config struct {
	Token string
	// BaseURL overrides the API endpoint, used by tests. Empty means api.github.com.
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond bounds outbound calls. GitHub quotas are per token, so
	// the bucket is shared by every call on this client.
	RequestsPerSecond int
}

// Client wraps the go-github client with a token bucket and translation into
// the internal record shapes.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates and configures a new Client instance authenticated with the
// config's token.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	hc := oauth2.NewClient(context.Background(), ts)
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}

	gh := github.NewClient(hc)
	if cfg.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

// RepoListOptions control the authenticated-user repository listing.
type RepoListOptions struct {
	Visibility string // all, public, private
	Sort       string // created, updated, pushed, full_name
	Direction  string // asc, desc
	Page       int    // 0 fetches every page
	PerPage    int
}

// CommitListOptions control commit listing for one repository. Since/Until are
// applied server-side by the commits endpoint.
type CommitListOptions struct {
	Since   time.Time
	Until   time.Time
	Author  string
	Page    int
	PerPage int
}

// PRListOptions control pull request listing for one repository. The pulls
// endpoint has no date filter; callers re-filter by creation time.
type PRListOptions struct {
	State     string // open, closed, all
	Sort      string
	Direction string
	Page      int
	PerPage   int
}

// IssueListOptions control issue listing for one repository.
type IssueListOptions struct {
	State    string
	Sort     string
	Assignee string
	Page     int
	PerPage  int
}

// GetRateLimit fetches the current quota state for this client's token.
func (c *Client) GetRateLimit(ctx context.Context) (*model.RateLimit, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	core := limits.GetCore()
	return &model.RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
		Used:      core.Limit - core.Remaining,
	}, nil
}

// GetRepository fetches metadata for a single repository.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*model.RemoteRepo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, translateError(err)
	}
	r := toRemoteRepo(repo)
	return &r, nil
}

// ListRepositories fetches the authenticated user's repositories along with the
// rate-limit snapshot from the last response. With Page == 0 it walks every
// page; otherwise it fetches the single requested page.
func (c *Client) ListRepositories(ctx context.Context, opts RepoListOptions) ([]model.RemoteRepo, *model.RateLimit, error) {
	ghOpts := &github.RepositoryListByAuthenticatedUserOptions{
		Visibility:  orDefault(opts.Visibility, "all"),
		Sort:        orDefault(opts.Sort, "updated"),
		Direction:   orDefault(opts.Direction, "desc"),
		ListOptions: listOptions(opts.Page, opts.PerPage),
	}

	var all []model.RemoteRepo
	var limit *model.RateLimit
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		c.logger.Debug("Fetching repositories page", "page", ghOpts.Page)

		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, ghOpts)
		if err != nil {
			return nil, nil, translateError(err)
		}
		limit = rateFromResponse(resp)

		for _, r := range repos {
			all = append(all, toRemoteRepo(r))
		}
		if opts.Page != 0 || resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return all, limit, nil
}

// ListCommits fetches commits for a repository, filtered server-side by
// since/until/author. Pagination follows ListRepositories.
func (c *Client) ListCommits(ctx context.Context, owner, name string, opts CommitListOptions) ([]model.Commit, *model.RateLimit, error) {
	ghOpts := &github.CommitsListOptions{
		Since:       opts.Since,
		Until:       opts.Until,
		Author:      opts.Author,
		ListOptions: listOptions(opts.Page, opts.PerPage),
	}

	var all []model.Commit
	var limit *model.RateLimit
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", name, "page", ghOpts.Page)

		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, ghOpts)
		if err != nil {
			return nil, nil, translateError(err)
		}
		limit = rateFromResponse(resp)

		fullName := owner + "/" + name
		for _, commit := range commits {
			all = append(all, toCommit(commit, fullName))
		}
		if opts.Page != 0 || resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return all, limit, nil
}

// ListPullRequests fetches pull requests for a repository.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string, opts PRListOptions) ([]model.PullRequest, *model.RateLimit, error) {
	ghOpts := &github.PullRequestListOptions{
		State:       orDefault(opts.State, "all"),
		Sort:        orDefault(opts.Sort, "updated"),
		Direction:   orDefault(opts.Direction, "desc"),
		ListOptions: listOptions(opts.Page, opts.PerPage),
	}

	var all []model.PullRequest
	var limit *model.RateLimit
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		c.logger.Debug("Fetching pull requests page", "owner", owner, "repo", name, "page", ghOpts.Page)

		prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, ghOpts)
		if err != nil {
			return nil, nil, translateError(err)
		}
		limit = rateFromResponse(resp)

		fullName := owner + "/" + name
		for _, pr := range prs {
			all = append(all, toPullRequest(pr, fullName))
		}
		if opts.Page != 0 || resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return all, limit, nil
}

// ListIssues fetches issues for a repository. GitHub's issues endpoint returns
// pull requests as well; records carrying a pull-request marker are dropped.
func (c *Client) ListIssues(ctx context.Context, owner, name string, opts IssueListOptions) ([]model.Issue, *model.RateLimit, error) {
	ghOpts := &github.IssueListByRepoOptions{
		State:       orDefault(opts.State, "all"),
		Sort:        orDefault(opts.Sort, "updated"),
		Assignee:    opts.Assignee,
		ListOptions: listOptions(opts.Page, opts.PerPage),
	}

	var all []model.Issue
	var limit *model.RateLimit
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
		c.logger.Debug("Fetching issues page", "owner", owner, "repo", name, "page", ghOpts.Page)

		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, ghOpts)
		if err != nil {
			return nil, nil, translateError(err)
		}
		limit = rateFromResponse(resp)

		fullName := owner + "/" + name
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, toIssue(issue, fullName))
		}
		if opts.Page != 0 || resp.NextPage == 0 {
			break
		}
		ghOpts.Page = resp.NextPage
	}
	return all, limit, nil
}

func listOptions(page, perPage int) github.ListOptions {
	if perPage <= 0 {
		perPage = 100
	}
	return github.ListOptions{Page: page, PerPage: perPage}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// translateError maps go-github failures onto the typed taxonomy so callers
// switch on error kind, never on message text.
func translateError(err error) error {
	switch e := err.(type) {
	case *github.RateLimitError:
		return &apperrors.RateLimitError{Reset: e.Rate.Reset.Time}
	case *github.AbuseRateLimitError:
		reset := time.Now()
		if e.RetryAfter != nil {
			reset = reset.Add(*e.RetryAfter)
		}
		return &apperrors.RateLimitError{Reset: reset}
	case *github.ErrorResponse:
		if e.Response == nil {
			return &apperrors.APIError{Status: 0, Msg: e.Message}
		}
		switch e.Response.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.ErrBadCredentials
		case http.StatusNotFound:
			return apperrors.ErrRepositoryNotAccessible
		case http.StatusForbidden:
			if e.Response.Header.Get("X-RateLimit-Remaining") == "0" {
				return &apperrors.RateLimitError{Reset: resetFromHeader(e.Response)}
			}
			return &apperrors.APIError{Status: e.Response.StatusCode, Msg: e.Message}
		default:
			return &apperrors.APIError{Status: e.Response.StatusCode, Msg: e.Message}
		}
	}
	return err
}

func resetFromHeader(resp *http.Response) time.Time {
	epoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(epoch, 0)
}

func rateFromResponse(resp *github.Response) *model.RateLimit {
	if resp == nil || resp.Rate.Limit == 0 {
		return nil
	}
	return &model.RateLimit{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     resp.Rate.Reset.Time,
		Used:      resp.Rate.Limit - resp.Rate.Remaining,
	}
}

func toRemoteRepo(r *github.Repository) model.RemoteRepo {
	return model.RemoteRepo{
		GithubRepoID:  r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Owner:         r.GetOwner().GetLogin(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.Language,
		Description:   r.Description,
		HTMLURL:       r.GetHTMLURL(),
		CloneURL:      r.GetCloneURL(),
	}
}

func toCommit(c *github.RepositoryCommit, repository string) model.Commit {
	return model.Commit{
		SHA:        c.GetSHA(),
		Message:    c.GetCommit().GetMessage(),
		URL:        c.GetHTMLURL(),
		Repository: repository,
		Additions:  c.GetStats().GetAdditions(),
		Deletions:  c.GetStats().GetDeletions(),
		Timestamp:  c.GetCommit().GetAuthor().GetDate().Time,
	}
}

func toPullRequest(pr *github.PullRequest, repository string) model.PullRequest {
	state := pr.GetState()
	action := model.ActionOpened
	if pr.MergedAt != nil {
		state = model.PRStateMerged
		action = model.ActionMerged
	} else if state == model.PRStateClosed {
		action = model.ActionClosed
	}
	return model.PullRequest{
		ID:         pr.GetID(),
		Title:      pr.GetTitle(),
		URL:        pr.GetHTMLURL(),
		Repository: repository,
		State:      state,
		Action:     action,
		Additions:  pr.GetAdditions(),
		Deletions:  pr.GetDeletions(),
		Timestamp:  pr.GetUpdatedAt().Time,
		CreatedAt:  pr.GetCreatedAt().Time,
		Author:     pr.GetUser().GetLogin(),
	}
}

func toIssue(issue *github.Issue, repository string) model.Issue {
	action := model.ActionOpened
	if issue.GetState() == model.IssueStateClosed {
		action = model.ActionClosed
	} else if issue.GetComments() > 0 {
		action = model.ActionCommented
	}
	return model.Issue{
		ID:         issue.GetID(),
		Title:      issue.GetTitle(),
		URL:        issue.GetHTMLURL(),
		Repository: repository,
		State:      issue.GetState(),
		Action:     action,
		Timestamp:  issue.GetUpdatedAt().Time,
		CreatedAt:  issue.GetCreatedAt().Time,
	}
}

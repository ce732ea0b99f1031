// internal/api/handler_test.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "devpulse/internal/errors"
	"devpulse/internal/github"
	"devpulse/internal/model"
	"devpulse/internal/ratelimit"
	"devpulse/internal/service"
	"devpulse/internal/store"
)

// fakeStore serves canned data for handler tests.
type fakeStore struct {
	conn      *model.Connection
	repos     []model.Repository
	snapshots []model.ActivitySnapshot
}

func (f *fakeStore) FindConnection(context.Context, string) (*model.Connection, error) {
	if f.conn == nil {
		return nil, store.ErrNotFound
	}
	return f.conn, nil
}

func (f *fakeStore) UpsertConnection(_ context.Context, userID string, fields store.TokenFields) (*model.Connection, error) {
	f.conn = &model.Connection{ID: "conn_1", UserID: userID, AccessToken: fields.AccessToken, ExpiresAt: fields.ExpiresAt}
	return f.conn, nil
}

func (f *fakeStore) DeleteConnection(context.Context, string) error {
	if f.conn == nil {
		return store.ErrNotFound
	}
	f.conn = nil
	return nil
}

func (f *fakeStore) ListRepositories(context.Context, string, bool) ([]model.Repository, error) {
	return f.repos, nil
}

func (f *fakeStore) FindRepositoryByGithubID(context.Context, string, int64) (*model.Repository, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateRepository(_ context.Context, repo model.Repository) (*model.Repository, error) {
	repo.ID = "repo_new"
	return &repo, nil
}

func (f *fakeStore) SetRepositoryActive(context.Context, string, string, bool) (*model.Repository, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) DeactivateAllRepositories(context.Context, string) error { return nil }

func (f *fakeStore) FindSnapshot(context.Context, string, time.Time) (*model.ActivitySnapshot, error) {
	if len(f.snapshots) == 0 {
		return nil, store.ErrNotFound
	}
	return &f.snapshots[0], nil
}

func (f *fakeStore) UpsertSnapshot(_ context.Context, snapshot model.ActivitySnapshot) (*model.ActivitySnapshot, error) {
	snapshot.ID = "act_1"
	return &snapshot, nil
}

func (f *fakeStore) ListRecentSnapshots(context.Context, string, int) ([]model.ActivitySnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) DeleteUserData(context.Context, string) error { return nil }

// stubClient is a canned GitHub double; listErr fails ListRepositories.
type stubClient struct {
	listErr error
}

func (s *stubClient) GetRepository(_ context.Context, owner, name string) (*model.RemoteRepo, error) {
	return &model.RemoteRepo{FullName: owner + "/" + name, Owner: owner, Name: name}, nil
}

func (s *stubClient) ListCommits(context.Context, string, string, github.CommitListOptions) ([]model.Commit, *model.RateLimit, error) {
	return nil, nil, nil
}

func (s *stubClient) ListPullRequests(context.Context, string, string, github.PRListOptions) ([]model.PullRequest, *model.RateLimit, error) {
	return nil, nil, nil
}

func (s *stubClient) ListIssues(context.Context, string, string, github.IssueListOptions) ([]model.Issue, *model.RateLimit, error) {
	return nil, nil, nil
}

func (s *stubClient) ListRepositories(context.Context, github.RepoListOptions) ([]model.RemoteRepo, *model.RateLimit, error) {
	if s.listErr != nil {
		return nil, nil, s.listErr
	}
	return nil, &model.RateLimit{Limit: 5000, Remaining: 4999}, nil
}

func (s *stubClient) GetRateLimit(context.Context) (*model.RateLimit, error) {
	return &model.RateLimit{Limit: 5000, Remaining: 4999}, nil
}

func newTestRouter(fs store.Store, client service.GitHubClient, rl RateLimitConfig) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	factory := func(string) (service.GitHubClient, error) { return client, nil }
	svc := service.New(fs, factory, logger, 2)
	return NewRouter(svc, logger, rl)
}

func doRequest(t *testing.T, router http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func connectedStore() *fakeStore {
	return &fakeStore{
		conn:  &model.Connection{ID: "conn_1", UserID: "user_1", AccessToken: "tok"},
		repos: []model.Repository{{ID: "repo_1", FullName: "acme/api", IsActive: true}},
	}
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

	rec := doRequest(t, router, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMissingUserHeader(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

	for _, path := range []string{"/v1/github/status", "/v1/github/activities", "/v1/github/summary"} {
		rec := doRequest(t, router, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetStatus_Disconnected(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

	rec := doRequest(t, router, http.MethodGet, "/v1/github/status", "user_1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connected":false`)
}

func TestSyncActivity_Validation(t *testing.T) {
	router := newTestRouter(connectedStore(), &stubClient{}, RateLimitConfig{})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a missing date", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Date is required")
	})

	t.Run("rejects a malformed date", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{"date": "01/02/2024"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects an inverted range", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1",
			`{"startDate": "2024-01-05", "endDate": "2024-01-01"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "endDate must be after startDate")
	})

	t.Run("syncs a valid single date", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{"date": "2024-01-01"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "GitHub data synced successfully")
	})
}

func TestSyncActivity_ErrorMapping(t *testing.T) {
	t.Run("not connected maps to 400", func(t *testing.T) {
		router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{"date": "2024-01-01"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "GitHub not connected")
	})

	t.Run("expired token maps to 401", func(t *testing.T) {
		expired := time.Now().Add(-time.Hour)
		fs := connectedStore()
		fs.conn.ExpiresAt = &expired
		router := newTestRouter(fs, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{"date": "2024-01-01"}`)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no repositories maps to 400", func(t *testing.T) {
		fs := connectedStore()
		fs.repos = nil
		router := newTestRouter(fs, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/github/sync", "user_1", `{"date": "2024-01-01"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No repositories connected")
	})
}

func TestGetRepositories_UpstreamErrorMapping(t *testing.T) {
	t.Run("rate limit maps to 429 with Retry-After", func(t *testing.T) {
		client := &stubClient{listErr: &apperrors.RateLimitError{Reset: time.Now().Add(30 * time.Minute)}}
		router := newTestRouter(connectedStore(), client, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodGet, "/v1/github/repositories", "user_1", "")

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("upstream 5xx maps to 502", func(t *testing.T) {
		client := &stubClient{listErr: &apperrors.APIError{Status: http.StatusServiceUnavailable, Msg: "down"}}
		router := newTestRouter(connectedStore(), client, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodGet, "/v1/github/repositories", "user_1", "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestStoreToken(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

	t.Run("rejects a missing access token", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/token", "user_1", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Access token is required")
	})

	t.Run("stores a token", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/github/token", "user_1", `{"accessToken": "gho_abc"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Token stored successfully")
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("disconnected user gets 401 with valid false", func(t *testing.T) {
		router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/github/token/validate", "user_1", "")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"valid":false`)
	})

	t.Run("connected user gets valid true", func(t *testing.T) {
		router := newTestRouter(connectedStore(), &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/github/token/validate", "user_1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"valid":true`)
	})
}

func TestGetDailyActivity(t *testing.T) {
	t.Run("unknown date maps to 404", func(t *testing.T) {
		router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodGet, "/v1/github/activity/2024-01-01", "user_1", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed date maps to 400", func(t *testing.T) {
		router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodGet, "/v1/github/activity/not-a-date", "user_1", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetRecentActivities_LimitValidation(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

	for _, limit := range []string{"0", "101", "abc"} {
		rec := doRequest(t, router, http.MethodGet, "/v1/github/activities?limit="+limit, "user_1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}

	rec := doRequest(t, router, http.MethodGet, "/v1/github/activities?limit=10", "user_1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookSync(t *testing.T) {
	t.Run("rejects missing fields", func(t *testing.T) {
		router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/webhooks/github/sync", "", `{"userId": "user_1"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("untracked repository maps to 404", func(t *testing.T) {
		router := newTestRouter(connectedStore(), &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/webhooks/github/sync", "",
			`{"userId": "user_1", "repository": "acme/other"}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("tracked repository syncs today", func(t *testing.T) {
		router := newTestRouter(connectedStore(), &stubClient{}, RateLimitConfig{})

		rec := doRequest(t, router, http.MethodPost, "/v1/webhooks/github/sync", "",
			`{"userId": "user_1", "repository": "acme/api"}`)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "Repository activity synced")
	})
}

func TestPerUserRateLimit(t *testing.T) {
	router := newTestRouter(&fakeStore{}, &stubClient{}, RateLimitConfig{
		Store:  ratelimit.NewMemory(),
		Max:    2,
		Window: time.Minute,
	})

	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodGet, "/v1/github/status", "user_1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, router, http.MethodGet, "/v1/github/status", "user_1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Another user keeps an independent budget.
	rec = doRequest(t, router, http.MethodGet, "/v1/github/status", "user_2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

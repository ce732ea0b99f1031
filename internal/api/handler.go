// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "devpulse/internal/errors"
	"devpulse/internal/ratelimit"
	"devpulse/internal/service"
	"devpulse/internal/store"
)

// userIDHeader carries the authenticated user id, set by the auth gateway in
// front of this service.
const userIDHeader = "X-User-ID"

// Handler is the container for API dependencies.
type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

// RateLimitConfig bounds requests per user per window.
type RateLimitConfig struct {
	Store  ratelimit.Store
	Max    int64
	Window time.Duration
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(svc *service.Service, logger *slog.Logger, rl RateLimitConfig) http.Handler {
	h := &Handler{
		svc:    svc,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/github", func(r chi.Router) {
			if rl.Store != nil {
				r.Use(perUserRateLimit(rl))
			}
			r.Get("/status", h.getStatus)
			r.Get("/repositories", h.getRepositories)
			r.Post("/repositories/{owner}/{repo}/connect", h.connectRepository)
			r.Post("/repositories/{id}/disconnect", h.disconnectRepository)
			r.Post("/token", h.storeToken)
			r.Post("/token/validate", h.validateToken)
			r.Post("/sync", h.syncActivity)
			r.Get("/activity/{date}", h.getDailyActivity)
			r.Get("/activities", h.getRecentActivities)
			r.Get("/summary", h.getActivitySummary)
			r.Delete("/disconnect", h.disconnectAccount)
		})
		r.Post("/webhooks/github/sync", h.webhookSync)
	})

	return r
}

// perUserRateLimit throttles by authenticated user. The counter store is an
// injected resource so replicas behind one Redis share a consistent budget.
func perUserRateLimit(rl RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.Header.Get(userIDHeader)
			if user == "" {
				next.ServeHTTP(w, r)
				return
			}
			count, err := rl.Store.Incr(r.Context(), user, rl.Window)
			if err != nil {
				// A broken counter must not take the API down.
				next.ServeHTTP(w, r)
				return
			}
			if count > rl.Max {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.Window.Seconds())))
				respondWithError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getStatus reports the user's GitHub connection state.
// GET /v1/github/status
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.GetConnectionStatus(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err, "Failed to fetch GitHub status")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// getRepositories lists the user's repositories live from GitHub.
// GET /v1/github/repositories
func (h *Handler) getRepositories(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	repos, rateLimit, err := h.svc.ListAvailableRepositories(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err, "Failed to fetch repositories")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"repositories": repos,
		"rateLimit":    rateLimit,
	})
}

// connectRepository starts tracking a repository.
// POST /v1/github/repositories/{owner}/{repo}/connect
func (h *Handler) connectRepository(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	owner := chi.URLParam(r, "owner")
	repo := chi.URLParam(r, "repo")
	if owner == "" || repo == "" {
		respondWithError(w, http.StatusBadRequest, "Owner and repository name are required")
		return
	}

	repository, err := h.svc.ConnectRepository(r.Context(), userID, owner, repo)
	if err != nil {
		h.respondServiceError(w, err, "Failed to connect repository")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":    "Repository connected successfully",
		"repository": repository,
	})
}

// disconnectRepository deactivates one tracked repository.
// POST /v1/github/repositories/{id}/disconnect
func (h *Handler) disconnectRepository(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	repoID := chi.URLParam(r, "id")
	if repoID == "" {
		respondWithError(w, http.StatusBadRequest, "Repository ID is required")
		return
	}

	if err := h.svc.DisconnectRepository(r.Context(), userID, repoID); err != nil {
		h.respondServiceError(w, err, "Failed to disconnect repository")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Repository disconnected successfully"})
}

type storeTokenRequest struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken *string    `json:"refreshToken,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	Scope        *string    `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// storeToken saves the user's GitHub token after the OAuth handshake.
// POST /v1/github/token
func (h *Handler) storeToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req storeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccessToken == "" {
		respondWithError(w, http.StatusBadRequest, "Access token is required")
		return
	}

	conn, err := h.svc.StoreToken(r.Context(), userID, store.TokenFields{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
		Scope:        req.Scope,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.respondServiceError(w, err, "Failed to store token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":   "Token stored successfully",
		"expiresAt": conn.ExpiresAt,
	})
}

// validateToken runs the connection policy check without side effects.
// POST /v1/github/token/validate
func (h *Handler) validateToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	conn, err := h.svc.ValidateToken(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotConnected) || errors.Is(err, apperrors.ErrTokenExpired) {
			respondWithJSON(w, http.StatusUnauthorized, map[string]any{
				"valid": false,
				"error": err.Error(),
			})
			return
		}
		h.respondServiceError(w, err, "Failed to validate token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"expiresAt": conn.ExpiresAt,
	})
}

type syncRequest struct {
	Date      string `json:"date,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// syncActivity fetches and persists activity for a date or a [start, end)
// range of dates.
// POST /v1/github/sync
func (h *Handler) syncActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var start, end time.Time
	switch {
	case req.Date != "":
		day, err := parseDate(req.Date)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Date must be in YYYY-MM-DD format")
			return
		}
		start, end = day, day.AddDate(0, 0, 1)
	case req.StartDate != "" && req.EndDate != "":
		var err error
		start, err = parseDate(req.StartDate)
		if err == nil {
			end, err = parseDate(req.EndDate)
		}
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Dates must be in YYYY-MM-DD format")
			return
		}
		if !end.After(start) {
			respondWithError(w, http.StatusBadRequest, "endDate must be after startDate")
			return
		}
	default:
		respondWithError(w, http.StatusBadRequest, "Date is required")
		return
	}

	result, err := h.svc.FetchActivity(r.Context(), userID, start, end)
	if err != nil {
		h.respondServiceError(w, err, "Failed to sync GitHub data")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "GitHub data synced successfully",
		"result":  result,
	})
}

// getDailyActivity returns the stored snapshot for one date.
// GET /v1/github/activity/{date}
func (h *Handler) getDailyActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Date must be in YYYY-MM-DD format")
		return
	}

	activity, err := h.svc.GetDailyActivity(r.Context(), userID, date)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "No activity found for this date")
			return
		}
		h.respondServiceError(w, err, "Failed to fetch activity")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"activity": activity})
}

// getRecentActivities returns normalized recent snapshots, newest first.
// GET /v1/github/activities?limit=N
func (h *Handler) getRecentActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	activities, err := h.svc.GetRecentActivities(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, err, "Failed to fetch recent activities")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

// getActivitySummary returns the digest used for downstream summary
// generation.
// GET /v1/github/summary?limit=N
func (h *Handler) getActivitySummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.GetActivitySummary(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, err, "Failed to build activity summary")
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// disconnectAccount removes the connection and deactivates all repositories.
// DELETE /v1/github/disconnect
func (h *Handler) disconnectAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DisconnectAccount(r.Context(), userID); err != nil {
		if errors.Is(err, apperrors.ErrNotConnected) {
			respondWithError(w, http.StatusBadRequest, "GitHub account not connected")
			return
		}
		h.respondServiceError(w, err, "Failed to disconnect GitHub account")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "GitHub account disconnected successfully"})
}

type webhookSyncRequest struct {
	UserID     string `json:"userId"`
	Repository string `json:"repository"`
}

// webhookSync re-syncs today's window for a user after an upstream webhook
// delivery. Signature verification happens before the request reaches here.
// POST /v1/webhooks/github/sync
func (h *Handler) webhookSync(w http.ResponseWriter, r *http.Request) {
	var req webhookSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Repository == "" {
		respondWithError(w, http.StatusBadRequest, "userId and repository are required")
		return
	}

	result, err := h.svc.SyncForRepository(r.Context(), req.UserID, req.Repository)
	if err != nil {
		h.respondServiceError(w, err, "Failed to sync repository activity")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "Repository activity synced",
		"result":  result,
	})
}

// userID extracts the authenticated user id or writes a 400.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		respondWithError(w, http.StatusBadRequest, "User not found")
		return "", false
	}
	return userID, true
}

// respondServiceError maps the typed error taxonomy onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var rateLimitErr *apperrors.RateLimitError
	var apiErr *apperrors.APIError

	switch {
	case errors.Is(err, apperrors.ErrNotConnected):
		respondWithError(w, http.StatusBadRequest, "GitHub not connected")
	case errors.Is(err, apperrors.ErrTokenExpired):
		respondWithError(w, http.StatusUnauthorized, "GitHub token has expired. Please reconnect your account.")
	case errors.Is(err, apperrors.ErrNoRepositories):
		respondWithError(w, http.StatusBadRequest, "No repositories connected")
	case errors.Is(err, apperrors.ErrRepositoryNotAccessible):
		respondWithError(w, http.StatusNotFound, "Repository not found or not accessible")
	case errors.Is(err, apperrors.ErrBadCredentials):
		respondWithError(w, http.StatusUnauthorized, "GitHub rejected the stored credentials. Please reconnect your account.")
	case errors.As(err, &rateLimitErr):
		retryAfter := int(rateLimitErr.RetryAfter(time.Now()).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondWithError(w, http.StatusTooManyRequests, "GitHub API rate limit exceeded. Try again after "+rateLimitErr.Reset.Format(time.RFC3339))
	case errors.As(err, &apiErr):
		h.logger.Error("Upstream GitHub API error", "status", apiErr.Status, "error", err)
		respondWithError(w, http.StatusBadGateway, "GitHub API is unavailable. Please try again.")
	default:
		h.logger.Error(fallback, "error", err)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "30"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Limit must be a number between 1 and 100")
		return 0, false
	}
	return limit, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

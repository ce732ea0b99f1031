// internal/normalize/normalize.go

// Package normalize collapses duplicate activity records and keeps snapshot
// totals consistent with the deduplicated collections.
package normalize

import (
	"sort"
	"time"

	"devpulse/internal/model"
)

// Commits removes duplicate commits keyed by SHA. When two records share a SHA
// the one with the later timestamp wins. Output order is unspecified; callers
// needing stable order must sort explicitly.
func Commits(commits []model.Commit) []model.Commit {
	unique := make(map[string]model.Commit, len(commits))
	for _, c := range commits {
		existing, ok := unique[c.SHA]
		if !ok || c.Timestamp.After(existing.Timestamp) {
			unique[c.SHA] = c
		}
	}
	out := make([]model.Commit, 0, len(unique))
	for _, c := range unique {
		out = append(out, c)
	}
	return out
}

// PullRequests removes duplicate pull requests keyed by id, keeping the most
// recently timestamped version.
func PullRequests(prs []model.PullRequest) []model.PullRequest {
	unique := make(map[int64]model.PullRequest, len(prs))
	for _, pr := range prs {
		existing, ok := unique[pr.ID]
		if !ok || pr.Timestamp.After(existing.Timestamp) {
			unique[pr.ID] = pr
		}
	}
	out := make([]model.PullRequest, 0, len(unique))
	for _, pr := range unique {
		out = append(out, pr)
	}
	return out
}

// Issues removes duplicate issues keyed by id, keeping the most recently
// timestamped version.
func Issues(issues []model.Issue) []model.Issue {
	unique := make(map[int64]model.Issue, len(issues))
	for _, issue := range issues {
		existing, ok := unique[issue.ID]
		if !ok || issue.Timestamp.After(existing.Timestamp) {
			unique[issue.ID] = issue
		}
	}
	out := make([]model.Issue, 0, len(unique))
	for _, issue := range unique {
		out = append(out, issue)
	}
	return out
}

// Activity deduplicates all three collections of a snapshot and recomputes the
// totals from the deduplicated lengths. This is the only place the cached
// totals are treated as derived rather than carried over.
func Activity(snapshot model.ActivitySnapshot) model.ActivitySnapshot {
	snapshot.Commits = Commits(snapshot.Commits)
	snapshot.PullRequests = PullRequests(snapshot.PullRequests)
	snapshot.Issues = Issues(snapshot.Issues)
	snapshot.TotalCommits = len(snapshot.Commits)
	snapshot.TotalPullRequests = len(snapshot.PullRequests)
	snapshot.TotalIssues = len(snapshot.Issues)
	return snapshot
}

// Activities normalizes every snapshot in the slice.
func Activities(snapshots []model.ActivitySnapshot) []model.ActivitySnapshot {
	out := make([]model.ActivitySnapshot, len(snapshots))
	for i, s := range snapshots {
		out[i] = Activity(s)
	}
	return out
}

// SortByDate returns a copy of the snapshots sorted by date descending, newest
// first.
func SortByDate(snapshots []model.ActivitySnapshot) []model.ActivitySnapshot {
	out := make([]model.ActivitySnapshot, len(snapshots))
	copy(out, snapshots)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// GroupByDate groups snapshots by their calendar date.
func GroupByDate(snapshots []model.ActivitySnapshot) map[string][]model.ActivitySnapshot {
	grouped := make(map[string][]model.ActivitySnapshot)
	for _, s := range snapshots {
		key := s.Date.Format("2006-01-02")
		grouped[key] = append(grouped[key], s)
	}
	return grouped
}

// FilterByDateRange keeps snapshots whose date falls inside [start, end].
func FilterByDateRange(snapshots []model.ActivitySnapshot, start, end time.Time) []model.ActivitySnapshot {
	var out []model.ActivitySnapshot
	for _, s := range snapshots {
		if !s.Date.Before(start) && !s.Date.After(end) {
			out = append(out, s)
		}
	}
	return out
}

// OptimizeActivityData normalizes every snapshot, drops days where all three
// totals are zero, and sorts the remainder by date descending. It is
// idempotent: applying it to its own output yields the same result.
func OptimizeActivityData(snapshots []model.ActivitySnapshot) []model.ActivitySnapshot {
	normalized := Activities(snapshots)
	filtered := normalized[:0]
	for _, s := range normalized {
		if s.TotalCommits > 0 || s.TotalPullRequests > 0 || s.TotalIssues > 0 {
			filtered = append(filtered, s)
		}
	}
	return SortByDate(filtered)
}

// Stats aggregates totals, per-day averages, and repository activity across a
// set of snapshots.
type Stats struct {
	TotalActivities           int      `json:"totalActivities"`
	TotalCommits              int      `json:"totalCommits"`
	TotalPullRequests         int      `json:"totalPullRequests"`
	TotalIssues               int      `json:"totalIssues"`
	UniqueRepositories        []string `json:"uniqueRepositories"`
	ActiveDays                int      `json:"activeDays"`
	AverageCommitsPerDay      float64  `json:"averageCommitsPerDay"`
	AveragePRsPerDay          float64  `json:"averagePRsPerDay"`
	AverageIssuesPerDay       float64  `json:"averageIssuesPerDay"`
	MostActiveRepository      string   `json:"mostActiveRepository,omitempty"`
	MostActiveRepositoryCount int      `json:"mostActiveRepositoryCount"`
}

// CalculateActivityStats computes cross-snapshot statistics. Averages are zero
// when there are no active days. The most-active repository scan uses a
// strictly-greater comparison, so ties keep the first repository seen.
func CalculateActivityStats(snapshots []model.ActivitySnapshot) Stats {
	repoActivity := make(map[string]int)
	var repoOrder []string
	touch := func(repo string) {
		if _, seen := repoActivity[repo]; !seen {
			repoOrder = append(repoOrder, repo)
		}
		repoActivity[repo]++
	}

	stats := Stats{}
	for _, s := range snapshots {
		stats.TotalCommits += s.TotalCommits
		stats.TotalPullRequests += s.TotalPullRequests
		stats.TotalIssues += s.TotalIssues
		for _, c := range s.Commits {
			touch(c.Repository)
		}
		for _, pr := range s.PullRequests {
			touch(pr.Repository)
		}
		for _, issue := range s.Issues {
			touch(issue.Repository)
		}
	}

	for _, repo := range repoOrder {
		if repoActivity[repo] > stats.MostActiveRepositoryCount {
			stats.MostActiveRepository = repo
			stats.MostActiveRepositoryCount = repoActivity[repo]
		}
	}

	stats.TotalActivities = len(snapshots)
	stats.ActiveDays = len(snapshots)
	stats.UniqueRepositories = repoOrder
	if stats.ActiveDays > 0 {
		days := float64(stats.ActiveDays)
		stats.AverageCommitsPerDay = float64(stats.TotalCommits) / days
		stats.AveragePRsPerDay = float64(stats.TotalPullRequests) / days
		stats.AverageIssuesPerDay = float64(stats.TotalIssues) / days
	}
	return stats
}

// RepoCount is one entry in a most-active-repositories ranking.
type RepoCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary is a compact digest of a user's activity for storage or display.
type Summary struct {
	UserID           string                   `json:"userId"`
	RangeStart       time.Time                `json:"rangeStart"`
	RangeEnd         time.Time                `json:"rangeEnd"`
	Stats            Stats                    `json:"stats"`
	TopRepositories  []RepoCount              `json:"topRepositories"`
	RecentActivities []model.ActivitySnapshot `json:"recentActivities"`
	LastUpdated      time.Time                `json:"lastUpdated"`
}

const (
	summaryTopRepos   = 10
	summaryRecentDays = 20
)

// BuildSummary optimizes the snapshots and derives a summary: overall stats,
// the ten most active repositories, and the twenty most recent active days.
func BuildSummary(snapshots []model.ActivitySnapshot, userID string, now time.Time) Summary {
	optimized := OptimizeActivityData(snapshots)
	stats := CalculateActivityStats(optimized)

	rangeStart, rangeEnd := now, now
	for i, s := range optimized {
		if i == 0 {
			rangeStart, rangeEnd = s.Date, s.Date
			continue
		}
		if s.Date.Before(rangeStart) {
			rangeStart = s.Date
		}
		if s.Date.After(rangeEnd) {
			rangeEnd = s.Date
		}
	}

	repoActivity := make(map[string]int)
	for _, s := range optimized {
		for _, c := range s.Commits {
			repoActivity[c.Repository]++
		}
		for _, pr := range s.PullRequests {
			repoActivity[pr.Repository]++
		}
		for _, issue := range s.Issues {
			repoActivity[issue.Repository]++
		}
	}
	top := make([]RepoCount, 0, len(repoActivity))
	for name, count := range repoActivity {
		top = append(top, RepoCount{Name: name, Count: count})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > summaryTopRepos {
		top = top[:summaryTopRepos]
	}

	recent := optimized
	if len(recent) > summaryRecentDays {
		recent = recent[:summaryRecentDays]
	}

	return Summary{
		UserID:           userID,
		RangeStart:       rangeStart,
		RangeEnd:         rangeEnd,
		Stats:            stats,
		TopRepositories:  top,
		RecentActivities: recent,
		LastUpdated:      now,
	}
}

// internal/validate/validate.go

// Package validate checks structural invariants of activity snapshots. It
// reports problems as data rather than failing: hard errors flip IsValid,
// warnings never do. Totals are a cache that normalization knows how to
// repair, so a totals mismatch is informative, not fatal.
package validate

import (
	"fmt"

	"devpulse/internal/model"
)

// Result is the diagnostic report for one snapshot.
type Result struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var prStates = map[string]bool{
	model.PRStateOpen:   true,
	model.PRStateClosed: true,
	model.PRStateMerged: true,
}

var issueStates = map[string]bool{
	model.IssueStateOpen:   true,
	model.IssueStateClosed: true,
}

// Activity validates one snapshot. Missing identity fields, unparsable
// timestamps, and out-of-enum states are errors; mismatched totals and empty
// message/title text are warnings.
func Activity(snapshot model.ActivitySnapshot) Result {
	var errs, warnings []string

	if snapshot.ID == "" {
		errs = append(errs, "activity ID is missing")
	}
	if snapshot.UserID == "" {
		errs = append(errs, "user ID is missing")
	}
	if snapshot.Date.IsZero() {
		errs = append(errs, "date is missing")
	}

	if snapshot.TotalCommits != len(snapshot.Commits) {
		warnings = append(warnings, fmt.Sprintf("total commits mismatch: %d vs %d", snapshot.TotalCommits, len(snapshot.Commits)))
	}
	if snapshot.TotalPullRequests != len(snapshot.PullRequests) {
		warnings = append(warnings, fmt.Sprintf("total PRs mismatch: %d vs %d", snapshot.TotalPullRequests, len(snapshot.PullRequests)))
	}
	if snapshot.TotalIssues != len(snapshot.Issues) {
		warnings = append(warnings, fmt.Sprintf("total issues mismatch: %d vs %d", snapshot.TotalIssues, len(snapshot.Issues)))
	}

	for i, c := range snapshot.Commits {
		if c.SHA == "" {
			errs = append(errs, fmt.Sprintf("commit %d: SHA is missing", i))
		}
		if c.Message == "" {
			warnings = append(warnings, fmt.Sprintf("commit %d: message is empty", i))
		}
		if c.Repository == "" {
			errs = append(errs, fmt.Sprintf("commit %d: repository is missing", i))
		}
		if c.Timestamp.IsZero() {
			errs = append(errs, fmt.Sprintf("commit %d: invalid timestamp", i))
		}
	}

	for i, pr := range snapshot.PullRequests {
		if pr.ID == 0 {
			errs = append(errs, fmt.Sprintf("PR %d: ID is missing", i))
		}
		if pr.Title == "" {
			warnings = append(warnings, fmt.Sprintf("PR %d: title is empty", i))
		}
		if pr.Repository == "" {
			errs = append(errs, fmt.Sprintf("PR %d: repository is missing", i))
		}
		if !prStates[pr.State] {
			errs = append(errs, fmt.Sprintf("PR %d: invalid state %q", i, pr.State))
		}
		if pr.Timestamp.IsZero() {
			errs = append(errs, fmt.Sprintf("PR %d: invalid timestamp", i))
		}
	}

	for i, issue := range snapshot.Issues {
		if issue.ID == 0 {
			errs = append(errs, fmt.Sprintf("issue %d: ID is missing", i))
		}
		if issue.Title == "" {
			warnings = append(warnings, fmt.Sprintf("issue %d: title is empty", i))
		}
		if issue.Repository == "" {
			errs = append(errs, fmt.Sprintf("issue %d: repository is missing", i))
		}
		if !issueStates[issue.State] {
			errs = append(errs, fmt.Sprintf("issue %d: invalid state %q", i, issue.State))
		}
		if issue.Timestamp.IsZero() {
			errs = append(errs, fmt.Sprintf("issue %d: invalid timestamp", i))
		}
	}

	return Result{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

// BatchResult summarizes validation over multiple snapshots.
type BatchResult struct {
	ValidCount    int      `json:"validCount"`
	InvalidCount  int      `json:"invalidCount"`
	TotalWarnings int      `json:"totalWarnings"`
	Results       []Result `json:"results"`
}

// Activities validates each snapshot and rolls up counts.
func Activities(snapshots []model.ActivitySnapshot) BatchResult {
	batch := BatchResult{Results: make([]Result, len(snapshots))}
	for i, s := range snapshots {
		r := Activity(s)
		batch.Results[i] = r
		if r.IsValid {
			batch.ValidCount++
		} else {
			batch.InvalidCount++
		}
		batch.TotalWarnings += len(r.Warnings)
	}
	return batch
}

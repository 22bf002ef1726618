// Package models defines the data structures shared across the application.
// Values are built once per webhook delivery and never mutated afterwards.
package models

import (
	"fmt"
	"regexp"
)

// Issue identifies an issue or pull request. Identity is exactly
// (Owner, Repo, Number).
type Issue struct {
	// Owner is the account or organization owning the repository
	Owner string

	// Repo is the repository name
	Repo string

	// Number is the issue or pull request number (e.g., 42)
	Number int
}

// String renders the issue as "owner/repo#number".
func (i Issue) String() string {
	return fmt.Sprintf("%s/%s#%d", i.Owner, i.Repo, i.Number)
}

// Repository returns the "owner/repo" form of the issue's repository.
func (i Issue) Repository() string {
	return i.Owner + "/" + i.Repo
}

// IssueInfo carries the fields of an issue that handlers act upon.
type IssueInfo struct {
	Issue

	// ID is the platform node identifier
	ID string

	// User is the login of the author
	User string

	// Labels are the label names in the order the platform reported them
	Labels []string

	// Milestoned reports whether a milestone is assigned
	Milestoned bool

	// IsPullRequest is derived from the HTML URL of the issue
	IsPullRequest bool

	// Body is the issue description, nil when absent
	Body *string
}

// HasLabel reports whether the issue carries the label (exact match).
func (i IssueInfo) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// RemoteRefInfo is a named branch or tag in a repository.
type RemoteRefInfo struct {
	RepoURL string
	Name    string
}

// CommitInfo is a commit on a given branch.
type CommitInfo struct {
	Branch RemoteRefInfo
	SHA    string
}

// PullRequestInfo describes a pull request and both of its endpoints.
type PullRequestInfo struct {
	Issue             IssueInfo
	Base              CommitInfo
	Head              CommitInfo
	Merged            bool
	LastCommitMessage *string
}

// ProjectCard is a card on a project board. A card without an issue is a
// free-form note.
type ProjectCard struct {
	Issue    *Issue
	ColumnID int64
}

// CommentInfo is a newly created comment on an issue or pull request.
type CommentInfo struct {
	Body        string
	Author      string
	PullRequest *PullRequestInfo
	Issue       IssueInfo
}

// CheckRunInfo identifies a check run on the source host.
type CheckRunInfo struct {
	ID         int64
	NodeID     string
	URL        string
	ExternalID string
	HeadSHA    string
}

// PushInfo describes a push of commits to a branch on the source host.
type PushInfo struct {
	Owner          string
	Repo           string
	Ref            RemoteRefInfo
	Before         string
	After          string
	CommitMessages []string
}

// JobInfo describes a CI job state change.
type JobInfo struct {
	ID            int64
	Name          string
	Status        string
	FailureReason string
	// Project is the CI-host project path (e.g., "group/project")
	Project    string
	ProjectURL string
	Ref        string
	SHA        string
}

// WebURL returns the job page on the CI host.
func (j JobInfo) WebURL() string {
	return fmt.Sprintf("%s/-/jobs/%d", j.ProjectURL, j.ID)
}

// PipelineInfo describes a CI pipeline state change.
type PipelineInfo struct {
	ID         int64
	Status     string
	Project    string
	ProjectURL string
	Ref        string
	SHA        string
}

// WebURL returns the pipeline page on the CI host.
func (p PipelineInfo) WebURL() string {
	return fmt.Sprintf("%s/-/pipelines/%d", p.ProjectURL, p.ID)
}

// StatusState is the state of a commit status check.
type StatusState string

const (
	StatusPending StatusState = "pending"
	StatusSuccess StatusState = "success"
	StatusFailure StatusState = "failure"
	StatusError   StatusState = "error"
)

// StatusCheck is a named, URL-linked annotation attached to a commit.
type StatusCheck struct {
	Context     string
	State       StatusState
	Description string
	TargetURL   string
}

// BackportMetadata ties a pull request to its backport project card.
type BackportMetadata struct {
	// Milestone is the milestone number of the pull request, 0 when unset
	Milestone int

	// CardID is the card of the pull request in the searched column, 0 when absent
	CardID int64
}

var pullRequestRef = regexp.MustCompile(`^pr-[0-9]+$`)

// RefKind describes a CI ref: "pull request" for mirrored pr-<n> branches,
// "branch" otherwise.
func RefKind(ref string) string {
	if pullRequestRef.MatchString(ref) {
		return "pull request"
	}
	return "branch"
}

// PipelineContext is the status check context of a CI pipeline on ref.
func PipelineContext(ref string) string {
	return fmt.Sprintf("GitLab CI pipeline (%s)", RefKind(ref))
}

// JobContext is the status check context of a named CI job on ref.
func JobContext(name, ref string) string {
	return fmt.Sprintf("GitLab CI job %s (%s)", name, RefKind(ref))
}

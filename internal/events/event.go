// Package events defines the closed set of webhook events the bot reacts to
// and decodes raw deliveries from both hosting platforms into them.
package events

import (
	"fmt"

	"github.com/danielolaszy/hookbot/pkg/models"
)

// Event is one decoded webhook delivery. The set of implementations is
// closed: only types in this package satisfy it.
type Event interface {
	// Summary is a short human-readable description used in acknowledgements.
	Summary() string
	isEvent()
}

// PullRequestAction is the pull request transition carried by PullRequestUpdated.
type PullRequestAction int

const (
	PullRequestOpened PullRequestAction = iota
	PullRequestReopened
	PullRequestSynchronized
	PullRequestClosed
)

func (a PullRequestAction) String() string {
	switch a {
	case PullRequestOpened:
		return "opened"
	case PullRequestReopened:
		return "reopened"
	case PullRequestSynchronized:
		return "synchronize"
	case PullRequestClosed:
		return "closed"
	default:
		return fmt.Sprintf("PullRequestAction(%d)", int(a))
	}
}

// NoOp is a recognized delivery that requires no work.
type NoOp struct {
	Reason string
}

// Unsupported is a delivery of a kind the bot does not handle.
type Unsupported struct {
	Reason string
}

// IssueOpened is emitted when an issue is created.
type IssueOpened struct {
	Issue models.IssueInfo
}

// IssueClosed is emitted when an issue is closed.
type IssueClosed struct {
	Issue models.IssueInfo
	// StateReason is "completed", "not_planned" or empty
	StateReason string
}

// RemovedFromProject is emitted when a project card is deleted.
type RemovedFromProject struct {
	Card models.ProjectCard
}

// PullRequestUpdated is emitted when a pull request is opened, reopened,
// synchronized or closed.
type PullRequestUpdated struct {
	Action      PullRequestAction
	PullRequest models.PullRequestInfo
}

// BranchCreated is emitted when a branch is created on the source host.
type BranchCreated struct {
	Owner string
	Repo  string
	Ref   models.RemoteRefInfo
}

// TagCreated is emitted when a tag is created on the source host.
type TagCreated struct {
	Owner string
	Repo  string
	Ref   models.RemoteRefInfo
}

// CommentCreated is emitted when a comment is posted on an issue or pull request.
type CommentCreated struct {
	Comment models.CommentInfo
}

// CheckRunCreated is emitted when a check run is created.
type CheckRunCreated struct {
	Owner    string
	Repo     string
	CheckRun models.CheckRunInfo
}

// CheckRunReRequested is emitted when a user asks to re-run a check run.
type CheckRunReRequested struct {
	Owner    string
	Repo     string
	CheckRun models.CheckRunInfo
}

// Push is emitted when commits are pushed to a branch on the source host.
type Push struct {
	Push models.PushInfo
}

// Job is emitted by the CI host when a job changes state.
type Job struct {
	Job models.JobInfo
}

// Pipeline is emitted by the CI host when a pipeline changes state.
type Pipeline struct {
	Pipeline models.PipelineInfo
}

func (NoOp) isEvent()                {}
func (Unsupported) isEvent()         {}
func (IssueOpened) isEvent()         {}
func (IssueClosed) isEvent()         {}
func (RemovedFromProject) isEvent()  {}
func (PullRequestUpdated) isEvent()  {}
func (BranchCreated) isEvent()       {}
func (TagCreated) isEvent()          {}
func (CommentCreated) isEvent()      {}
func (CheckRunCreated) isEvent()     {}
func (CheckRunReRequested) isEvent() {}
func (Push) isEvent()                {}
func (Job) isEvent()                 {}
func (Pipeline) isEvent()            {}

func (e NoOp) Summary() string        { return "No action taken: " + e.Reason }
func (e Unsupported) Summary() string { return "Unsupported event: " + e.Reason }

func (e IssueOpened) Summary() string {
	return fmt.Sprintf("Issue %s was opened.", e.Issue.Issue)
}

func (e IssueClosed) Summary() string {
	return fmt.Sprintf("Issue %s was closed.", e.Issue.Issue)
}

func (e RemovedFromProject) Summary() string {
	if e.Card.Issue == nil {
		return "Note card removed from project."
	}
	return fmt.Sprintf("Issue or PR %s was removed from project column %d.", *e.Card.Issue, e.Card.ColumnID)
}

func (e PullRequestUpdated) Summary() string {
	return fmt.Sprintf("Pull request %s was %s.", e.PullRequest.Issue.Issue, e.Action)
}

func (e BranchCreated) Summary() string {
	return fmt.Sprintf("Branch %s was created in %s/%s.", e.Ref.Name, e.Owner, e.Repo)
}

func (e TagCreated) Summary() string {
	return fmt.Sprintf("Tag %s was created in %s/%s.", e.Ref.Name, e.Owner, e.Repo)
}

func (e CommentCreated) Summary() string {
	return fmt.Sprintf("Comment by %s on %s.", e.Comment.Author, e.Comment.Issue.Issue)
}

func (e CheckRunCreated) Summary() string {
	return fmt.Sprintf("Check run %d created in %s/%s.", e.CheckRun.ID, e.Owner, e.Repo)
}

func (e CheckRunReRequested) Summary() string {
	return fmt.Sprintf("Check run %d re-requested in %s/%s.", e.CheckRun.ID, e.Owner, e.Repo)
}

func (e Push) Summary() string {
	return fmt.Sprintf("Push to %s in %s/%s.", e.Push.Ref.Name, e.Push.Owner, e.Push.Repo)
}

func (e Job) Summary() string {
	return fmt.Sprintf("Job %s (%d) is %s.", e.Job.Name, e.Job.ID, e.Job.Status)
}

func (e Pipeline) Summary() string {
	return fmt.Sprintf("Pipeline %d is %s.", e.Pipeline.ID, e.Pipeline.Status)
}

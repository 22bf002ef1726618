// Package gitsync mirrors pull request branches into the CI project and
// detects pull requests that need a rebase before CI can run.
//
// A sync walks Start → FetchBase → FetchHead → TestAncestor and ends in
// Clean or Conflict. Any failed step leads to Conflict.
package gitsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielolaszy/hookbot/internal/git"
	"github.com/danielolaszy/hookbot/internal/logging"
	"github.com/danielolaszy/hookbot/pkg/models"
)

// ConflictContext is the status check context published on conflicting pull requests.
const ConflictContext = "GitLab CI pipeline (pull request)"

const conflictDescription = "Pipeline did not run on GitLab CI because PR has conflicts with base branch."

// State is a step of the sync state machine.
type State int

const (
	StateStart State = iota
	StateFetchBase
	StateFetchHead
	StateTestAncestor
	StateClean
	StateConflict
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateFetchBase:
		return "fetch-base"
	case StateFetchHead:
		return "fetch-head"
	case StateTestAncestor:
		return "test-ancestor"
	case StateClean:
		return "clean"
	case StateConflict:
		return "conflict"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the terminal state of a sync. For Conflict, FailedAt and Cause
// tell which step failed and how.
type Outcome struct {
	State    State
	FailedAt State
	Cause    error
}

// logAttrs returns the log fields describing the outcome. Only a conflict
// carries the failed step and its cause.
func (o Outcome) logAttrs() []any {
	attrs := []any{"outcome", o.State.String()}
	if o.State == StateConflict {
		attrs = append(attrs, "failed_at", o.FailedAt.String(), "cause", o.Cause)
	}
	return attrs
}

// Reporter is the part of the source-host API the orchestrator writes to.
type Reporter interface {
	AddLabel(ctx context.Context, issue models.Issue, label string) error
	RemoveLabel(ctx context.Context, issue models.Issue, label string) error
	SetMilestone(ctx context.Context, issue models.Issue, milestone *int) error
	CreateStatusCheck(ctx context.Context, owner, repo, sha string, check models.StatusCheck) error
}

// Orchestrator runs sync sequences against the mirror repository.
type Orchestrator struct {
	mirror      Mirror
	reporter    Reporter
	rebaseLabel string
	locks       *keyedMutex
}

// NewOrchestrator creates an orchestrator labelling conflicting pull
// requests with rebaseLabel.
func NewOrchestrator(mirror Mirror, reporter Reporter, rebaseLabel string) *Orchestrator {
	return &Orchestrator{
		mirror:      mirror,
		reporter:    reporter,
		rebaseLabel: rebaseLabel,
		locks:       newKeyedMutex(),
	}
}

// HeadBranch is the mirror branch name of a pull request head.
func HeadBranch(number int) string {
	return fmt.Sprintf("pr-%d", number)
}

// baseBranch is the transient mirror branch holding a pull request's base.
func baseBranch(number int) string {
	return fmt.Sprintf("remote-pr-%d-base", number)
}

// Sync tests whether the pull request head contains its base. A clean pull
// request is pushed to the CI project as pr-<number>; a conflicting one is
// labelled and gets a failing status check instead.
func (o *Orchestrator) Sync(ctx context.Context, pr models.PullRequestInfo, ciProject string) (Outcome, error) {
	issue := pr.Issue.Issue
	unlock := o.locks.Lock(ciProject + "#" + HeadBranch(issue.Number))
	defer unlock()

	log := logging.With("pr", issue.String(), "ci_project", ciProject)
	headRef := branchRef(HeadBranch(issue.Number))
	baseRef := branchRef(baseBranch(issue.Number))
	defer func() {
		if err := o.mirror.DeleteLocal(context.WithoutCancel(ctx), baseRef); err != nil {
			log.Debug("failed to delete transient base branch", "error", err)
		}
	}()

	outcome := o.walk(ctx, pr, baseRef, headRef)
	log.Info("git sync finished", outcome.logAttrs()...)

	switch outcome.State {
	case StateClean:
		return outcome, o.clean(ctx, pr, ciProject, headRef)
	default:
		return outcome, o.conflict(ctx, pr)
	}
}

// walk runs the fetch and ancestor steps and returns the terminal state.
func (o *Orchestrator) walk(ctx context.Context, pr models.PullRequestInfo, baseRef, headRef string) Outcome {
	state := StateStart
	for {
		switch state {
		case StateStart:
			state = StateFetchBase
		case StateFetchBase:
			if err := o.mirror.Fetch(ctx, pr.Base.Branch.RepoURL, branchRef(pr.Base.Branch.Name), baseRef); err != nil {
				return Outcome{State: StateConflict, FailedAt: state, Cause: err}
			}
			state = StateFetchHead
		case StateFetchHead:
			if err := o.mirror.Fetch(ctx, pr.Head.Branch.RepoURL, branchRef(pr.Head.Branch.Name), headRef); err != nil {
				return Outcome{State: StateConflict, FailedAt: state, Cause: err}
			}
			state = StateTestAncestor
		case StateTestAncestor:
			if err := o.mirror.IsAncestor(ctx, baseRef, headRef); err != nil {
				return Outcome{State: StateConflict, FailedAt: state, Cause: err}
			}
			return Outcome{State: StateClean}
		default:
			return Outcome{State: StateConflict, FailedAt: state, Cause: fmt.Errorf("unexpected state %s", state)}
		}
	}
}

func (o *Orchestrator) clean(ctx context.Context, pr models.PullRequestInfo, ciProject, headRef string) error {
	issue := pr.Issue.Issue
	if pr.Issue.HasLabel(o.rebaseLabel) {
		if err := o.reporter.RemoveLabel(ctx, issue, o.rebaseLabel); err != nil {
			logging.Error("failed to remove rebase label", "pr", issue.String(), "error", err)
		}
	}
	if err := o.mirror.Push(ctx, ciProject, headRef, headRef); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", HeadBranch(issue.Number), ciProject, err)
	}
	return nil
}

func (o *Orchestrator) conflict(ctx context.Context, pr models.PullRequestInfo) error {
	issue := pr.Issue.Issue
	var errs []error
	if err := o.reporter.AddLabel(ctx, issue, o.rebaseLabel); err != nil {
		errs = append(errs, fmt.Errorf("failed to add rebase label: %w", err))
	}
	check := models.StatusCheck{
		Context:     ConflictContext,
		State:       models.StatusFailure,
		Description: conflictDescription,
	}
	if err := o.reporter.CreateStatusCheck(ctx, issue.Owner, issue.Repo, pr.Head.SHA, check); err != nil {
		errs = append(errs, fmt.Errorf("failed to publish conflict status: %w", err))
	}
	return errors.Join(errs...)
}

// Close removes the mirror branch of a closed pull request. An unmerged
// pull request also loses its milestone.
func (o *Orchestrator) Close(ctx context.Context, pr models.PullRequestInfo, ciProject string) error {
	issue := pr.Issue.Issue
	unlock := o.locks.Lock(ciProject + "#" + HeadBranch(issue.Number))
	defer unlock()

	headRef := branchRef(HeadBranch(issue.Number))
	var errs []error
	if err := o.mirror.DeleteRemote(ctx, ciProject, headRef); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete %s from %s: %w", HeadBranch(issue.Number), ciProject, err))
	}
	if err := o.mirror.DeleteLocal(ctx, headRef); err != nil {
		logging.Debug("failed to delete local head branch", "pr", issue.String(), "error", err)
	}
	if !pr.Merged && pr.Issue.Milestoned {
		if err := o.reporter.SetMilestone(ctx, issue, nil); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear milestone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// MirrorRef copies a branch or tag of the source repository into the CI project.
func (o *Orchestrator) MirrorRef(ctx context.Context, ref models.RemoteRefInfo, tag bool, ciProject string) error {
	fullRef := branchRef(ref.Name)
	if tag {
		fullRef = "refs/tags/" + ref.Name
	}
	unlock := o.locks.Lock(ciProject + "#" + fullRef)
	defer unlock()

	if err := o.mirror.Fetch(ctx, ref.RepoURL, fullRef, fullRef); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", ref.Name, err)
	}
	if err := o.mirror.Push(ctx, ciProject, fullRef, fullRef); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", ref.Name, ciProject, err)
	}
	return nil
}

// ExitOutcome extracts the process outcome behind a failed step, if any.
func ExitOutcome(err error) (git.ExitOutcome, bool) {
	var processErr *git.ProcessError
	if errors.As(err, &processErr) {
		return processErr.Outcome, true
	}
	return git.Success, false
}

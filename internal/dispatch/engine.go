// Package dispatch routes decoded webhook events to their handlers. The
// acknowledgement is computed synchronously; the handlers themselves run
// on a Runner in the background.
package dispatch

import (
	"context"
	"fmt"

	"github.com/danielolaszy/hookbot/internal/commands"
	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/internal/events"
	"github.com/danielolaszy/hookbot/internal/gitsync"
	"github.com/danielolaszy/hookbot/internal/logging"
	"github.com/danielolaszy/hookbot/internal/mapping"
	"github.com/danielolaszy/hookbot/internal/webhook"
	"github.com/danielolaszy/hookbot/pkg/models"
)

// SourceHost is the part of the GitHub API the handlers use.
type SourceHost interface {
	AddLabel(ctx context.Context, issue models.Issue, label string) error
	RemoveLabel(ctx context.Context, issue models.Issue, label string) error
	SetMilestone(ctx context.Context, issue models.Issue, milestone *int) error
	CreateStatusCheck(ctx context.Context, owner, repo, sha string, check models.StatusCheck) error
	MoveProjectCard(ctx context.Context, cardID, columnID int64) error
	PostComment(ctx context.Context, issue models.Issue, body string) error
	IsTeamMember(ctx context.Context, org, slug, user string) (bool, error)
	GetPullRequest(ctx context.Context, issue models.Issue) (models.PullRequestInfo, error)
	GetPullRequestBackportMetadata(ctx context.Context, issue models.Issue, columnID int64) (models.BackportMetadata, error)
}

// CIHost is the part of the GitLab API the handlers use.
type CIHost interface {
	RetryPipeline(ctx context.Context, project string, pipelineID int64) error
	CreatePipeline(ctx context.Context, project, ref string, variables map[string]string) (string, error)
}

// Syncer mirrors pull requests and refs into the CI project.
type Syncer interface {
	Sync(ctx context.Context, pr models.PullRequestInfo, ciProject string) (gitsync.Outcome, error)
	Close(ctx context.Context, pr models.PullRequestInfo, ciProject string) error
	MirrorRef(ctx context.Context, ref models.RemoteRefInfo, tag bool, ciProject string) error
}

// JobHandler acts on finished CI jobs.
type JobHandler interface {
	HandleJob(ctx context.Context, job models.JobInfo, owner, repo string) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Config *config.Config
	Mapper *mapping.Mapper
	Source SourceHost
	CI     CIHost
	Syncer Syncer
	Jobs   JobHandler
	Parser commands.Parser
	Runner *Runner
}

// Engine dispatches events. It holds no per-event state.
type Engine struct {
	cfg    *config.Config
	mapper *mapping.Mapper
	source SourceHost
	ci     CIHost
	syncer Syncer
	jobs   JobHandler
	parser commands.Parser
	runner *Runner
}

// NewEngine creates an Engine from its collaborators.
func NewEngine(deps Deps) *Engine {
	return &Engine{
		cfg:    deps.Config,
		mapper: deps.Mapper,
		source: deps.Source,
		ci:     deps.CI,
		syncer: deps.Syncer,
		jobs:   deps.Jobs,
		parser: deps.Parser,
		runner: deps.Runner,
	}
}

// Dispatch schedules the handler of event and returns the acknowledgement
// text. The acknowledgement never depends on the handler outcome.
func (e *Engine) Dispatch(_ context.Context, event events.Event, auth webhook.Outcome) string {
	logging.Debug("dispatching event", "event", event.Summary(), "auth", auth.String())

	switch ev := event.(type) {
	case events.NoOp, events.Unsupported:
		// Nothing to do.
	case events.IssueOpened:
		e.spawn("issue-opened", func(ctx context.Context) error { return e.issueOpened(ctx, ev) })
	case events.IssueClosed:
		e.spawn("issue-closed", func(ctx context.Context) error { return e.issueClosed(ctx, ev) })
	case events.RemovedFromProject:
		if ev.Card.Issue != nil {
			e.spawn("removed-from-project", func(ctx context.Context) error { return e.removedFromProject(ctx, ev) })
		}
	case events.PullRequestUpdated:
		switch ev.Action {
		case events.PullRequestOpened, events.PullRequestReopened, events.PullRequestSynchronized:
			e.spawn("pull-request-sync", func(ctx context.Context) error { return e.syncPullRequest(ctx, ev.PullRequest) })
		case events.PullRequestClosed:
			e.spawn("pull-request-close", func(ctx context.Context) error { return e.closePullRequest(ctx, ev.PullRequest) })
		}
	case events.BranchCreated:
		e.spawn("branch-created", func(ctx context.Context) error { return e.mirrorRef(ctx, ev.Owner, ev.Repo, ev.Ref, false) })
	case events.TagCreated:
		e.spawn("tag-created", func(ctx context.Context) error { return e.mirrorRef(ctx, ev.Owner, ev.Repo, ev.Ref, true) })
	case events.CommentCreated:
		command, ok := e.parser.Parse(ev.Comment.Body)
		if !ok {
			break
		}
		if auth != webhook.SignedValid {
			logging.Warn("refusing command from unsigned delivery",
				"command", command.Kind.String(),
				"issue", ev.Comment.Issue.Issue.String())
			break
		}
		e.spawn("comment-command", func(ctx context.Context) error { return e.comment(ctx, ev.Comment, command) })
	case events.CheckRunCreated:
		logging.Info("check run created", "owner", ev.Owner, "repo", ev.Repo, "check_run_id", ev.CheckRun.ID)
	case events.CheckRunReRequested:
		e.spawn("check-run-rerequested", func(ctx context.Context) error { return e.checkRunReRequested(ctx, ev) })
	case events.Push:
		e.spawn("push", func(ctx context.Context) error { return e.push(ctx, ev.Push) })
	case events.Job:
		e.spawn("job", func(ctx context.Context) error { return e.job(ctx, ev.Job) })
	case events.Pipeline:
		e.spawn("pipeline", func(ctx context.Context) error { return e.pipeline(ctx, ev.Pipeline) })
	default:
		logging.Error("unhandled event type", "type", fmt.Sprintf("%T", event))
	}
	return event.Summary()
}

func (e *Engine) spawn(name string, fn func(ctx context.Context) error) {
	e.runner.Go(name, fn)
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/danielolaszy/hookbot/internal/commands"
	"github.com/danielolaszy/hookbot/internal/events"
	"github.com/danielolaszy/hookbot/internal/gitsync"
	"github.com/danielolaszy/hookbot/internal/logging"
	"github.com/danielolaszy/hookbot/internal/mapping"
	"github.com/danielolaszy/hookbot/pkg/models"
)

var backportMessagePattern = regexp.MustCompile(`Backport PR #([0-9]+)`)

// ciProject resolves the CI project of a source repository. A miss is
// logged and reported as !ok so the handler can stop quietly.
func (e *Engine) ciProject(owner, repo string) (string, bool) {
	project, err := e.mapper.CIProject(owner, repo)
	if err != nil {
		logMappingMiss(err)
		return "", false
	}
	return project, true
}

func (e *Engine) sourceRepo(project string) (string, string, bool) {
	owner, repo, err := e.mapper.SourceRepo(project)
	if err != nil {
		logMappingMiss(err)
		return "", "", false
	}
	return owner, repo, true
}

func logMappingMiss(err error) {
	var mappingErr *mapping.MappingError
	if errors.As(err, &mappingErr) {
		logging.Warn("no cross-platform mapping, ignoring event", "platform", mappingErr.Platform, "key", mappingErr.Key)
		return
	}
	logging.Error("mapping lookup failed", "error", err)
}

func (e *Engine) issueOpened(ctx context.Context, ev events.IssueOpened) error {
	label := e.cfg.Bot.TriageLabel
	if label == "" || ev.Issue.IsPullRequest || len(ev.Issue.Labels) > 0 {
		return nil
	}
	return e.source.AddLabel(ctx, ev.Issue.Issue, label)
}

func (e *Engine) issueClosed(ctx context.Context, ev events.IssueClosed) error {
	if ev.Issue.IsPullRequest || !ev.Issue.Milestoned || ev.StateReason != "not_planned" {
		return nil
	}
	return e.source.SetMilestone(ctx, ev.Issue.Issue, nil)
}

// removedFromProject handles a card deleted from a backport board. Removal
// from the request-inclusion column means the backport was rejected.
func (e *Engine) removedFromProject(ctx context.Context, ev events.RemovedFromProject) error {
	backport, ok := e.cfg.BackportForColumn(ev.Card.ColumnID)
	if !ok {
		return nil
	}
	issue := *ev.Card.Issue

	var milestone *int
	if backport.RejectedMilestone != 0 {
		milestone = &backport.RejectedMilestone
	}
	if err := e.source.SetMilestone(ctx, issue, milestone); err != nil {
		return err
	}
	body := "This PR was postponed. Please update accordingly the milestone of any issue that this fixes as this cannot be done automatically."
	if backport.Branch != "" {
		body = fmt.Sprintf("This PR was not selected for backporting to %s and has been moved to the next milestone. "+
			"Please update accordingly the milestone of any issue that this fixes as this cannot be done automatically.", backport.Branch)
	}
	return e.source.PostComment(ctx, issue, body)
}

func (e *Engine) syncPullRequest(ctx context.Context, pr models.PullRequestInfo) error {
	project, ok := e.ciProject(pr.Issue.Owner, pr.Issue.Repo)
	if !ok {
		return nil
	}
	outcome, err := e.syncer.Sync(ctx, pr, project)
	if err != nil {
		return err
	}
	logging.Info("pull request synced",
		"owner", pr.Issue.Owner,
		"repo", pr.Issue.Repo,
		"pr_number", pr.Issue.Number,
		"outcome", outcome.State.String())
	return nil
}

func (e *Engine) closePullRequest(ctx context.Context, pr models.PullRequestInfo) error {
	project, ok := e.ciProject(pr.Issue.Owner, pr.Issue.Repo)
	if !ok {
		return nil
	}
	return e.syncer.Close(ctx, pr, project)
}

func (e *Engine) mirrorRef(ctx context.Context, owner, repo string, ref models.RemoteRefInfo, tag bool) error {
	project, ok := e.ciProject(owner, repo)
	if !ok {
		return nil
	}
	return e.syncer.MirrorRef(ctx, ref, tag, project)
}

// authorized reports whether user belongs to the team configured for the
// repository owner. Every failure counts as a refusal.
func (e *Engine) authorized(ctx context.Context, owner, user string) bool {
	team, ok := e.cfg.Teams[strings.ToLower(owner)]
	if !ok || team == "" {
		logging.Warn("no team configured for owner, refusing command", "owner", owner, "user", user)
		return false
	}
	member, err := e.source.IsTeamMember(ctx, owner, team, user)
	if err != nil {
		logging.Error("team membership check failed", "owner", owner, "team", team, "user", user, "error", err)
		return false
	}
	if !member {
		logging.Info("user is not a team member, refusing command", "owner", owner, "team", team, "user", user)
	}
	return member
}

func (e *Engine) comment(ctx context.Context, comment models.CommentInfo, command commands.Command) error {
	issue := comment.Issue.Issue
	if !comment.Issue.IsPullRequest {
		logging.Debug("ignoring command on an issue", "issue", issue.String(), "command", command.Kind.String())
		return nil
	}
	if !e.authorized(ctx, issue.Owner, comment.Author) {
		return nil
	}
	project, ok := e.ciProject(issue.Owner, issue.Repo)
	if !ok {
		return nil
	}

	switch command.Kind {
	case commands.RunCI:
		pr, err := e.source.GetPullRequest(ctx, issue)
		if err != nil {
			return err
		}
		_, err = e.syncer.Sync(ctx, pr, project)
		return err
	case commands.Minimize:
		return e.minimize(ctx, issue, project, command.Jobs)
	default:
		return fmt.Errorf("unknown command %s", command.Kind)
	}
}

func (e *Engine) minimize(ctx context.Context, issue models.Issue, project string, jobs []string) error {
	minimizer := e.cfg.Minimizer
	if minimizer.Project == "" {
		return e.source.PostComment(ctx, issue, "Minimization is not configured for this bot.")
	}
	webURL, err := e.ci.CreatePipeline(ctx, minimizer.Project, minimizer.Ref, map[string]string{
		"MINIMIZE_JOBS":  strings.Join(jobs, " "),
		"SOURCE_PROJECT": project,
		"SOURCE_REF":     gitsync.HeadBranch(issue.Number),
		"SOURCE_PR":      issue.String(),
	})
	if err != nil {
		return err
	}
	body := fmt.Sprintf("I am now running minimization at %s. I will come back to you with the results. "+
		"Jobs: %s", webURL, strings.Join(jobs, ", "))
	return e.source.PostComment(ctx, issue, body)
}

// checkRunReRequested retries the pipeline recorded in the check run's
// external id.
func (e *Engine) checkRunReRequested(ctx context.Context, ev events.CheckRunReRequested) error {
	pipelineID, err := strconv.ParseInt(ev.CheckRun.ExternalID, 10, 64)
	if err != nil {
		logging.Warn("check run has no pipeline id", "check_run_id", ev.CheckRun.ID, "external_id", ev.CheckRun.ExternalID)
		return nil
	}
	project, ok := e.ciProject(ev.Owner, ev.Repo)
	if !ok {
		return nil
	}
	return e.ci.RetryPipeline(ctx, project, pipelineID)
}

func (e *Engine) push(ctx context.Context, push models.PushInfo) error {
	var errs []error
	if project, ok := e.ciProject(push.Owner, push.Repo); ok {
		if err := e.syncer.MirrorRef(ctx, push.Ref, false, project); err != nil {
			errs = append(errs, err)
		}
	}
	if backport, ok := e.cfg.BackportForBranch(push.Ref.Name); ok {
		if err := e.shipBackports(ctx, push, backport.RequestInclusionColumn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// shipBackports moves the cards of pull requests named in "Backport PR #n"
// commit messages from the request-inclusion to the shipped column.
func (e *Engine) shipBackports(ctx context.Context, push models.PushInfo, requestColumn int64) error {
	seen := make(map[int]bool)
	var errs []error
	for _, message := range push.CommitMessages {
		for _, match := range backportMessagePattern.FindAllStringSubmatch(message, -1) {
			number, err := strconv.Atoi(match[1])
			if err != nil || seen[number] {
				continue
			}
			seen[number] = true
			issue := models.Issue{Owner: push.Owner, Repo: push.Repo, Number: number}
			if err := e.shipBackport(ctx, issue, push.Ref.Name, requestColumn); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) shipBackport(ctx context.Context, issue models.Issue, branch string, requestColumn int64) error {
	metadata, err := e.source.GetPullRequestBackportMetadata(ctx, issue, requestColumn)
	if err != nil {
		return err
	}
	backport, ok := e.cfg.BackportForMilestone(metadata.Milestone)
	if !ok || backport.Branch != branch {
		logging.Info("pull request milestone does not target this backport branch",
			"issue", issue.String(), "milestone", metadata.Milestone, "branch", branch)
		return nil
	}
	if metadata.CardID == 0 {
		logging.Info("no backport request card for pull request", "issue", issue.String())
		return nil
	}
	return e.source.MoveProjectCard(ctx, metadata.CardID, backport.ShippedColumn)
}

func (e *Engine) job(ctx context.Context, job models.JobInfo) error {
	owner, repo, ok := e.sourceRepo(job.Project)
	if !ok {
		return nil
	}
	return e.jobs.HandleJob(ctx, job, owner, repo)
}

// pipelineStates maps GitLab pipeline statuses to commit status states.
// Unlisted statuses are pending.
var pipelineStates = map[string]models.StatusState{
	"success":  models.StatusSuccess,
	"failed":   models.StatusFailure,
	"canceled": models.StatusError,
	"skipped":  models.StatusError,
}

func (e *Engine) pipeline(ctx context.Context, pipeline models.PipelineInfo) error {
	owner, repo, ok := e.sourceRepo(pipeline.Project)
	if !ok {
		return nil
	}
	state, ok := pipelineStates[pipeline.Status]
	if !ok {
		state = models.StatusPending
	}
	return e.source.CreateStatusCheck(ctx, owner, repo, pipeline.SHA, models.StatusCheck{
		Context:     models.PipelineContext(pipeline.Ref),
		State:       state,
		Description: fmt.Sprintf("Pipeline %s on GitLab CI", pipeline.Status),
		TargetURL:   pipeline.WebURL(),
	})
}

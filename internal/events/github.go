package events

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-github/v56/github"

	"github.com/danielolaszy/hookbot/pkg/models"
)

var (
	pullRequestURLPattern = regexp.MustCompile(`/pull/[0-9]+$`)
	cardContentURLPattern = regexp.MustCompile(`repos/([^/]+)/([^/]+)/issues/([0-9]+)$`)
)

// GitHub event kinds, as sent in the X-GitHub-Event header.
const (
	GitHubIssues       = "issues"
	GitHubPullRequest  = "pull_request"
	GitHubProjectCard  = "project_card"
	GitHubCreate       = "create"
	GitHubIssueComment = "issue_comment"
	GitHubCheckRun     = "check_run"
	GitHubPush         = "push"
	GitHubPing         = "ping"
)

type githubDecoder struct {
	kind string
}

func (d githubDecoder) errorf(format string, args ...any) error {
	return &DecodeError{Platform: "github", Kind: d.kind, Msg: fmt.Sprintf(format, args...)}
}

// DecodeGitHub turns a GitHub webhook payload of the given kind into an
// Event. Unknown kinds and actions decode to Unsupported or NoOp; only a
// malformed payload of a supported kind yields a *DecodeError.
func DecodeGitHub(kind string, body []byte) (Event, error) {
	d := githubDecoder{kind: kind}
	switch kind {
	case GitHubIssues, GitHubPullRequest, GitHubProjectCard, GitHubCreate,
		GitHubIssueComment, GitHubCheckRun, GitHubPush, GitHubPing:
	default:
		return Unsupported{Reason: fmt.Sprintf("GitHub event kind %q", kind)}, nil
	}

	payload, err := github.ParseWebHook(kind, body)
	if err != nil {
		return nil, &DecodeError{Platform: "github", Kind: kind, Msg: "malformed payload", Err: err}
	}

	switch e := payload.(type) {
	case *github.PingEvent:
		return NoOp{Reason: "ping"}, nil
	case *github.IssuesEvent:
		return d.issues(e)
	case *github.PullRequestEvent:
		return d.pullRequest(e)
	case *github.ProjectCardEvent:
		return d.projectCard(e)
	case *github.CreateEvent:
		return d.create(e)
	case *github.IssueCommentEvent:
		return d.issueComment(e)
	case *github.CheckRunEvent:
		return d.checkRun(e)
	case *github.PushEvent:
		return d.push(e)
	default:
		return Unsupported{Reason: fmt.Sprintf("GitHub event kind %q", kind)}, nil
	}
}

func (d githubDecoder) issues(e *github.IssuesEvent) (Event, error) {
	action := e.GetAction()
	if action != "opened" && action != "closed" {
		return NoOp{Reason: fmt.Sprintf("issue action %q", action)}, nil
	}
	owner, repo, err := d.repository(e.GetRepo())
	if err != nil {
		return nil, err
	}
	info, err := d.issueInfo(owner, repo, e.GetIssue())
	if err != nil {
		return nil, err
	}
	if action == "opened" {
		return IssueOpened{Issue: info}, nil
	}
	return IssueClosed{Issue: info, StateReason: e.GetIssue().GetStateReason()}, nil
}

func (d githubDecoder) pullRequest(e *github.PullRequestEvent) (Event, error) {
	var action PullRequestAction
	switch e.GetAction() {
	case "opened":
		action = PullRequestOpened
	case "reopened":
		action = PullRequestReopened
	case "synchronize":
		action = PullRequestSynchronized
	case "closed":
		action = PullRequestClosed
	default:
		return NoOp{Reason: fmt.Sprintf("pull request action %q", e.GetAction())}, nil
	}

	owner, repo, err := d.repository(e.GetRepo())
	if err != nil {
		return nil, err
	}
	info, err := d.pullRequestInfo(owner, repo, e.GetPullRequest())
	if err != nil {
		return nil, err
	}
	// Only a closing transition can carry a merge.
	info.Merged = action == PullRequestClosed && info.Merged
	return PullRequestUpdated{Action: action, PullRequest: info}, nil
}

// PullRequestInfo converts a pull request fetched from the GitHub API.
func PullRequestInfo(owner, repo string, pr *github.PullRequest) (models.PullRequestInfo, error) {
	return githubDecoder{kind: GitHubPullRequest}.pullRequestInfo(owner, repo, pr)
}

func (d githubDecoder) pullRequestInfo(owner, repo string, pr *github.PullRequest) (models.PullRequestInfo, error) {
	if pr == nil {
		return models.PullRequestInfo{}, d.errorf("missing pull_request")
	}
	if pr.GetNumber() == 0 {
		return models.PullRequestInfo{}, d.errorf("missing pull_request.number")
	}

	base := pr.GetBase()
	head := pr.GetHead()
	if base == nil || head == nil {
		return models.PullRequestInfo{}, d.errorf("missing pull_request base or head")
	}
	if base.GetRepo().GetHTMLURL() == "" {
		return models.PullRequestInfo{}, d.errorf("missing pull_request.base.repo.html_url")
	}
	if base.GetSHA() == "" || head.GetSHA() == "" {
		return models.PullRequestInfo{}, d.errorf("missing base or head sha")
	}

	headRef := models.RemoteRefInfo{RepoURL: head.GetRepo().GetHTMLURL(), Name: head.GetRef()}
	if head.Repo == nil {
		// The fork is gone; the head is still reachable from the base repository.
		headRef = models.RemoteRefInfo{
			RepoURL: base.GetRepo().GetHTMLURL(),
			Name:    fmt.Sprintf("refs/pull/%d/head", pr.GetNumber()),
		}
	}

	return models.PullRequestInfo{
		Issue: models.IssueInfo{
			Issue:         models.Issue{Owner: owner, Repo: repo, Number: pr.GetNumber()},
			ID:            pr.GetNodeID(),
			User:          pr.GetUser().GetLogin(),
			Labels:        labelNames(pr.Labels),
			Milestoned:    pr.Milestone != nil,
			IsPullRequest: pullRequestURLPattern.MatchString(pr.GetHTMLURL()),
			Body:          pr.Body,
		},
		Base: models.CommitInfo{
			Branch: models.RemoteRefInfo{RepoURL: base.GetRepo().GetHTMLURL(), Name: base.GetRef()},
			SHA:    base.GetSHA(),
		},
		Head: models.CommitInfo{
			Branch: headRef,
			SHA:    head.GetSHA(),
		},
		Merged: pr.GetMerged(),
	}, nil
}

func (d githubDecoder) projectCard(e *github.ProjectCardEvent) (Event, error) {
	if e.GetAction() != "deleted" {
		return NoOp{Reason: fmt.Sprintf("project card action %q", e.GetAction())}, nil
	}
	card := e.GetProjectCard()
	if card == nil {
		return nil, d.errorf("missing project_card")
	}
	if card.GetColumnID() == 0 {
		return nil, d.errorf("missing project_card.column_id")
	}

	result := models.ProjectCard{ColumnID: card.GetColumnID()}
	if card.ContentURL != nil {
		match := cardContentURLPattern.FindStringSubmatch(card.GetContentURL())
		if match == nil {
			return nil, d.errorf("content_url %q does not point to an issue", card.GetContentURL())
		}
		number, err := strconv.Atoi(match[3])
		if err != nil {
			return nil, d.errorf("content_url %q: invalid issue number", card.GetContentURL())
		}
		result.Issue = &models.Issue{Owner: match[1], Repo: match[2], Number: number}
	}
	return RemovedFromProject{Card: result}, nil
}

func (d githubDecoder) create(e *github.CreateEvent) (Event, error) {
	owner, repo, err := d.repository(e.GetRepo())
	if err != nil {
		return nil, err
	}
	if e.GetRef() == "" {
		return nil, d.errorf("missing ref")
	}
	ref := models.RemoteRefInfo{RepoURL: e.GetRepo().GetHTMLURL(), Name: e.GetRef()}

	switch e.GetRefType() {
	case "branch":
		return BranchCreated{Owner: owner, Repo: repo, Ref: ref}, nil
	case "tag":
		return TagCreated{Owner: owner, Repo: repo, Ref: ref}, nil
	default:
		return nil, d.errorf("unexpected ref_type %q", e.GetRefType())
	}
}

func (d githubDecoder) issueComment(e *github.IssueCommentEvent) (Event, error) {
	if e.GetAction() != "created" {
		return NoOp{Reason: fmt.Sprintf("comment action %q", e.GetAction())}, nil
	}
	owner, repo, err := d.repository(e.GetRepo())
	if err != nil {
		return nil, err
	}
	info, err := d.issueInfo(owner, repo, e.GetIssue())
	if err != nil {
		return nil, err
	}
	comment := e.GetComment()
	if comment == nil {
		return nil, d.errorf("missing comment")
	}
	if comment.GetUser().GetLogin() == "" {
		return nil, d.errorf("missing comment.user.login")
	}
	return CommentCreated{Comment: models.CommentInfo{
		Body:   comment.GetBody(),
		Author: comment.GetUser().GetLogin(),
		Issue:  info,
	}}, nil
}

func (d githubDecoder) checkRun(e *github.CheckRunEvent) (Event, error) {
	action := e.GetAction()
	if action != "created" && action != "rerequested" {
		return NoOp{Reason: fmt.Sprintf("check run action %q", action)}, nil
	}
	owner, repo, err := d.repository(e.GetRepo())
	if err != nil {
		return nil, err
	}
	run := e.GetCheckRun()
	if run == nil || run.GetID() == 0 {
		return nil, d.errorf("missing check_run.id")
	}
	info := models.CheckRunInfo{
		ID:         run.GetID(),
		NodeID:     run.GetNodeID(),
		URL:        run.GetHTMLURL(),
		ExternalID: run.GetExternalID(),
		HeadSHA:    run.GetHeadSHA(),
	}
	if action == "created" {
		return CheckRunCreated{Owner: owner, Repo: repo, CheckRun: info}, nil
	}
	return CheckRunReRequested{Owner: owner, Repo: repo, CheckRun: info}, nil
}

func (d githubDecoder) push(e *github.PushEvent) (Event, error) {
	ref := e.GetRef()
	if ref == "" {
		return nil, d.errorf("missing ref")
	}
	branch, isBranch := strings.CutPrefix(ref, "refs/heads/")
	if !isBranch {
		return NoOp{Reason: fmt.Sprintf("push to non-branch ref %q", ref)}, nil
	}
	if e.GetDeleted() {
		return NoOp{Reason: fmt.Sprintf("branch %q deleted", branch)}, nil
	}

	repository := e.GetRepo()
	owner := repository.GetOwner().GetLogin()
	if owner == "" {
		owner = repository.GetOwner().GetName()
	}
	if owner == "" || repository.GetName() == "" {
		return nil, d.errorf("missing repository owner or name")
	}

	messages := make([]string, 0, len(e.Commits))
	for _, commit := range e.Commits {
		messages = append(messages, commit.GetMessage())
	}
	return Push{Push: models.PushInfo{
		Owner:          owner,
		Repo:           repository.GetName(),
		Ref:            models.RemoteRefInfo{RepoURL: repository.GetHTMLURL(), Name: branch},
		Before:         e.GetBefore(),
		After:          e.GetAfter(),
		CommitMessages: messages,
	}}, nil
}

func (d githubDecoder) repository(repo *github.Repository) (string, string, error) {
	if repo == nil {
		return "", "", d.errorf("missing repository")
	}
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()
	if owner == "" || name == "" {
		return "", "", d.errorf("missing repository owner or name")
	}
	return owner, name, nil
}

func (d githubDecoder) issueInfo(owner, repo string, issue *github.Issue) (models.IssueInfo, error) {
	if issue == nil {
		return models.IssueInfo{}, d.errorf("missing issue")
	}
	if issue.GetNumber() == 0 {
		return models.IssueInfo{}, d.errorf("missing issue.number")
	}
	return models.IssueInfo{
		Issue:         models.Issue{Owner: owner, Repo: repo, Number: issue.GetNumber()},
		ID:            issue.GetNodeID(),
		User:          issue.GetUser().GetLogin(),
		Labels:        labelNames(issue.Labels),
		Milestoned:    issue.Milestone != nil,
		IsPullRequest: pullRequestURLPattern.MatchString(issue.GetHTMLURL()),
		Body:          issue.Body,
	}, nil
}

func labelNames(labels []*github.Label) []string {
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		names = append(names, label.GetName())
	}
	return names
}

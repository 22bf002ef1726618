package events

import (
	"fmt"
	"net/url"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/danielolaszy/hookbot/pkg/models"
)

// GitLab event kinds, as sent in the X-Gitlab-Event header.
const (
	GitLabJobHook      = string(gitlab.EventTypeJob)
	GitLabPipelineHook = string(gitlab.EventTypePipeline)
)

// DecodeGitLab turns a GitLab webhook payload of the given kind into an Event.
func DecodeGitLab(kind string, body []byte) (Event, error) {
	switch kind {
	case GitLabJobHook, GitLabPipelineHook:
	default:
		return Unsupported{Reason: fmt.Sprintf("GitLab event kind %q", kind)}, nil
	}

	payload, err := gitlab.ParseWebhook(gitlab.EventType(kind), body)
	if err != nil {
		return nil, gitlabError(kind, "malformed payload", err)
	}
	switch event := payload.(type) {
	case *gitlab.JobEvent:
		return decodeGitLabJob(event)
	case *gitlab.PipelineEvent:
		return decodeGitLabPipeline(event)
	default:
		return nil, gitlabError(kind, fmt.Sprintf("unexpected payload type %T", payload), nil)
	}
}

func gitlabError(kind, msg string, err error) error {
	return &DecodeError{Platform: "gitlab", Kind: kind, Msg: msg, Err: err}
}

func decodeGitLabJob(event *gitlab.JobEvent) (Event, error) {
	if event.ObjectKind != "build" {
		return nil, gitlabError(GitLabJobHook, fmt.Sprintf("unexpected object_kind %q", event.ObjectKind), nil)
	}
	if event.BuildID == 0 || event.BuildStatus == "" || event.SHA == "" {
		return nil, gitlabError(GitLabJobHook, "missing build_id, build_status or sha", nil)
	}

	var path, webURL, homepage string
	if event.Repository != nil {
		path, webURL, homepage = event.Repository.PathWithNamespace, event.Repository.WebURL, event.Repository.Homepage
	}
	path, webURL, err := projectLocation(path, webURL, homepage)
	if err != nil {
		return nil, gitlabError(GitLabJobHook, "cannot locate project", err)
	}

	return Job{Job: models.JobInfo{
		ID:            int64(event.BuildID),
		Name:          event.BuildName,
		Status:        event.BuildStatus,
		FailureReason: event.BuildFailureReason,
		Project:       path,
		ProjectURL:    webURL,
		Ref:           event.Ref,
		SHA:           event.SHA,
	}}, nil
}

func decodeGitLabPipeline(event *gitlab.PipelineEvent) (Event, error) {
	if event.ObjectKind != "pipeline" {
		return nil, gitlabError(GitLabPipelineHook, fmt.Sprintf("unexpected object_kind %q", event.ObjectKind), nil)
	}
	attrs := event.ObjectAttributes
	if attrs.ID == 0 || attrs.Status == "" || attrs.SHA == "" {
		return nil, gitlabError(GitLabPipelineHook, "missing object_attributes id, status or sha", nil)
	}
	path, webURL, err := projectLocation(event.Project.PathWithNamespace, event.Project.WebURL, "")
	if err != nil {
		return nil, gitlabError(GitLabPipelineHook, "cannot locate project", err)
	}
	return Pipeline{Pipeline: models.PipelineInfo{
		ID:         int64(attrs.ID),
		Status:     attrs.Status,
		Project:    path,
		ProjectURL: webURL,
		Ref:        attrs.Ref,
		SHA:        attrs.SHA,
	}}, nil
}

// projectLocation prefers an explicit project path and web URL and falls
// back to the repository homepage that job payloads carry.
func projectLocation(path, webURL, homepage string) (string, string, error) {
	if path != "" && webURL != "" {
		return path, strings.TrimRight(webURL, "/"), nil
	}
	if homepage == "" {
		return "", "", fmt.Errorf("neither path_with_namespace nor homepage present")
	}
	parsed, err := url.Parse(homepage)
	if err != nil {
		return "", "", err
	}
	path = strings.Trim(parsed.Path, "/")
	if path == "" {
		return "", "", fmt.Errorf("homepage %q has no project path", homepage)
	}
	return path, strings.TrimRight(homepage, "/"), nil
}

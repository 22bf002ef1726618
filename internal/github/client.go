// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"

	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/internal/events"
	"github.com/danielolaszy/hookbot/internal/logging"
	"github.com/danielolaszy/hookbot/pkg/models"
)

// maxDescriptionLength is the longest status description GitHub accepts.
const maxDescriptionLength = 140

// Client encapsulates the GitHub API client.
type Client struct {
	client *github.Client
}

// APIURL returns the REST endpoint for a GitHub domain. Anything other than
// github.com is treated as GitHub Enterprise.
func APIURL(domain string) string {
	if domain == "" || domain == "github.com" {
		return "https://api.github.com/"
	}
	return fmt.Sprintf("https://%s/api/v3/", domain)
}

// NewClient creates a GitHub API client authenticated with the configured token.
func NewClient(ctx context.Context, cfg config.GitHubConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token not found in configuration")
	}

	apiURL := APIURL(cfg.Domain)
	logging.Info("github configuration",
		"domain", cfg.Domain,
		"api_url", apiURL,
		"token", logging.MaskSensitive(cfg.Token))

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	return newClient(oauth2.NewClient(ctx, ts), apiURL)
}

func newClient(httpClient *http.Client, apiURL string) (*Client, error) {
	parsedURL, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github api url: %w", err)
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}
	client := github.NewClient(httpClient)
	client.BaseURL = parsedURL
	client.UploadURL = parsedURL
	return &Client{client: client}, nil
}

// Authenticate checks the token and returns the login it belongs to.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("error testing github token: %w", err)
	}
	logging.Info("github authentication successful", "username", user.GetLogin())
	return user.GetLogin(), nil
}

// AddLabel adds a label to an issue or pull request. GitHub creates
// labels that don't exist yet.
func (c *Client) AddLabel(ctx context.Context, issue models.Issue, label string) error {
	logging.Debug("adding label", "issue", issue.String(), "label", label)
	if _, _, err := c.client.Issues.AddLabelsToIssue(ctx, issue.Owner, issue.Repo, issue.Number, []string{label}); err != nil {
		return fmt.Errorf("failed to add label %q to %s: %w", label, issue, err)
	}
	return nil
}

// RemoveLabel removes a label. A label that is already gone is not an error.
func (c *Client) RemoveLabel(ctx context.Context, issue models.Issue, label string) error {
	logging.Debug("removing label", "issue", issue.String(), "label", label)
	_, err := c.client.Issues.RemoveLabelForIssue(ctx, issue.Owner, issue.Repo, issue.Number, label)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to remove label %q from %s: %w", label, issue, err)
	}
	return nil
}

// SetMilestone assigns the milestone with the given number, or clears the
// milestone when milestone is nil.
func (c *Client) SetMilestone(ctx context.Context, issue models.Issue, milestone *int) error {
	logging.Debug("setting milestone", "issue", issue.String(), "milestone", milestone)

	// IssueRequest omits a nil milestone, so clearing needs an explicit null.
	body := map[string]*int{"milestone": milestone}
	u := fmt.Sprintf("repos/%s/%s/issues/%d", issue.Owner, issue.Repo, issue.Number)
	req, err := c.client.NewRequest(http.MethodPatch, u, body)
	if err != nil {
		return fmt.Errorf("failed to build milestone request: %w", err)
	}
	if _, err := c.client.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("failed to set milestone of %s: %w", issue, err)
	}
	return nil
}

// CreateStatusCheck publishes a commit status on sha.
func (c *Client) CreateStatusCheck(ctx context.Context, owner, repo, sha string, check models.StatusCheck) error {
	status := &github.RepoStatus{
		State:       github.String(string(check.State)),
		Context:     github.String(check.Context),
		Description: github.String(truncate(check.Description, maxDescriptionLength)),
	}
	if check.TargetURL != "" {
		status.TargetURL = github.String(check.TargetURL)
	}
	logging.Debug("creating status", "repository", owner+"/"+repo, "sha", sha, "context", check.Context, "state", check.State)
	if _, _, err := c.client.Repositories.CreateStatus(ctx, owner, repo, sha, status); err != nil {
		return fmt.Errorf("failed to create status %q on %s/%s@%s: %w", check.Context, owner, repo, sha, err)
	}
	return nil
}

// GetExistingStatusCheck returns the latest status with the given context on
// sha, or nil when there is none.
func (c *Client) GetExistingStatusCheck(ctx context.Context, owner, repo, sha, checkContext string) (*models.StatusCheck, error) {
	opts := &github.ListOptions{PerPage: 100}
	for {
		statuses, resp, err := c.client.Repositories.ListStatuses(ctx, owner, repo, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list statuses of %s/%s@%s: %w", owner, repo, sha, err)
		}
		// Newest first.
		for _, status := range statuses {
			if status.GetContext() == checkContext {
				return &models.StatusCheck{
					Context:     status.GetContext(),
					State:       models.StatusState(status.GetState()),
					Description: status.GetDescription(),
					TargetURL:   status.GetTargetURL(),
				}, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// MoveProjectCard moves a card to the top of a column.
func (c *Client) MoveProjectCard(ctx context.Context, cardID, columnID int64) error {
	logging.Debug("moving project card", "card_id", cardID, "column_id", columnID)
	opts := &github.ProjectCardMoveOptions{Position: "top", ColumnID: columnID}
	if _, err := c.client.Projects.MoveProjectCard(ctx, cardID, opts); err != nil {
		return fmt.Errorf("failed to move card %d to column %d: %w", cardID, columnID, err)
	}
	return nil
}

// PostComment adds a comment to an issue or pull request.
func (c *Client) PostComment(ctx context.Context, issue models.Issue, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := c.client.Issues.CreateComment(ctx, issue.Owner, issue.Repo, issue.Number, comment); err != nil {
		return fmt.Errorf("failed to comment on %s: %w", issue, err)
	}
	return nil
}

// IsTeamMember reports whether user is an active member of the team org/slug.
func (c *Client) IsTeamMember(ctx context.Context, org, slug, user string) (bool, error) {
	membership, _, err := c.client.Teams.GetTeamMembershipBySlug(ctx, org, slug, user)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get membership of %s in %s/%s: %w", user, org, slug, err)
	}
	return membership.GetState() == "active", nil
}

// GetPullRequest fetches a pull request.
func (c *Client) GetPullRequest(ctx context.Context, issue models.Issue) (models.PullRequestInfo, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, issue.Owner, issue.Repo, issue.Number)
	if err != nil {
		return models.PullRequestInfo{}, fmt.Errorf("failed to get pull request %s: %w", issue, err)
	}
	info, err := events.PullRequestInfo(issue.Owner, issue.Repo, pr)
	if err != nil {
		return models.PullRequestInfo{}, fmt.Errorf("unexpected pull request %s: %w", issue, err)
	}
	return info, nil
}

// GetPullRequestBackportMetadata returns the milestone of a pull request
// and the id of its card in the given project column.
func (c *Client) GetPullRequestBackportMetadata(ctx context.Context, issue models.Issue, columnID int64) (models.BackportMetadata, error) {
	var metadata models.BackportMetadata
	found, _, err := c.client.Issues.Get(ctx, issue.Owner, issue.Repo, issue.Number)
	if err != nil {
		return metadata, fmt.Errorf("failed to get %s: %w", issue, err)
	}
	metadata.Milestone = found.GetMilestone().GetNumber()

	suffix := fmt.Sprintf("/repos/%s/%s/issues/%d", issue.Owner, issue.Repo, issue.Number)
	opts := &github.ProjectCardListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		cards, resp, err := c.client.Projects.ListProjectCards(ctx, columnID, opts)
		if err != nil {
			return metadata, fmt.Errorf("failed to list cards of column %d: %w", columnID, err)
		}
		for _, card := range cards {
			if strings.HasSuffix(strings.ToLower(card.GetContentURL()), strings.ToLower(suffix)) {
				metadata.CardID = card.GetID()
				return metadata, nil
			}
		}
		if resp.NextPage == 0 {
			return metadata, nil
		}
		opts.Page = resp.NextPage
	}
}

func isNotFound(err error) bool {
	var errResp *github.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// Package gitlab provides functionality for interacting with the GitLab API
// of the CI host.
package gitlab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/internal/logging"
)

// MaxConcurrentRequests limits in-flight API requests, response bodies
// included.
const MaxConcurrentRequests = 5

// Client encapsulates the GitLab API client.
type Client struct {
	client    *gitlab.Client
	baseURL   string
	semaphore chan struct{}
}

// NewClient creates a GitLab API client for the configured instance,
// authenticated with a private token.
func NewClient(cfg config.GitLabConfig, httpClient *http.Client) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("gitlab token not found in configuration")
	}
	logging.Info("gitlab configuration",
		"url", cfg.URL,
		"token", logging.MaskSensitive(cfg.Token))
	return newClient(httpClient, cfg.URL, cfg.Token)
}

func newClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	client, err := gitlab.NewClient(token,
		gitlab.WithBaseURL(baseURL),
		gitlab.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("invalid gitlab url %q: %w", baseURL, err)
	}
	return &Client{
		client:    client,
		baseURL:   baseURL,
		semaphore: make(chan struct{}, MaxConcurrentRequests),
	}, nil
}

// acquire takes a request slot. The returned func gives it back.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	select {
	case c.semaphore <- struct{}{}:
		return func() { <-c.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RetryJob asks GitLab to run a job again.
func (c *Client) RetryJob(ctx context.Context, project string, jobID int64) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	logging.Debug("retrying job", "project", project, "job_id", jobID)
	if _, _, err := c.client.Jobs.RetryJob(project, int(jobID), gitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to retry job %d of %s: %w", jobID, project, err)
	}
	return nil
}

// GetJobTrace returns the log of a job. The trace store is eventually
// consistent and may answer with an empty body for a while.
func (c *Client) GetJobTrace(ctx context.Context, project string, jobID int64) (string, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	trace, _, err := c.client.Jobs.GetTraceFile(project, int(jobID), gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to get trace of job %d of %s: %w", jobID, project, err)
	}
	text, err := io.ReadAll(trace)
	if err != nil {
		return "", fmt.Errorf("failed to read trace of job %d: %w", jobID, err)
	}
	return string(text), nil
}

// RetryPipeline retries the failed jobs of a pipeline.
func (c *Client) RetryPipeline(ctx context.Context, project string, pipelineID int64) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	logging.Debug("retrying pipeline", "project", project, "pipeline_id", pipelineID)
	if _, _, err := c.client.Pipelines.RetryPipelineBuild(project, int(pipelineID), gitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to retry pipeline %d of %s: %w", pipelineID, project, err)
	}
	return nil
}

// CreatePipeline starts a pipeline on ref with the given variables and
// returns its web URL.
func (c *Client) CreatePipeline(ctx context.Context, project, ref string, variables map[string]string) (string, error) {
	keys := make([]string, 0, len(variables))
	for key := range variables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	vars := make([]*gitlab.PipelineVariableOptions, 0, len(keys))
	for _, key := range keys {
		vars = append(vars, &gitlab.PipelineVariableOptions{
			Key:   gitlab.Ptr(key),
			Value: gitlab.Ptr(variables[key]),
		})
	}
	opt := &gitlab.CreatePipelineOptions{Ref: gitlab.Ptr(ref)}
	if len(vars) > 0 {
		opt.Variables = &vars
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	pipeline, _, err := c.client.Pipelines.CreatePipeline(project, opt, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create pipeline on %s@%s: %w", project, ref, err)
	}
	logging.Info("created pipeline", "project", project, "ref", ref, "pipeline_id", pipeline.ID)
	return pipeline.WebURL, nil
}

// ArtifactExists reports whether a job produced the artifact at path. Only
// the headers are requested, the artifact itself is never downloaded.
func (c *Client) ArtifactExists(ctx context.Context, project string, jobID int64, artifactPath string) (bool, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	path := fmt.Sprintf("projects/%s/jobs/%d/artifacts/%s", url.PathEscape(project), jobID, escapeArtifactPath(artifactPath))
	req, err := c.client.NewRequest(http.MethodHead, path, nil, []gitlab.RequestOptionFunc{gitlab.WithContext(ctx)})
	if err != nil {
		return false, fmt.Errorf("failed to build artifact request: %w", err)
	}
	resp, err := c.client.Do(req, nil)
	if err != nil {
		if isNotFound(resp) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check artifact %s of job %d: %w", artifactPath, jobID, err)
	}
	return true, nil
}

// ArtifactURL is the browsable location of a job artifact.
func (c *Client) ArtifactURL(project string, jobID int64, artifactPath string) string {
	return fmt.Sprintf("%s/%s/-/jobs/%d/artifacts/raw/%s", c.baseURL, project, jobID, escapeArtifactPath(artifactPath))
}

func escapeArtifactPath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func isNotFound(resp *gitlab.Response) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound
}

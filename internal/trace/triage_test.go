package trace

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/pkg/models"
)

// MockCIClient implements CIClient for testing.
type MockCIClient struct {
	retried []int64

	GetJobTraceFunc    func(project string, jobID int64) (string, error)
	ArtifactExistsFunc func(project string, jobID int64, path string) (bool, error)
}

func (m *MockCIClient) RetryJob(_ context.Context, _ string, jobID int64) error {
	m.retried = append(m.retried, jobID)
	return nil
}

func (m *MockCIClient) GetJobTrace(_ context.Context, project string, jobID int64) (string, error) {
	if m.GetJobTraceFunc != nil {
		return m.GetJobTraceFunc(project, jobID)
	}
	return "", errors.New("GetJobTrace not implemented")
}

func (m *MockCIClient) ArtifactExists(_ context.Context, project string, jobID int64, path string) (bool, error) {
	if m.ArtifactExistsFunc != nil {
		return m.ArtifactExistsFunc(project, jobID, path)
	}
	return false, errors.New("ArtifactExists not implemented")
}

func (m *MockCIClient) ArtifactURL(project string, jobID int64, path string) string {
	return fmt.Sprintf("https://gitlab.example.com/%s/-/jobs/%d/artifacts/raw/%s", project, jobID, path)
}

// MockStatusReporter implements StatusReporter for testing.
type MockStatusReporter struct {
	created  []models.StatusCheck
	existing map[string]*models.StatusCheck
}

func (m *MockStatusReporter) CreateStatusCheck(_ context.Context, _, _, _ string, check models.StatusCheck) error {
	m.created = append(m.created, check)
	return nil
}

func (m *MockStatusReporter) GetExistingStatusCheck(_ context.Context, _, _, _, checkContext string) (*models.StatusCheck, error) {
	return m.existing[checkContext], nil
}

func failedJob(reason string) models.JobInfo {
	return models.JobInfo{
		ID:            42,
		Name:          "build",
		Status:        JobFailed,
		FailureReason: reason,
		Project:       "group/r",
		ProjectURL:    "https://gitlab.example.com/group/r",
		Ref:           "pr-7",
		SHA:           "abc",
	}
}

func newTestTriage(ci *MockCIClient, statuses *MockStatusReporter, artifacts ...config.ArtifactConfig) *Triage {
	poller := &Poller{InitialWait: time.Second, MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	return NewTriage(ci, statuses, NewClassifier(""), poller, &config.Config{Artifacts: artifacts})
}

func TestHandleJobRetriesTransientReason(t *testing.T) {
	for _, reason := range []string{"runner_system_failure", "stuck_or_timeout_failure"} {
		t.Run(reason, func(t *testing.T) {
			ci := &MockCIClient{}
			statuses := &MockStatusReporter{}

			err := newTestTriage(ci, statuses).HandleJob(context.Background(), failedJob(reason), "o", "r")

			require.NoError(t, err)
			assert.Equal(t, []int64{42}, ci.retried)
			assert.Empty(t, statuses.created)
		})
	}
}

func TestHandleJobReportsTimeout(t *testing.T) {
	ci := &MockCIClient{}
	statuses := &MockStatusReporter{}

	err := newTestTriage(ci, statuses).HandleJob(context.Background(), failedJob("job_execution_timeout"), "o", "r")

	require.NoError(t, err)
	assert.Empty(t, ci.retried)
	require.Len(t, statuses.created, 1)
	assert.Equal(t, models.StatusCheck{
		Context:     "GitLab CI job build (pull request)",
		State:       models.StatusFailure,
		Description: "job_execution_timeout",
		TargetURL:   "https://gitlab.example.com/group/r/-/jobs/42",
	}, statuses.created[0])
}

func TestHandleJobScriptFailure(t *testing.T) {
	tests := []struct {
		name        string
		trace       string
		wantRetried int
		wantStatus  int
	}{
		{name: "transient exit code", trace: "ERROR: Job failed: exit code 137", wantRetried: 1},
		{name: "benign git error", trace: "fatal: reference is not a tree"},
		{name: "genuine failure", trace: "FAIL: TestX", wantStatus: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			ci := &MockCIClient{
				GetJobTraceFunc: func(string, int64) (string, error) {
					attempts++
					if attempts < 3 {
						return "", nil
					}
					return tt.trace, nil
				},
			}
			statuses := &MockStatusReporter{}

			err := newTestTriage(ci, statuses).HandleJob(context.Background(), failedJob("script_failure"), "o", "r")

			require.NoError(t, err)
			assert.Equal(t, 3, attempts)
			assert.Len(t, ci.retried, tt.wantRetried)
			assert.Len(t, statuses.created, tt.wantStatus)
		})
	}
}

func TestHandleJobTraceUnavailable(t *testing.T) {
	ci := &MockCIClient{
		GetJobTraceFunc: func(string, int64) (string, error) { return "", nil },
	}
	statuses := &MockStatusReporter{}

	err := newTestTriage(ci, statuses).HandleJob(context.Background(), failedJob("script_failure"), "o", "r")

	require.ErrorIs(t, err, ErrTraceUnavailable)
	assert.Empty(t, ci.retried)
	assert.Empty(t, statuses.created)
}

func TestHandleJobSuccessOverridesExistingFailure(t *testing.T) {
	job := failedJob("")
	job.Status = JobSuccess
	statuses := &MockStatusReporter{existing: map[string]*models.StatusCheck{
		"GitLab CI job build (pull request)": {Context: "GitLab CI job build (pull request)", State: models.StatusFailure},
	}}

	err := newTestTriage(&MockCIClient{}, statuses).HandleJob(context.Background(), job, "o", "r")

	require.NoError(t, err)
	require.Len(t, statuses.created, 1)
	assert.Equal(t, models.StatusSuccess, statuses.created[0].State)
	assert.Equal(t, "GitLab CI job build (pull request)", statuses.created[0].Context)
}

func TestHandleJobSuccessWithoutExistingStatus(t *testing.T) {
	job := failedJob("")
	job.Status = JobSuccess
	statuses := &MockStatusReporter{}

	err := newTestTriage(&MockCIClient{}, statuses).HandleJob(context.Background(), job, "o", "r")

	require.NoError(t, err)
	assert.Empty(t, statuses.created)
}

func TestHandleJobSuccessPublishesArtifacts(t *testing.T) {
	job := failedJob("")
	job.Status = JobSuccess
	ci := &MockCIClient{
		ArtifactExistsFunc: func(_ string, _ int64, path string) (bool, error) {
			return path == "doc/index.html", nil
		},
	}
	statuses := &MockStatusReporter{}
	artifacts := []config.ArtifactConfig{
		{Job: "build", Name: "docs", Path: "doc/index.html"},
		{Job: "build", Name: "coverage", Path: "cov/index.html"},
		{Job: "lint", Name: "report", Path: "lint.txt"},
	}

	err := newTestTriage(ci, statuses, artifacts...).HandleJob(context.Background(), job, "o", "r")

	require.NoError(t, err)
	require.Len(t, statuses.created, 2)
	assert.Equal(t, "GitLab CI artifact: docs", statuses.created[0].Context)
	assert.Equal(t, models.StatusSuccess, statuses.created[0].State)
	assert.Equal(t, "https://gitlab.example.com/group/r/-/jobs/42/artifacts/raw/doc/index.html", statuses.created[0].TargetURL)
	assert.Equal(t, "GitLab CI artifact: coverage", statuses.created[1].Context)
	assert.Equal(t, models.StatusFailure, statuses.created[1].State)
}

func TestHandleJobIgnoresRunningJobs(t *testing.T) {
	job := failedJob("")
	job.Status = "running"
	ci := &MockCIClient{}
	statuses := &MockStatusReporter{}

	require.NoError(t, newTestTriage(ci, statuses).HandleJob(context.Background(), job, "o", "r"))
	assert.Empty(t, ci.retried)
	assert.Empty(t, statuses.created)
}

package trace

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/internal/logging"
	"github.com/danielolaszy/hookbot/pkg/models"
)

// Job statuses sent by GitLab.
const (
	JobFailed  = "failed"
	JobSuccess = "success"
)

// CIClient is the part of the CI host API used by Triage.
type CIClient interface {
	RetryJob(ctx context.Context, project string, jobID int64) error
	GetJobTrace(ctx context.Context, project string, jobID int64) (string, error)
	ArtifactExists(ctx context.Context, project string, jobID int64, path string) (bool, error)
	ArtifactURL(project string, jobID int64, path string) string
}

// StatusReporter publishes and reads commit status checks on the source host.
type StatusReporter interface {
	CreateStatusCheck(ctx context.Context, owner, repo, sha string, check models.StatusCheck) error
	GetExistingStatusCheck(ctx context.Context, owner, repo, sha, checkContext string) (*models.StatusCheck, error)
}

// ArtifactCatalog lists the artifacts a job publishes. *config.Config
// implements it.
type ArtifactCatalog interface {
	ArtifactsForJob(job string) []config.ArtifactConfig
}

// Triage handles finished CI jobs.
type Triage struct {
	ci         CIClient
	statuses   StatusReporter
	classifier *Classifier
	poller     *Poller
	artifacts  ArtifactCatalog
}

// NewTriage wires a Triage. Successful jobs listed in artifacts get one
// status check per artifact.
func NewTriage(ci CIClient, statuses StatusReporter, classifier *Classifier, poller *Poller, artifacts ArtifactCatalog) *Triage {
	return &Triage{
		ci:         ci,
		statuses:   statuses,
		classifier: classifier,
		poller:     poller,
		artifacts:  artifacts,
	}
}

// HandleJob acts on a job of the CI project mirroring owner/repo. Jobs that
// are neither failed nor successful are ignored.
func (t *Triage) HandleJob(ctx context.Context, job models.JobInfo, owner, repo string) error {
	switch job.Status {
	case JobFailed:
		return t.handleFailure(ctx, job, owner, repo)
	case JobSuccess:
		return t.handleSuccess(ctx, job, owner, repo)
	default:
		logging.Debug("ignoring job status", "job_id", job.ID, "status", job.Status)
		return nil
	}
}

// Decide classifies a failed job, reading its trace when the failure
// reason requires it.
func (t *Triage) Decide(ctx context.Context, job models.JobInfo) (Classification, error) {
	decision := t.classifier.ClassifyReason(job.FailureReason)
	if decision != Inspect {
		return Classification{Decision: decision, Rule: "reason:" + job.FailureReason}, nil
	}
	text, err := t.poller.Fetch(ctx, func(ctx context.Context) (string, error) {
		return t.ci.GetJobTrace(ctx, job.Project, job.ID)
	})
	if err != nil {
		return Classification{}, fmt.Errorf("failed to read trace of job %d: %w", job.ID, err)
	}
	return t.classifier.ClassifyTrace(job.Project, text), nil
}

func (t *Triage) handleFailure(ctx context.Context, job models.JobInfo, owner, repo string) error {
	classification, err := t.Decide(ctx, job)
	if err != nil {
		return err
	}
	log := logging.With("job_id", job.ID, "job", job.Name, "project", job.Project)
	log.Info("classified job failure",
		"reason", job.FailureReason,
		"decision", classification.Decision.String(),
		"rule", classification.Rule)

	switch classification.Decision {
	case Retry:
		if err := t.ci.RetryJob(ctx, job.Project, job.ID); err != nil {
			return fmt.Errorf("failed to retry job %d: %w", job.ID, err)
		}
		return nil
	case Ignore:
		return nil
	default:
		check := models.StatusCheck{
			Context:     models.JobContext(job.Name, job.Ref),
			State:       models.StatusFailure,
			Description: job.FailureReason,
			TargetURL:   job.WebURL(),
		}
		return t.statuses.CreateStatusCheck(ctx, owner, repo, job.SHA, check)
	}
}

func (t *Triage) handleSuccess(ctx context.Context, job models.JobInfo, owner, repo string) error {
	var errs []error
	checkContext := models.JobContext(job.Name, job.Ref)
	existing, err := t.statuses.GetExistingStatusCheck(ctx, owner, repo, job.SHA, checkContext)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("failed to read status %q: %w", checkContext, err))
	case existing != nil && existing.State != models.StatusSuccess:
		check := models.StatusCheck{
			Context:     checkContext,
			State:       models.StatusSuccess,
			Description: "Job succeeded after retry",
			TargetURL:   job.WebURL(),
		}
		if err := t.statuses.CreateStatusCheck(ctx, owner, repo, job.SHA, check); err != nil {
			errs = append(errs, err)
		}
	}

	for _, artifact := range t.artifacts.ArtifactsForJob(job.Name) {
		if err := t.publishArtifact(ctx, job, owner, repo, artifact); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Triage) publishArtifact(ctx context.Context, job models.JobInfo, owner, repo string, artifact config.ArtifactConfig) error {
	exists, err := t.ci.ArtifactExists(ctx, job.Project, job.ID, artifact.Path)
	if err != nil {
		logging.Warn("artifact check failed", "job_id", job.ID, "artifact", artifact.Name, "error", err)
	}
	check := models.StatusCheck{
		Context:   fmt.Sprintf("GitLab CI artifact: %s", artifact.Name),
		State:     models.StatusSuccess,
		TargetURL: t.ci.ArtifactURL(job.Project, job.ID, artifact.Path),
	}
	if exists {
		check.Description = fmt.Sprintf("Link to %s generated by job %s", artifact.Name, job.Name)
	} else {
		check.State = models.StatusFailure
		check.Description = fmt.Sprintf("Artifact %s not found", artifact.Path)
	}
	return t.statuses.CreateStatusCheck(ctx, owner, repo, job.SHA, check)
}

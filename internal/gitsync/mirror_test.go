package gitsync

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/hookbot/internal/git"
	"github.com/danielolaszy/hookbot/pkg/models"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	fullArgs := append([]string{"-C", dir,
		"-c", "user.name=Hook Bot",
		"-c", "user.email=bot@example.com",
		"-c", "commit.gpgsign=false"}, args...)
	out, err := exec.Command("git", fullArgs...).CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func hasRef(dir, ref string) bool {
	return exec.Command("git", "-C", dir, "rev-parse", "--verify", "--quiet", ref).Run() == nil
}

// gitFixture is a source repository, a CI host directory holding one bare
// project and a mirror wired between them.
type gitFixture struct {
	source    string
	ciProject string
	ciRepo    string
	mirror    *GitMirror
	shas      map[string]string
}

// newGitFixture builds the history
//
//	master:   A
//	feature:  A - B
//	diverged: A - C
func newGitFixture(t *testing.T) *gitFixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("file URLs differ on windows")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found")
	}

	root := t.TempDir()
	f := &gitFixture{
		source:    filepath.Join(root, "source"),
		ciProject: "group/r",
		shas:      make(map[string]string),
	}
	ciBase := filepath.Join(root, "ci")
	f.ciRepo = filepath.Join(ciBase, "group", "r.git")

	out, err := exec.Command("git", "init", "--quiet", f.source).CombinedOutput()
	require.NoError(t, err, string(out))
	runGit(t, f.source, "symbolic-ref", "HEAD", "refs/heads/master")
	runGit(t, f.source, "commit", "--quiet", "--allow-empty", "-m", "A")
	runGit(t, f.source, "checkout", "--quiet", "-b", "feature")
	runGit(t, f.source, "commit", "--quiet", "--allow-empty", "-m", "B")
	runGit(t, f.source, "checkout", "--quiet", "master")
	runGit(t, f.source, "checkout", "--quiet", "-b", "diverged")
	runGit(t, f.source, "commit", "--quiet", "--allow-empty", "-m", "C")
	for _, branch := range []string{"master", "feature", "diverged"} {
		f.shas[branch] = runGit(t, f.source, "rev-parse", "refs/heads/"+branch)
	}

	out, err = exec.Command("git", "init", "--bare", "--quiet", f.ciRepo).CombinedOutput()
	require.NoError(t, err, string(out))

	f.mirror, err = NewGitMirror(filepath.Join(root, "mirror.git"), "", "file://"+ciBase, "")
	require.NoError(t, err)
	require.NoError(t, f.mirror.Init(context.Background()))
	return f
}

func (f *gitFixture) pullRequest(base, head string) models.PullRequestInfo {
	return models.PullRequestInfo{
		Issue: models.IssueInfo{
			Issue:         models.Issue{Owner: "o", Repo: "r", Number: 7},
			IsPullRequest: true,
		},
		Base: models.CommitInfo{
			Branch: models.RemoteRefInfo{RepoURL: f.source, Name: base},
			SHA:    f.shas[base],
		},
		Head: models.CommitInfo{
			Branch: models.RemoteRefInfo{RepoURL: f.source, Name: head},
			SHA:    f.shas[head],
		},
	}
}

func TestGitMirrorSyncClean(t *testing.T) {
	f := newGitFixture(t)
	reporter := &MockReporter{}
	orchestrator := NewOrchestrator(f.mirror, reporter, rebaseLabel)

	outcome, err := orchestrator.Sync(context.Background(), f.pullRequest("master", "feature"), f.ciProject)

	require.NoError(t, err)
	assert.Equal(t, StateClean, outcome.State)
	assert.Equal(t, f.shas["feature"], runGit(t, f.ciRepo, "rev-parse", "refs/heads/pr-7"))
	assert.False(t, hasRef(f.mirror.repo.Dir(), "refs/heads/remote-pr-7-base"))
	assert.Empty(t, reporter.added)
	assert.Empty(t, reporter.statuses)
}

func TestGitMirrorSyncDiverged(t *testing.T) {
	f := newGitFixture(t)
	reporter := &MockReporter{}
	orchestrator := NewOrchestrator(f.mirror, reporter, rebaseLabel)

	outcome, err := orchestrator.Sync(context.Background(), f.pullRequest("diverged", "feature"), f.ciProject)

	require.NoError(t, err)
	assert.Equal(t, StateConflict, outcome.State)
	assert.Equal(t, StateTestAncestor, outcome.FailedAt)
	exit, ok := ExitOutcome(outcome.Cause)
	require.True(t, ok)
	assert.Equal(t, git.NonZeroExit, exit)

	assert.False(t, hasRef(f.ciRepo, "refs/heads/pr-7"))
	assert.False(t, hasRef(f.mirror.repo.Dir(), "refs/heads/remote-pr-7-base"))
	assert.Equal(t, []string{rebaseLabel}, reporter.added)
	require.Len(t, reporter.statuses, 1)
	assert.Equal(t, []string{f.shas["feature"]}, reporter.statusSHAs)
}

func TestGitMirrorSyncMissingBranch(t *testing.T) {
	f := newGitFixture(t)
	orchestrator := NewOrchestrator(f.mirror, &MockReporter{}, rebaseLabel)

	outcome, err := orchestrator.Sync(context.Background(), f.pullRequest("master", "gone"), f.ciProject)

	require.NoError(t, err)
	assert.Equal(t, StateConflict, outcome.State)
	assert.Equal(t, StateFetchHead, outcome.FailedAt)
}

func TestGitMirrorCloseDeletesBranches(t *testing.T) {
	f := newGitFixture(t)
	orchestrator := NewOrchestrator(f.mirror, &MockReporter{}, rebaseLabel)
	pr := f.pullRequest("master", "feature")
	_, err := orchestrator.Sync(context.Background(), pr, f.ciProject)
	require.NoError(t, err)
	require.True(t, hasRef(f.ciRepo, "refs/heads/pr-7"))

	require.NoError(t, orchestrator.Close(context.Background(), pr, f.ciProject))

	assert.False(t, hasRef(f.ciRepo, "refs/heads/pr-7"))
	assert.False(t, hasRef(f.mirror.repo.Dir(), "refs/heads/pr-7"))
}

func TestGitMirrorMirrorRef(t *testing.T) {
	f := newGitFixture(t)
	runGit(t, f.source, "tag", "v1.0", f.shas["master"])
	orchestrator := NewOrchestrator(f.mirror, &MockReporter{}, rebaseLabel)
	ctx := context.Background()

	require.NoError(t, orchestrator.MirrorRef(ctx, models.RemoteRefInfo{RepoURL: f.source, Name: "diverged"}, false, f.ciProject))
	require.NoError(t, orchestrator.MirrorRef(ctx, models.RemoteRefInfo{RepoURL: f.source, Name: "v1.0"}, true, f.ciProject))

	assert.Equal(t, f.shas["diverged"], runGit(t, f.ciRepo, "rev-parse", "refs/heads/diverged"))
	assert.Equal(t, f.shas["master"], runGit(t, f.ciRepo, "rev-parse", "refs/tags/v1.0^{commit}"))
}

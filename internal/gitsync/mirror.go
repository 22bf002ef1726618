package gitsync

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/danielolaszy/hookbot/internal/git"
)

// Mirror is the set of operations the orchestrator performs on the mirror
// repository. Every failure of an underlying process is a *git.ProcessError.
type Mirror interface {
	// Fetch force-updates localRef from remoteRef of the repository at repoURL.
	Fetch(ctx context.Context, repoURL, remoteRef, localRef string) error
	// IsAncestor succeeds when ancestor is reachable from descendant.
	IsAncestor(ctx context.Context, ancestor, descendant string) error
	// Push force-pushes localRef to remoteRef of the CI project.
	Push(ctx context.Context, ciProject, localRef, remoteRef string) error
	// DeleteRemote deletes remoteRef from the CI project.
	DeleteRemote(ctx context.Context, ciProject, remoteRef string) error
	// DeleteLocal deletes localRef from the mirror.
	DeleteLocal(ctx context.Context, localRef string) error
}

// GitMirror implements Mirror with the git CLI over authenticated HTTPS.
type GitMirror struct {
	repo        *git.Repository
	sourceToken string
	ciURL       *url.URL
	ciToken     string
}

// NewGitMirror returns a mirror backed by the bare repository in dir.
// sourceToken authenticates fetches from the source host, ciToken pushes to
// the CI host at ciBaseURL. A file:// base addresses local bare repositories.
func NewGitMirror(dir, sourceToken, ciBaseURL, ciToken string) (*GitMirror, error) {
	parsed, err := url.Parse(ciBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CI url %q: %w", ciBaseURL, err)
	}
	if parsed.Scheme == "" || (parsed.Host == "" && parsed.Scheme != "file") {
		return nil, fmt.Errorf("invalid CI url %q: scheme and host are required", ciBaseURL)
	}
	return &GitMirror{
		repo:        git.NewRepository(dir),
		sourceToken: sourceToken,
		ciURL:       parsed,
		ciToken:     ciToken,
	}, nil
}

// Init creates the bare mirror repository if needed.
func (m *GitMirror) Init(ctx context.Context) error {
	return m.repo.Init(ctx)
}

func (m *GitMirror) Fetch(ctx context.Context, repoURL, remoteRef, localRef string) error {
	_, err := m.repo.Run(ctx, "fetch", "--quiet", "--no-tags",
		withCredentials(repoURL, "x-access-token", m.sourceToken),
		fmt.Sprintf("+%s:%s", remoteRef, localRef))
	return err
}

func (m *GitMirror) IsAncestor(ctx context.Context, ancestor, descendant string) error {
	_, err := m.repo.Run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	return err
}

func (m *GitMirror) Push(ctx context.Context, ciProject, localRef, remoteRef string) error {
	_, err := m.repo.Run(ctx, "push", "--quiet", "--force",
		m.projectURL(ciProject), fmt.Sprintf("%s:%s", localRef, remoteRef))
	return err
}

func (m *GitMirror) DeleteRemote(ctx context.Context, ciProject, remoteRef string) error {
	_, err := m.repo.Run(ctx, "push", "--quiet", m.projectURL(ciProject), "--delete", remoteRef)
	return err
}

func (m *GitMirror) DeleteLocal(ctx context.Context, localRef string) error {
	_, err := m.repo.Run(ctx, "update-ref", "-d", localRef)
	return err
}

func (m *GitMirror) projectURL(ciProject string) string {
	u := *m.ciURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(ciProject, "/") + ".git"
	return withCredentials(u.String(), "oauth2", m.ciToken)
}

// withCredentials embeds user:token into an HTTP(S) URL. Other URLs (local
// paths, ssh) are returned unchanged.
func withCredentials(raw, user, token string) string {
	if token == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return raw
	}
	parsed.User = url.UserPassword(user, token)
	return parsed.String()
}

// branchRef turns a branch name into a full ref; full refs pass through.
func branchRef(name string) string {
	if strings.HasPrefix(name, "refs/") {
		return name
	}
	return "refs/heads/" + name
}

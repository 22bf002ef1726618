// Package mapping translates between source-host repositories and CI-host
// project paths. Tables are built once at startup and only read afterwards,
// so a Mapper is safe for concurrent use.
package mapping

import (
	"fmt"
	"strings"

	"github.com/danielolaszy/hookbot/internal/config"
)

// MappingError reports a lookup for which no mapping is configured.
type MappingError struct {
	Platform string
	Key      string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no %s mapping configured for %q", e.Platform, e.Key)
}

// Mapper is a bidirectional lookup between "owner/repo" and CI project paths.
type Mapper struct {
	toCI     map[string]string
	toSource map[string]string
}

// New builds a Mapper from configuration. A repository or project listed
// twice is a configuration error.
func New(mappings []config.MappingConfig) (*Mapper, error) {
	m := &Mapper{
		toCI:     make(map[string]string, len(mappings)),
		toSource: make(map[string]string, len(mappings)),
	}
	for _, entry := range mappings {
		source := normalize(entry.GitHub)
		project := normalize(entry.GitLab)
		if _, dup := m.toCI[source]; dup {
			return nil, fmt.Errorf("duplicate mapping for repository %s", entry.GitHub)
		}
		if _, dup := m.toSource[project]; dup {
			return nil, fmt.Errorf("duplicate mapping for project %s", entry.GitLab)
		}
		m.toCI[source] = strings.TrimSpace(entry.GitLab)
		m.toSource[project] = strings.TrimSpace(entry.GitHub)
	}
	return m, nil
}

// CIProject returns the CI project path mirroring owner/repo.
func (m *Mapper) CIProject(owner, repo string) (string, error) {
	key := owner + "/" + repo
	project, ok := m.toCI[normalize(key)]
	if !ok {
		return "", &MappingError{Platform: "GitLab", Key: key}
	}
	return project, nil
}

// SourceRepo returns the owner and repository mirrored by a CI project.
func (m *Mapper) SourceRepo(project string) (owner, repo string, err error) {
	source, ok := m.toSource[normalize(project)]
	if !ok {
		return "", "", &MappingError{Platform: "GitHub", Key: project}
	}
	owner, repo, _ = strings.Cut(source, "/")
	return owner, repo, nil
}

// Len returns the number of configured mappings.
func (m *Mapper) Len() int {
	return len(m.toCI)
}

// Hosting platforms treat paths case-insensitively.
func normalize(path string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(path), "/"))
}

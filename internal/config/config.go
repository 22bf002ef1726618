// Package config provides centralized configuration management for the bot.
// Configuration is read once at startup from an optional TOML file and the
// environment, then passed explicitly to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	GitHub    GitHubConfig      `mapstructure:"github"`
	GitLab    GitLabConfig      `mapstructure:"gitlab"`
	Mirror    MirrorConfig      `mapstructure:"mirror"`
	Bot       BotConfig         `mapstructure:"bot"`
	Mappings  []MappingConfig   `mapstructure:"mappings"`
	Teams     map[string]string `mapstructure:"teams"`
	Backports []BackportConfig  `mapstructure:"backports"`
	Trace     TraceConfig       `mapstructure:"trace"`
	Artifacts []ArtifactConfig  `mapstructure:"artifacts"`
	Minimizer MinimizerConfig   `mapstructure:"minimizer"`
}

// ServerConfig holds inbound HTTP settings.
type ServerConfig struct {
	Port               int  `mapstructure:"port"`
	RequireSignature   bool `mapstructure:"require_signature"`
	MaxConcurrentTasks int  `mapstructure:"max_concurrent_tasks"`
	MaxQueuedTasks     int  `mapstructure:"max_queued_tasks"`
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Domain        string `mapstructure:"domain"`
	Token         string `mapstructure:"token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// GitLabConfig holds GitLab specific configuration.
type GitLabConfig struct {
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// MirrorConfig locates the local mirror repository.
type MirrorConfig struct {
	Dir string `mapstructure:"dir"`
}

// BotConfig holds the bot identity and the labels it manages.
type BotConfig struct {
	Name        string `mapstructure:"name"`
	RebaseLabel string `mapstructure:"rebase_label"`
	TriageLabel string `mapstructure:"triage_label"`
}

// MappingConfig pairs a GitHub repository with its GitLab project.
type MappingConfig struct {
	GitHub string `mapstructure:"github"`
	GitLab string `mapstructure:"gitlab"`
}

// BackportConfig describes the backport board of one release milestone.
type BackportConfig struct {
	Milestone              int    `mapstructure:"milestone"`
	Branch                 string `mapstructure:"branch"`
	RequestInclusionColumn int64  `mapstructure:"request_inclusion_column"`
	ShippedColumn          int64  `mapstructure:"shipped_column"`
	RejectedMilestone      int    `mapstructure:"rejected_milestone"`
}

// TraceConfig tunes the job log poller and classifier.
type TraceConfig struct {
	MaxAttempts               int           `mapstructure:"max_attempts"`
	InitialWait               time.Duration `mapstructure:"initial_wait"`
	IgnoreMissingImageProject string        `mapstructure:"ignore_missing_image_project"`
}

// ArtifactConfig names an artifact published by a CI job.
type ArtifactConfig struct {
	Job  string `mapstructure:"job"`
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// MinimizerConfig locates the project running bug minimization pipelines.
type MinimizerConfig struct {
	Project string `mapstructure:"project"`
	Ref     string `mapstructure:"ref"`
}

// DefaultConfigFile is read when no explicit path is given and the file exists.
const DefaultConfigFile = "hookbot.toml"

// MaxTraceAttempts is the largest accepted trace.max_attempts.
const MaxTraceAttempts = 20

// LoadConfig reads configuration from the TOML file at path (if any) and
// the environment, then validates it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("github.token", "GITHUB_TOKEN")
	_ = v.BindEnv("github.domain", "GITHUB_DOMAIN")
	_ = v.BindEnv("github.webhook_secret", "GITHUB_WEBHOOK_SECRET")
	_ = v.BindEnv("gitlab.url", "GITLAB_URL")
	_ = v.BindEnv("gitlab.token", "GITLAB_TOKEN")
	_ = v.BindEnv("gitlab.webhook_secret", "GITLAB_WEBHOOK_SECRET")
	_ = v.BindEnv("mirror.dir", "MIRROR_DIR")
	_ = v.BindEnv("bot.name", "BOT_NAME")

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.require_signature", true)
	v.SetDefault("server.max_concurrent_tasks", 8)
	v.SetDefault("server.max_queued_tasks", 256)
	v.SetDefault("github.domain", "github.com")
	v.SetDefault("gitlab.url", "https://gitlab.com")
	v.SetDefault("mirror.dir", "mirror.git")
	v.SetDefault("bot.name", "hookbot")
	v.SetDefault("bot.rebase_label", "needs: rebase")
	v.SetDefault("trace.max_attempts", 10)
	v.SetDefault("trace.initial_wait", time.Second)
	v.SetDefault("minimizer.ref", "master")
}

func (c *Config) normalize() {
	c.GitHub.Domain = strings.TrimSpace(c.GitHub.Domain)
	if c.GitHub.Domain == "" {
		c.GitHub.Domain = "github.com"
	}
	c.GitLab.URL = strings.TrimRight(strings.TrimSpace(c.GitLab.URL), "/")
	if c.Teams == nil {
		c.Teams = map[string]string{}
	}
}

// Validate ensures that all required configuration values are provided and
// reports every problem at once.
func (c *Config) Validate() error {
	var missingVars []string

	if c.GitHub.Token == "" {
		missingVars = append(missingVars, "GITHUB_TOKEN")
	}
	if c.GitLab.Token == "" {
		missingVars = append(missingVars, "GITLAB_TOKEN")
	}
	if c.Server.RequireSignature {
		if c.GitHub.WebhookSecret == "" {
			missingVars = append(missingVars, "GITHUB_WEBHOOK_SECRET")
		}
		if c.GitLab.WebhookSecret == "" {
			missingVars = append(missingVars, "GITLAB_WEBHOOK_SECRET")
		}
	}

	var problems []error
	if len(missingVars) > 0 {
		problems = append(problems, fmt.Errorf("missing required environment variables: %v", missingVars))
	}
	for i, m := range c.Mappings {
		if strings.Count(m.GitHub, "/") != 1 || m.GitLab == "" {
			problems = append(problems, fmt.Errorf("mappings[%d]: expected github = \"owner/repo\" and a gitlab project path", i))
		}
	}
	for i, b := range c.Backports {
		if b.Milestone == 0 || b.RequestInclusionColumn == 0 {
			problems = append(problems, fmt.Errorf("backports[%d]: milestone and request_inclusion_column are required", i))
		}
	}
	if c.Server.MaxConcurrentTasks <= 0 {
		problems = append(problems, errors.New("server.max_concurrent_tasks must be positive"))
	}
	if c.Server.MaxQueuedTasks < 0 {
		problems = append(problems, errors.New("server.max_queued_tasks must not be negative"))
	}
	if c.Trace.MaxAttempts <= 0 || c.Trace.MaxAttempts > MaxTraceAttempts {
		problems = append(problems, fmt.Errorf("trace.max_attempts must be between 1 and %d", MaxTraceAttempts))
	}

	return errors.Join(problems...)
}

// BackportForMilestone returns the backport board of the given milestone.
func (c *Config) BackportForMilestone(milestone int) (BackportConfig, bool) {
	for _, b := range c.Backports {
		if b.Milestone == milestone {
			return b, true
		}
	}
	return BackportConfig{}, false
}

// BackportForColumn returns the backport board whose request-inclusion
// column is columnID.
func (c *Config) BackportForColumn(columnID int64) (BackportConfig, bool) {
	for _, b := range c.Backports {
		if b.RequestInclusionColumn == columnID {
			return b, true
		}
	}
	return BackportConfig{}, false
}

// BackportForBranch returns the backport board targeting branch.
func (c *Config) BackportForBranch(branch string) (BackportConfig, bool) {
	for _, b := range c.Backports {
		if b.Branch != "" && b.Branch == branch {
			return b, true
		}
	}
	return BackportConfig{}, false
}

// ArtifactsForJob returns the artifacts published by the named job.
func (c *Config) ArtifactsForJob(job string) []ArtifactConfig {
	var artifacts []ArtifactConfig
	for _, a := range c.Artifacts {
		if a.Job == job {
			artifacts = append(artifacts, a)
		}
	}
	return artifacts
}

// Package trace decides what to do with finished CI jobs: retry transient
// failures, ignore known benign ones and report the rest as failing status
// checks on the source host.
package trace

import (
	"fmt"
	"regexp"
	"strings"
)

// Decision is the outcome of classifying a failed job.
type Decision int

const (
	// Warn reports the failure as a failing status check.
	Warn Decision = iota
	// Retry asks the CI host to run the job again.
	Retry
	// Ignore drops the failure without any status update.
	Ignore
	// Inspect means the reason alone is not enough and the job trace must be read.
	Inspect
)

func (d Decision) String() string {
	switch d {
	case Warn:
		return "warn"
	case Retry:
		return "retry"
	case Ignore:
		return "ignore"
	case Inspect:
		return "inspect"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Failure reasons reported by GitLab in build_failure_reason.
const (
	ReasonScriptFailure       = "script_failure"
	ReasonJobExecutionTimeout = "job_execution_timeout"
)

var reasonDecisions = map[string]Decision{
	"runner_system_failure":  Retry,
	"api_failure":            Retry,
	"scheduler_failure":      Retry,
	"data_integrity_failure": Retry,
	// No runner picked the job up in time; the script never ran.
	"stuck_or_timeout_failure": Retry,
	ReasonJobExecutionTimeout:  Warn,
	ReasonScriptFailure:        Inspect,
}

// Rule matches a job trace. Rules never keep state between evaluations.
type Rule struct {
	Name     string
	Decision Decision
	Match    func(project, text string) bool
}

// Classification is the decision for a trace together with the rule that produced it.
type Classification struct {
	Decision Decision
	// Rule is empty when no rule matched
	Rule string
}

// Classifier holds the ordered rule table. It is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

var (
	transientExitCode = regexp.MustCompile(`Job failed: exit code (137|255)\b`)
	artifactTransfer  = regexp.MustCompile(`(?i)(uploading|downloading) artifacts.*(failed|error|fatal)`)
	missingImage      = regexp.MustCompile(`(?i)(image not found|manifest unknown|manifest for \S+ not found)`)
)

var connectivityErrors = []string{
	"Could not resolve host",
	"Temporary failure in name resolution",
	"Connection timed out",
	"Connection reset by peer",
	"Connection refused",
	"TLS handshake timeout",
	"The remote end hung up unexpectedly",
	"i/o timeout",
	"503 Service Unavailable",
	"502 Bad Gateway",
}

// NewClassifier builds the rule table. The missing image rule only applies
// to jobs of ignoreMissingImageProject; an empty value disables it.
func NewClassifier(ignoreMissingImageProject string) *Classifier {
	rules := []Rule{
		{Name: "transient-exit-code", Decision: Retry, Match: matchRegexp(transientExitCode)},
		{Name: "artifact-transfer", Decision: Retry, Match: matchRegexp(artifactTransfer)},
		{Name: "connectivity", Decision: Retry, Match: func(_, text string) bool {
			for _, s := range connectivityErrors {
				if strings.Contains(text, s) {
					return true
				}
			}
			return false
		}},
		{Name: "system-failure", Decision: Retry, Match: matchSubstring("Job failed (system failure)")},
		{Name: "reference-not-a-tree", Decision: Ignore, Match: matchSubstring("fatal: reference is not a tree")},
	}
	if ignoreMissingImageProject != "" {
		rules = append(rules, Rule{Name: "missing-image", Decision: Ignore, Match: func(project, text string) bool {
			return strings.EqualFold(project, ignoreMissingImageProject) && missingImage.MatchString(text)
		}})
	}
	return &Classifier{rules: rules}
}

func matchRegexp(re *regexp.Regexp) func(string, string) bool {
	return func(_, text string) bool {
		return re.MatchString(text)
	}
}

func matchSubstring(s string) func(string, string) bool {
	return func(_, text string) bool {
		return strings.Contains(text, s)
	}
}

// Rules returns a copy of the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ClassifyReason maps a failure reason to a decision without reading the
// trace. Unknown reasons are reported.
func (c *Classifier) ClassifyReason(reason string) Decision {
	if decision, ok := reasonDecisions[reason]; ok {
		return decision
	}
	return Warn
}

// ClassifyTrace evaluates the rules in order against the trace of a job in
// project. The first match wins; Warn when nothing matches.
func (c *Classifier) ClassifyTrace(project, text string) Classification {
	for _, rule := range c.rules {
		if rule.Match(project, text) {
			return Classification{Decision: rule.Decision, Rule: rule.Name}
		}
	}
	return Classification{Decision: Warn}
}

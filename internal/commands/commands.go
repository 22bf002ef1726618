// Package commands recognizes bot commands in issue and pull request comments.
package commands

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the type of a bot command.
type Kind int

const (
	// RunCI asks the bot to sync the pull request into CI again.
	RunCI Kind = iota + 1
	// Minimize asks for a minimization pipeline over the listed jobs.
	Minimize
)

func (k Kind) String() string {
	switch k {
	case RunCI:
		return "run CI"
	case Minimize:
		return "minimize"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is a parsed bot command.
type Command struct {
	Kind Kind
	// Jobs lists the job names of a Minimize command
	Jobs []string
}

// Parser extracts a command from a comment body.
type Parser interface {
	Parse(body string) (Command, bool)
}

// RegexpParser recognizes "@<bot>: run CI" and "@<bot>: minimize <job>...".
// The first line mentioning the bot wins.
type RegexpParser struct {
	runCI    *regexp.Regexp
	minimize *regexp.Regexp
}

// NewParser returns a parser for commands addressed to bot.
func NewParser(bot string) *RegexpParser {
	mention := `^\s*@` + regexp.QuoteMeta(bot) + `:?\s+`
	return &RegexpParser{
		runCI:    regexp.MustCompile(`(?i)` + mention + `run\s+ci\s*$`),
		minimize: regexp.MustCompile(`(?i)` + mention + `minimi[sz]e\s+(.+)$`),
	}
}

func (p *RegexpParser) Parse(body string) (Command, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if p.runCI.MatchString(line) {
			return Command{Kind: RunCI}, true
		}
		if match := p.minimize.FindStringSubmatch(line); match != nil {
			jobs := strings.FieldsFunc(match[1], func(r rune) bool {
				return r == ',' || r == ' ' || r == '\t'
			})
			if len(jobs) > 0 {
				return Command{Kind: Minimize, Jobs: jobs}, true
			}
		}
	}
	return Command{}, false
}

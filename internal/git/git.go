// Package git provides typed access to the git CLI for the mirror
// repository. All commands target the repository directory via -C.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// ExitOutcome classifies how a git process ended.
type ExitOutcome int

const (
	Success ExitOutcome = iota
	NonZeroExit
	Signaled
	Stopped
)

func (o ExitOutcome) String() string {
	switch o {
	case Success:
		return "success"
	case NonZeroExit:
		return "non-zero exit"
	case Signaled:
		return "signaled"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ProcessError reports a git process that did not exit successfully.
type ProcessError struct {
	Args    []string
	Outcome ExitOutcome
	// Code is the exit code for NonZeroExit, the signal number otherwise
	Code   int
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("git %s: %s (%d): %s",
		strings.Join(e.Args, " "), e.Outcome, e.Code, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Classify maps the error returned by exec.Cmd.Run to an ExitOutcome. A
// failure to start the process at all is reported as NonZeroExit.
func Classify(err error) (ExitOutcome, int) {
	if err == nil {
		return Success, 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return NonZeroExit, -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		switch {
		case status.Stopped():
			return Stopped, int(status.StopSignal())
		case status.Signaled():
			return Signaled, int(status.Signal())
		}
	}
	return NonZeroExit, exitErr.ExitCode()
}

// Repository is a git repository at a specific directory.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Init creates the repository as a bare repository if it does not exist yet.
func (r *Repository) Init(ctx context.Context) error {
	if _, err := os.Stat(r.dir); err == nil {
		return nil
	}
	command := exec.CommandContext(ctx, "git", "init", "--bare", "--quiet", r.dir)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		outcome, code := Classify(err)
		return &ProcessError{Args: []string{"init", "--bare", r.dir}, Outcome: outcome, Code: code, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}

// Run executes a git command targeting this repository and returns stdout.
// A failed process is reported as *ProcessError with stderr captured.
// Credentials embedded in URLs are redacted from errors.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	if err := command.Run(); err != nil {
		outcome, code := Classify(err)
		return "", &ProcessError{
			Args:    redactAll(args),
			Outcome: outcome,
			Code:    code,
			Stderr:  Redact(strings.TrimSpace(stderr.String())),
			Err:     err,
		}
	}
	return stdout.String(), nil
}

// Redact removes the userinfo part of any URL in s.
func Redact(s string) string {
	for _, scheme := range []string{"https://", "http://"} {
		offset := 0
		for {
			start := strings.Index(s[offset:], scheme)
			if start < 0 {
				break
			}
			start += offset + len(scheme)
			end := strings.IndexAny(s[start:], " \t\n/")
			if end < 0 {
				end = len(s) - start
			}
			if at := strings.LastIndex(s[start:start+end], "@"); at >= 0 {
				s = s[:start] + "***" + s[start+at:]
			}
			offset = start
		}
	}
	return s
}

func redactAll(args []string) []string {
	redacted := make([]string, len(args))
	for i, arg := range args {
		redacted[i] = Redact(arg)
	}
	return redacted
}

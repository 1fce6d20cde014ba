// Package runner abstracts child-process execution. The assistant
// subprocess is the orchestrator's only side-effecting operation besides
// the git commands issued around improvements, so every caller goes
// through the Runner interface and tests inject a fake.
package runner

import (
	"context"
	"time"
)

// Command describes one child process to run.
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Stdin   string
	Timeout time.Duration
}

// Result captures the observable outcome of a command. Exactly one of
// TimedOut / StartErr / ExitCode describes why the command ended:
// StartErr is set when the process never ran.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	StartErr error
}

// Combined is stdout followed by stderr, which is the authoritative
// output fed to the artifact parsers.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Ok reports whether the process ran to completion with exit code 0.
func (r *Result) Ok() bool {
	return r.StartErr == nil && !r.TimedOut && r.ExitCode == 0
}

// Runner executes commands. Implementations must honor Command.Timeout
// as a hard wall-clock bound and must never return a nil Result with a
// nil error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

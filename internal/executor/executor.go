// Package executor owns the run lifecycle: it composes the instruction
// prompt, spawns the assistant subprocess inside the project working
// tree, records every observable effect of the run, and hands the
// output to the artifact parsers and the self-evaluator.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"conductor/internal/config"
	"conductor/internal/parser"
	"conductor/internal/runner"
	"conductor/internal/store"
)

// Exit code sentinels for runs that never produced a process exit code.
const (
	ExitTimeout    = -2
	ExitSpawnError = -3
)

// Sources recorded on rows the executor writes.
const (
	suggestionSource = "ai_proposal"
	createdBy        = "claude_code"
)

// Evaluator grades a finished run. Failures inside the evaluator must
// never change run or task status, so the interface returns nothing.
type Evaluator interface {
	Evaluate(ctx context.Context, run store.Run, output string, toolCalls []store.ToolCall)
}

// Executor runs tasks through the assistant subprocess.
type Executor struct {
	store     *store.Store
	runner    runner.Runner
	cfg       config.Config
	logger    *zap.Logger
	evaluator Evaluator // optional
}

// New creates an executor. The evaluator may be nil, in which case runs
// are not self-graded.
func New(st *store.Store, rn runner.Runner, cfg config.Config, logger *zap.Logger, ev Evaluator) *Executor {
	return &Executor{store: st, runner: rn, cfg: cfg, logger: logger, evaluator: ev}
}

// ExecuteTask drives one task to a terminal status. Every failure past
// run creation is translated into entity status writes; the returned
// error is informational for the dispatcher log only.
func (e *Executor) ExecuteTask(ctx context.Context, task store.Task) error {
	log := e.logger.With(
		zap.Int64("task_id", task.ID),
		zap.String("project_id", task.ProjectID))
	log.Info("task execution started", zap.String("title", task.Title))

	project, err := e.store.GetProject(task.ProjectID)
	if err != nil {
		// Without project config there is no working tree to run in.
		// Leave the task pending when the store only hiccuped.
		if store.IsTransient(err) {
			log.Warn("transient store error resolving project", zap.Error(err))
			return err
		}
		log.Error("project not resolvable", zap.Error(err))
		return e.failTask(task.ID, fmt.Sprintf("project %s not resolvable: %v", task.ProjectID, err))
	}

	instruction := task.Title
	prompt := BuildRunPrompt(task.ProjectID, instruction)

	runID, err := e.store.InsertRun(store.Run{
		TaskID:         task.ID,
		ProjectID:      task.ProjectID,
		Instruction:    instruction,
		TimeoutSeconds: e.cfg.Assistant.RunTimeoutSeconds,
	})
	if err != nil {
		// Without a run row the execution would be unobservable.
		// The task stays pending for the next poll.
		log.Error("run insert failed, leaving task pending", zap.Error(err))
		return err
	}
	log = log.With(zap.Int64("run_id", runID))

	if err := e.store.UpdateTaskStatus(task.ID, store.TaskInProgress, ""); err != nil {
		log.Warn("failed to mark task in progress", zap.Error(err))
	}

	projectDir := e.cfg.ProjectDir(project.LocalDirectory)
	var result *runner.Result
	missingDir := false
	if info, statErr := os.Stat(projectDir); statErr != nil || !info.IsDir() {
		missingDir = true
		result = &runner.Result{ExitCode: -1}
	} else {
		result = e.invoke(ctx, projectDir, prompt, e.cfg.RunTimeout(), fmt.Sprintf("conductor_task_%d.txt", task.ID))
	}
	output := result.Combined()

	exitCode := result.ExitCode
	status := store.RunFailed
	switch {
	case missingDir:
		exitCode = -1
		output = fmt.Sprintf("project directory not found: %s", projectDir)
		log.Error("project directory not found", zap.String("dir", projectDir))
	case result.TimedOut:
		exitCode = ExitTimeout
		output = fmt.Sprintf("timeout after %s", e.cfg.RunTimeout())
		log.Error("assistant run timed out")
	case result.StartErr != nil:
		exitCode = ExitSpawnError
		output = fmt.Sprintf("spawn error: %v", result.StartErr)
		log.Error("assistant spawn failed", zap.Error(result.StartErr))
	case result.ExitCode == 0:
		status = store.RunCompleted
		log.Info("assistant run succeeded", zap.Duration("duration", result.Duration))
	default:
		log.Error("assistant run failed", zap.Int("exit_code", result.ExitCode))
	}

	fullOutputPath := e.saveFullOutput(runID, output)
	if err := e.store.CompleteRun(runID, status, exitCode, output, fullOutputPath, result.Duration); err != nil {
		log.Error("failed to complete run record", zap.Error(err))
	}

	// Post-run persistence is best-effort: nothing below may revert the
	// run's terminal status.
	toolCalls := parser.ParseToolCalls(output)
	if len(toolCalls) > 0 {
		if err := e.store.InsertToolCalls(runID, toolCalls); err != nil {
			log.Warn("failed to save tool calls", zap.Error(err))
		}
	}

	if status == store.RunCompleted {
		e.saveSummary(task.ProjectID, output, log)
		e.saveSuggestions(task.ProjectID, output, log)
	}

	if e.evaluator != nil {
		run, err := e.store.GetRun(runID)
		if err != nil {
			log.Warn("failed to reload run for evaluation", zap.Error(err))
		} else {
			e.evaluator.Evaluate(ctx, run, output, toolCalls)
		}
	}

	if status == store.RunCompleted {
		note := "実行完了\n\n" + truncate(output, 1000)
		if err := e.store.UpdateTaskStatus(task.ID, store.TaskDone, note); err != nil {
			log.Error("failed to mark task done", zap.Error(err))
		}
		log.Info("task completed")
		return nil
	}

	note := "実行失敗\n\n" + truncate(output, 500)
	if err := e.store.UpdateTaskStatus(task.ID, store.TaskFailed, note); err != nil {
		log.Error("failed to mark task failed", zap.Error(err))
	}
	log.Error("task failed")
	return fmt.Errorf("task %d failed (exit %d)", task.ID, exitCode)
}

// Invoke runs the assistant with an arbitrary prompt inside dir. The
// improvement engine shares this mechanism.
func (e *Executor) Invoke(ctx context.Context, dir, prompt string, timeout time.Duration, tempKey string) *runner.Result {
	return e.invoke(ctx, dir, prompt, timeout, tempKey)
}

func (e *Executor) invoke(ctx context.Context, dir, prompt string, timeout time.Duration, tempKey string) *runner.Result {
	// CLAUDE.md is the assistant's own context; surfacing its presence
	// helps debugging but it is never injected into the prompt.
	if data, err := os.ReadFile(filepath.Join(dir, "CLAUDE.md")); err == nil {
		e.logger.Debug("project CLAUDE.md present",
			zap.String("dir", dir),
			zap.Int("bytes", len(data)))
	}

	// The prompt goes through a temp file to sidestep newline and
	// escaping trouble on the child's stdin.
	promptPath := filepath.Join(os.TempDir(), tempKey)
	if err := os.WriteFile(promptPath, []byte(prompt), 0644); err != nil {
		return &runner.Result{ExitCode: -1, StartErr: fmt.Errorf("failed to write prompt file: %w", err)}
	}
	defer os.Remove(promptPath)

	stdin, err := os.ReadFile(promptPath)
	if err != nil {
		return &runner.Result{ExitCode: -1, StartErr: fmt.Errorf("failed to read prompt file: %w", err)}
	}

	// A started assistant must never be killed by shutdown; the timeout
	// is the only bound on the subprocess. Cancellation gates new
	// dispatches upstream, not runs already in flight.
	result, err := e.runner.Run(context.WithoutCancel(ctx), runner.Command{
		Binary:  e.cfg.Assistant.Binary,
		Args:    []string{"--dangerously-skip-permissions", "--print"},
		Dir:     dir,
		Stdin:   string(stdin),
		Timeout: timeout,
	})
	if err != nil {
		return &runner.Result{ExitCode: -1, StartErr: err}
	}
	return result
}

// saveFullOutput persists the complete output to
// <orchestrator>/logs/runs/run_<id>.log. Returns the path, or empty on
// failure (the preview in the run row still survives).
func (e *Executor) saveFullOutput(runID int64, output string) string {
	dir := e.cfg.RunLogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.logger.Warn("failed to create run log directory", zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("run_%d.log", runID))
	if err := os.WriteFile(path, []byte(output), 0644); err != nil {
		e.logger.Warn("failed to save full output", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func (e *Executor) saveSummary(projectID, output string, log *zap.Logger) {
	summary, ok := parser.ParseSummary(output)
	if !ok {
		log.Debug("no summary block in output")
		return
	}
	err := e.store.UpsertProjectSummary(store.ProjectSummary{
		ProjectID:      projectID,
		CurrentStatus:  summary.CurrentStatus,
		NextMilestone:  summary.NextMilestone,
		RecentProgress: summary.RecentProgress,
	})
	if err != nil {
		log.Warn("failed to save project summary", zap.Error(err))
	}
}

func (e *Executor) saveSuggestions(projectID, output string, log *zap.Logger) {
	for _, sg := range parser.ParseSuggestions(output) {
		err := e.store.InsertSuggestion(store.Suggestion{
			ProjectID:   projectID,
			Title:       sg.Title,
			Description: sg.Description,
			Source:      suggestionSource,
			CreatedBy:   createdBy,
		})
		if err != nil {
			log.Warn("failed to save suggestion", zap.String("title", sg.Title), zap.Error(err))
		}
	}
}

func (e *Executor) failTask(taskID int64, note string) error {
	if err := e.store.UpdateTaskStatus(taskID, store.TaskFailed, note); err != nil {
		return err
	}
	return fmt.Errorf("task %d failed: %s", taskID, note)
}

// truncate caps s at n bytes without cutting a rune in half; the output
// is mostly Japanese and a byte-wise slice would persist invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

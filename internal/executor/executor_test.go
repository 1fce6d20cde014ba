package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conductor/internal/config"
	"conductor/internal/runner"
	"conductor/internal/store"
)

// fakeRunner returns a scripted result and records what it was asked to
// run.
type fakeRunner struct {
	result   *runner.Result
	err      error
	commands []runner.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.commands = append(f.commands, cmd)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeEvaluator struct {
	calls int
	run   store.Run
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, run store.Run, output string, toolCalls []store.ToolCall) {
	f.calls++
	f.run = run
}

func newTestEnv(t *testing.T, rn runner.Runner, ev Evaluator) (*Executor, *store.Store, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.OrchestratorDir = t.TempDir()
	cfg.Paths.ProjectsDir = t.TempDir()
	cfg.Store.DatabasePath = filepath.Join(cfg.Paths.OrchestratorDir, "conductor.db")

	st, err := store.Open(cfg.Store.DatabasePath, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(st, rn, cfg, zap.NewNop(), ev), st, cfg
}

func seedTask(t *testing.T, st *store.Store, cfg config.Config, projectID string) store.Task {
	t.Helper()
	require.NoError(t, st.UpsertProject(store.Project{
		ID:             projectID,
		LocalDirectory: projectID,
	}))
	require.NoError(t, os.MkdirAll(cfg.ProjectDir(projectID), 0755))
	id, err := st.InsertTask(store.Task{ProjectID: projectID, Title: "add logging"})
	require.NoError(t, err)
	task, err := st.GetTask(id)
	require.NoError(t, err)
	return task
}

func TestExecuteTaskSuccess(t *testing.T) {
	output := "Reading file: main.go\n完了しました\n" +
		"```summary\n現在の状態: 実装中\n次の予定: テスト\n最近の進捗: ログ整備\n```\n" +
		"```suggestions\n1. テスト追加 - カバレッジを上げる\n```\n"
	rn := &fakeRunner{result: &runner.Result{ExitCode: 0, Stdout: output, Duration: 3 * time.Second}}
	ev := &fakeEvaluator{}
	exec, st, cfg := newTestEnv(t, rn, ev)
	task := seedTask(t, st, cfg, "alpha")

	require.NoError(t, exec.ExecuteTask(context.Background(), task))

	// Assistant invocation contract.
	require.Len(t, rn.commands, 1)
	cmd := rn.commands[0]
	assert.Equal(t, "claude", cmd.Binary)
	assert.Equal(t, []string{"--dangerously-skip-permissions", "--print"}, cmd.Args)
	assert.Equal(t, cfg.ProjectDir("alpha"), cmd.Dir)
	assert.Contains(t, cmd.Stdin, "add logging")
	assert.Equal(t, cfg.RunTimeout(), cmd.Timeout)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskDone, got.Status)
	assert.True(t, strings.HasPrefix(got.CompletionNote, "実行完了"))

	runs, err := st.RecentRuns("alpha", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunCompleted, runs[0].Status)
	assert.Equal(t, 0, runs[0].ExitCode)
	assert.Equal(t, 3, runs[0].DurationSeconds)

	// Full output lands on disk.
	data, err := os.ReadFile(runs[0].FullOutputPath)
	require.NoError(t, err)
	assert.Equal(t, output, string(data))

	// Artifacts.
	calls, err := st.ToolCallsByRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "Read", calls[0].ToolName)

	summary, err := st.GetProjectSummary("alpha")
	require.NoError(t, err)
	assert.Equal(t, "実装中", summary.CurrentStatus)

	sgs, err := st.SuggestionsByProject("alpha")
	require.NoError(t, err)
	require.Len(t, sgs, 1)
	assert.Equal(t, "テスト追加", sgs[0].Title)

	assert.Equal(t, 1, ev.calls)
	assert.Equal(t, runs[0].ID, ev.run.ID)
}

func TestExecuteTaskFailure(t *testing.T) {
	rn := &fakeRunner{result: &runner.Result{ExitCode: 1, Stdout: "失敗しました: ビルドエラー"}}
	exec, st, cfg := newTestEnv(t, rn, nil)
	task := seedTask(t, st, cfg, "alpha")

	err := exec.ExecuteTask(context.Background(), task)
	assert.Error(t, err)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.CompletionNote, "実行失敗"))

	runs, err := st.RecentRuns("alpha", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].ExitCode)

	// No summary or suggestions from a failed run.
	_, err = st.GetProjectSummary("alpha")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecuteTaskTimeout(t *testing.T) {
	rn := &fakeRunner{result: &runner.Result{ExitCode: -1, TimedOut: true, Duration: 600 * time.Second}}
	exec, st, cfg := newTestEnv(t, rn, nil)
	task := seedTask(t, st, cfg, "alpha")

	err := exec.ExecuteTask(context.Background(), task)
	assert.Error(t, err)

	runs, err := st.RecentRuns("alpha", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Equal(t, ExitTimeout, runs[0].ExitCode)
	assert.Contains(t, runs[0].StdoutPreview, "timeout")
}

func TestExecuteTaskSpawnError(t *testing.T) {
	rn := &fakeRunner{err: errors.New("fork failed")}
	exec, st, cfg := newTestEnv(t, rn, nil)
	task := seedTask(t, st, cfg, "alpha")

	err := exec.ExecuteTask(context.Background(), task)
	assert.Error(t, err)

	runs, err := st.RecentRuns("alpha", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ExitSpawnError, runs[0].ExitCode)
	assert.Contains(t, runs[0].StdoutPreview, "spawn error")
}

func TestExecuteTaskMissingProjectDir(t *testing.T) {
	rn := &fakeRunner{result: &runner.Result{ExitCode: 0}}
	exec, st, cfg := newTestEnv(t, rn, nil)
	require.NoError(t, st.UpsertProject(store.Project{ID: "ghost", LocalDirectory: "ghost"}))
	id, err := st.InsertTask(store.Task{ProjectID: "ghost", Title: "work"})
	require.NoError(t, err)
	task, err := st.GetTask(id)
	require.NoError(t, err)

	err = exec.ExecuteTask(context.Background(), task)
	assert.Error(t, err)

	// The assistant is never spawned without a working tree.
	assert.Empty(t, rn.commands)
	_ = cfg

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, got.Status)

	runs, err := st.RecentRuns("ghost", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Equal(t, -1, runs[0].ExitCode)
}

func TestExecuteTaskUnknownProject(t *testing.T) {
	rn := &fakeRunner{result: &runner.Result{ExitCode: 0}}
	exec, st, _ := newTestEnv(t, rn, nil)
	id, err := st.InsertTask(store.Task{ProjectID: "nowhere", Title: "work"})
	require.NoError(t, err)
	task, err := st.GetTask(id)
	require.NoError(t, err)

	err = exec.ExecuteTask(context.Background(), task)
	assert.Error(t, err)
	assert.Empty(t, rn.commands)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, got.Status)
}

// cancelSensitiveRunner refuses to run once its context is canceled,
// the way a subprocess tied to the shutdown signal would be killed.
type cancelSensitiveRunner struct {
	commands []runner.Command
}

func (c *cancelSensitiveRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	c.commands = append(c.commands, cmd)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &runner.Result{ExitCode: 0, Stdout: "完了しました", Duration: time.Second}, nil
}

func TestExecuteTaskSurvivesShutdownSignal(t *testing.T) {
	rn := &cancelSensitiveRunner{}
	exec, st, cfg := newTestEnv(t, rn, nil)
	task := seedTask(t, st, cfg, "alpha")

	// Shutdown arrives while the worker is in flight; the assistant
	// must still run to completion.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, exec.ExecuteTask(ctx, task))
	require.Len(t, rn.commands, 1)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskDone, got.Status)

	runs, err := st.RecentRuns("alpha", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunCompleted, runs[0].Status)
	assert.Equal(t, 0, runs[0].ExitCode)
}

func TestExecuteTaskNotesKeepRuneBoundary(t *testing.T) {
	long := strings.Repeat("あ", 400) // 1200 bytes, over the failure note cap
	rn := &fakeRunner{result: &runner.Result{ExitCode: 1, Stdout: long}}
	exec, st, cfg := newTestEnv(t, rn, nil)
	task := seedTask(t, st, cfg, "alpha")

	assert.Error(t, exec.ExecuteTask(context.Background(), task))

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got.CompletionNote))
	body := strings.TrimPrefix(got.CompletionNote, "実行失敗\n\n")
	assert.LessOrEqual(t, len(body), 500)
	assert.Greater(t, len(body), 490)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("語", 10) // 30 bytes
	got := truncate(s, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("語", 3), got)

	// ASCII and under-limit inputs pass through untouched.
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
}

func TestBuildRunPromptEmbedsInstruction(t *testing.T) {
	prompt := BuildRunPrompt("alpha", "fix the login bug")
	assert.Contains(t, prompt, "alpha")
	assert.Contains(t, prompt, "fix the login bug")
	assert.Contains(t, prompt, "```summary")
	assert.Contains(t, prompt, "```suggestions")
}

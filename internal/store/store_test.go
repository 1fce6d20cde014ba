package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "conductor.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.UpsertProject(Project{
		ID:             id,
		LocalDirectory: id + "-dir",
		SessionName:    id + "-session",
	}))
}

func TestProjectUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	p, err := s.GetProject("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha-dir", p.LocalDirectory)

	// Upsert overwrites in place.
	require.NoError(t, s.UpsertProject(Project{ID: "alpha", LocalDirectory: "new-dir"}))
	p, err = s.GetProject("alpha")
	require.NoError(t, err)
	assert.Equal(t, "new-dir", p.LocalDirectory)

	_, err = s.GetProject("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	id, err := s.InsertTask(Task{ProjectID: "alpha", Title: "add tests"})
	require.NoError(t, err)

	task, err := s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.Status)
	assert.Nil(t, task.CompletedAt)

	require.NoError(t, s.UpdateTaskStatus(id, TaskInProgress, ""))
	task, err = s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, task.Status)

	require.NoError(t, s.UpdateTaskStatus(id, TaskDone, "all good"))
	task, err = s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskDone, task.Status)
	assert.Equal(t, "all good", task.CompletionNote)
	require.NotNil(t, task.CompletedAt)
}

func TestTaskTerminalStatusIsFinal(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	id, err := s.InsertTask(Task{ProjectID: "alpha", Title: "one shot"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskStatus(id, TaskFailed, "broke"))

	// Attempts to leave a terminal state are silently ignored.
	require.NoError(t, s.UpdateTaskStatus(id, TaskDone, "nope"))
	require.NoError(t, s.UpdateTaskStatus(id, TaskInProgress, ""))

	task, err := s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, "broke", task.CompletionNote)
}

func TestIgnoredTerminalTransitionNotLoggedAsUpdate(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s, err := Open(filepath.Join(t.TempDir(), "conductor.db"), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	seedProject(t, s, "alpha")

	id, err := s.InsertTask(Task{ProjectID: "alpha", Title: "one shot"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskStatus(id, TaskFailed, "broke"))
	updates := logs.FilterMessage("task status updated").Len()

	// The guard swallows this; the log must not claim a transition.
	require.NoError(t, s.UpdateTaskStatus(id, TaskDone, "late"))
	assert.Equal(t, updates, logs.FilterMessage("task status updated").Len())

	task, err := s.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
}

func TestPendingTasksOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	base := time.Now().UTC().Add(-time.Hour)
	for i, title := range []string{"first", "second", "third"} {
		_, err := s.InsertTask(Task{
			ProjectID: "alpha",
			Title:     title,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	tasks, err := s.PendingTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "first", tasks[0].Title)
	assert.Equal(t, "second", tasks[1].Title)
	assert.Equal(t, "third", tasks[2].Title)

	// Dispatched tasks leave the pending queue.
	require.NoError(t, s.UpdateTaskStatus(tasks[0].ID, TaskInProgress, ""))
	tasks, err = s.PendingTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "second", tasks[0].Title)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)

	runID, err := s.InsertRun(Run{
		TaskID:         taskID,
		ProjectID:      "alpha",
		Instruction:    "work",
		TimeoutSeconds: 600,
	})
	require.NoError(t, err)

	run, err := s.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	err = s.CompleteRun(runID, RunCompleted, 0, "done", "/tmp/run_1.log", 42*time.Second)
	require.NoError(t, err)

	run, err = s.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 0, run.ExitCode)
	assert.Equal(t, "done", run.StdoutPreview)
	assert.Equal(t, 42, run.DurationSeconds)
	require.NotNil(t, run.CompletedAt)

	// A terminal run is never transitioned again.
	err = s.CompleteRun(runID, RunFailed, 1, "late", "", time.Second)
	require.NoError(t, err)
	run, err = s.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, "done", run.StdoutPreview)
}

func TestCompleteRunRejectsNonTerminalStatus(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)
	runID, err := s.InsertRun(Run{TaskID: taskID, ProjectID: "alpha"})
	require.NoError(t, err)

	err = s.CompleteRun(runID, RunRunning, 0, "", "", 0)
	assert.Error(t, err)
}

func TestCompleteRunTruncatesPreview(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)
	runID, err := s.InsertRun(Run{TaskID: taskID, ProjectID: "alpha"})
	require.NoError(t, err)

	long := make([]byte, 9000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, s.CompleteRun(runID, RunCompleted, 0, string(long), "", time.Second))

	run, err := s.GetRun(runID)
	require.NoError(t, err)
	assert.Len(t, run.StdoutPreview, stdoutPreviewLimit)
}

func TestCompleteRunPreviewKeepsRuneBoundary(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)
	runID, err := s.InsertRun(Run{TaskID: taskID, ProjectID: "alpha"})
	require.NoError(t, err)

	// 6000 bytes of three-byte runes; the cap falls mid-rune.
	long := strings.Repeat("あ", 2000)
	require.NoError(t, s.CompleteRun(runID, RunCompleted, 0, long, "", time.Second))

	run, err := s.GetRun(runID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(run.StdoutPreview))
	assert.LessOrEqual(t, len(run.StdoutPreview), stdoutPreviewLimit)
	assert.Equal(t, strings.Repeat("あ", 1666), run.StdoutPreview)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := s.InsertRun(Run{
			TaskID:    taskID,
			ProjectID: "alpha",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := s.RecentRuns("alpha", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[3], runs[0].ID)
	assert.Equal(t, ids[2], runs[1].ID)
	assert.Equal(t, ids[1], runs[2].ID)
}

func TestReconcileStaleRuns(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "crashed"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskStatus(taskID, TaskInProgress, ""))

	staleID, err := s.InsertRun(Run{
		TaskID:    taskID,
		ProjectID: "alpha",
		CreatedAt: time.Now().UTC().Add(-3 * time.Hour),
	})
	require.NoError(t, err)

	freshTask, err := s.InsertTask(Task{ProjectID: "alpha", Title: "live"})
	require.NoError(t, err)
	freshID, err := s.InsertRun(Run{TaskID: freshTask, ProjectID: "alpha"})
	require.NoError(t, err)

	count, err := s.ReconcileStaleRuns(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stale, err := s.GetRun(staleID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, stale.Status)

	task, err := s.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)

	fresh, err := s.GetRun(freshID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, fresh.Status)
}

func TestToolCallsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)
	runID, err := s.InsertRun(Run{TaskID: taskID, ProjectID: "alpha"})
	require.NoError(t, err)

	calls := []ToolCall{
		{SequenceNumber: 0, ToolName: "Read", Parameters: map[string]string{"file_path": "main.go"}, Category: CategoryFileOperation, Success: true},
		{SequenceNumber: 1, ToolName: "Bash", Parameters: map[string]string{"command": "go vet ./..."}, Category: CategoryCommandExecution, Success: true},
	}
	require.NoError(t, s.InsertToolCalls(runID, calls))

	got, err := s.ToolCallsByRun(runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Read", got[0].ToolName)
	assert.Equal(t, "main.go", got[0].Parameters["file_path"])
	assert.Equal(t, CategoryCommandExecution, got[1].Category)
}

func TestEvaluationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")
	taskID, err := s.InsertTask(Task{ProjectID: "alpha", Title: "work"})
	require.NoError(t, err)
	runID, err := s.InsertRun(Run{TaskID: taskID, ProjectID: "alpha"})
	require.NoError(t, err)

	err = s.InsertEvaluation(Evaluation{
		RunID:                  runID,
		TaskID:                 taskID,
		OverallScore:           7.5,
		FailureCategory:        "",
		EvaluationDetails:      "solid",
		ImprovementSuggestions: []string{"add a lint skill"},
		ToolUsageAnalysis:      map[string]any{"skill_effectiveness": map[string]any{"missing_skills": []any{"lint"}}},
		ErrorPatterns:          []string{},
		Evaluator:              "test",
	})
	require.NoError(t, err)

	evals, err := s.EvaluationsByRuns([]int64{runID})
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, 7.5, evals[0].OverallScore)
	assert.Empty(t, evals[0].FailureCategory)
	assert.Equal(t, []string{"add a lint skill"}, evals[0].ImprovementSuggestions)
	skills, ok := evals[0].ToolUsageAnalysis["skill_effectiveness"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"lint"}, skills["missing_skills"])
}

func TestProjectSummaryUpsert(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	require.NoError(t, s.UpsertProjectSummary(ProjectSummary{
		ProjectID:     "alpha",
		CurrentStatus: "building",
		NextMilestone: "testing",
	}))
	require.NoError(t, s.UpsertProjectSummary(ProjectSummary{
		ProjectID:     "alpha",
		CurrentStatus: "testing",
		NextMilestone: "release",
	}))

	summary, err := s.GetProjectSummary("alpha")
	require.NoError(t, err)
	assert.Equal(t, "testing", summary.CurrentStatus)
	assert.Equal(t, "release", summary.NextMilestone)
}

func TestImprovementsSinceHonorsCutoff(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	_, err := s.InsertImprovement(Improvement{
		ProjectID:   "alpha",
		TriggerType: TriggerLowScore,
		AppliedAt:   time.Now().UTC().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	_, err = s.InsertImprovement(Improvement{
		ProjectID:   "alpha",
		TriggerType: TriggerConsecutiveFailures,
		TargetFiles: []string{".claude/skills/lint.md"},
	})
	require.NoError(t, err)

	recent, err := s.ImprovementsSince("alpha", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, TriggerConsecutiveFailures, recent[0].TriggerType)
	assert.Equal(t, []string{".claude/skills/lint.md"}, recent[0].TargetFiles)
}

func TestKnowledgeAssetDefaults(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "alpha")

	require.NoError(t, s.InsertKnowledgeAsset(KnowledgeAsset{
		ProjectID:     "alpha",
		AssetType:     AssetSkill,
		FilePath:      ".claude/skills/lint.md",
		Content:       "# lint",
		ContentHash:   "abc",
		AutoGenerated: true,
		CreatedBy:     "test",
	}))

	assets, err := s.KnowledgeAssetsByProject("alpha")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, 1, assets[0].Version)
	assert.True(t, assets[0].AutoGenerated)
}

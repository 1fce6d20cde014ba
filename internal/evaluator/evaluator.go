// Package evaluator grades finished runs with a second assistant
// invocation. Evaluation is strictly advisory: any failure here is
// logged and swallowed, and run and task statuses are never touched.
package evaluator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"conductor/internal/config"
	"conductor/internal/parser"
	"conductor/internal/runner"
	"conductor/internal/store"
)

// evaluatorName identifies the grading model family in evaluation rows.
const evaluatorName = "claude_code_self"

// Evaluator asks the assistant to grade its own run.
type Evaluator struct {
	store  *store.Store
	runner runner.Runner
	cfg    config.Config
	logger *zap.Logger
}

// New creates an evaluator.
func New(st *store.Store, rn runner.Runner, cfg config.Config, logger *zap.Logger) *Evaluator {
	return &Evaluator{store: st, runner: rn, cfg: cfg, logger: logger}
}

// Evaluate grades one finished run and persists the result. Never
// returns anything: a lost evaluation must not fail the run it grades.
func (e *Evaluator) Evaluate(ctx context.Context, run store.Run, output string, toolCalls []store.ToolCall) {
	log := e.logger.With(
		zap.Int64("run_id", run.ID),
		zap.String("project_id", run.ProjectID))

	project, err := e.store.GetProject(run.ProjectID)
	if err != nil {
		log.Warn("evaluation skipped, project not resolvable", zap.Error(err))
		return
	}

	prompt := BuildEvalPrompt(run, output, toolCalls)
	// The grading pass belongs to a run already in flight; shutdown must
	// not kill it. The timeout is the only bound.
	result, err := e.runner.Run(context.WithoutCancel(ctx), runner.Command{
		Binary:  e.cfg.Assistant.Binary,
		Args:    []string{"--dangerously-skip-permissions", "--print"},
		Dir:     e.cfg.ProjectDir(project.LocalDirectory),
		Stdin:   prompt,
		Timeout: e.cfg.EvalTimeout(),
	})
	if err != nil {
		log.Warn("evaluation run failed to start", zap.Error(err))
		return
	}
	if !result.Ok() {
		log.Warn("evaluation run failed",
			zap.Int("exit_code", result.ExitCode),
			zap.Bool("timed_out", result.TimedOut))
		return
	}

	payload, err := parser.ParseEvaluation(result.Combined())
	if err != nil {
		log.Warn("evaluation reply not parseable", zap.Error(err))
		return
	}

	ev := store.Evaluation{
		RunID:                  run.ID,
		TaskID:                 run.TaskID,
		OverallScore:           payload.OverallScore,
		FailureCategory:        payload.FailureCategory,
		EvaluationDetails:      payload.EvaluationDetails,
		ImprovementSuggestions: payload.ImprovementSuggestions,
		ToolUsageAnalysis:      payload.MergedToolUsageAnalysis(),
		ErrorPatterns:          payload.ErrorPatterns,
		Evaluator:              evaluatorName,
	}
	if err := e.store.InsertEvaluation(ev); err != nil {
		log.Warn("failed to save evaluation", zap.Error(err))
		return
	}

	details, _ := json.Marshal(map[string]any{
		"overall_score":    payload.OverallScore,
		"failure_category": payload.FailureCategory,
	})
	log.Info("run evaluated", zap.ByteString("grade", details))
}

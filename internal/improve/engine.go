// Package improve is the self-improvement engine. It periodically scans
// each project's recent runs for failure patterns, aggregates the
// evaluator's suggestions, and drives an assistant invocation on a
// fresh branch to rework the project's skill and agent configuration.
// Applied improvements stay on their branch for human review.
package improve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"conductor/internal/config"
	"conductor/internal/parser"
	"conductor/internal/runner"
	"conductor/internal/store"
)

const (
	branchPrefix  = "auto-improvement-"
	engineCreator = "improvement_engine"

	// Trigger windows over each project's run history.
	failureWindow  = 10
	failureStreak  = 3
	scoreWindow    = 5
	scoreThreshold = 5.0

	gitTimeout = 60 * time.Second
)

// AssistantInvoker runs the assistant with an arbitrary prompt inside a
// project directory. The run executor provides it.
type AssistantInvoker interface {
	Invoke(ctx context.Context, dir, prompt string, timeout time.Duration, tempKey string) *runner.Result
}

// Trigger describes why an improvement fires for a project.
type Trigger struct {
	Type    string
	RunIDs  []int64
	Details string // JSON payload stored with the history row

	// BeforeAvgScore is the mean evaluation score across the trigger's
	// runs, zero when no evaluations exist.
	BeforeAvgScore float64
}

// Material is the deduplicated improvement input aggregated across the
// trigger's evaluations.
type Material struct {
	Suggestions       []string
	IneffectiveSkills []string
	MissingSkills     []string
	AgentSuggestions  []string
}

// empty reports whether there is nothing actionable to prompt with.
func (m Material) empty() bool {
	return len(m.Suggestions) == 0 && len(m.MissingSkills) == 0
}

// Engine scans projects and applies improvements.
type Engine struct {
	store     *store.Store
	runner    runner.Runner
	assistant AssistantInvoker
	cfg       config.Config
	logger    *zap.Logger
}

// New creates an improvement engine.
func New(st *store.Store, rn runner.Runner, assistant AssistantInvoker, cfg config.Config, logger *zap.Logger) *Engine {
	return &Engine{store: st, runner: rn, assistant: assistant, cfg: cfg, logger: logger}
}

// Sweep runs one full pass over all projects, synchronously, one
// project at a time. A failure in one project never aborts the sweep.
func (e *Engine) Sweep(ctx context.Context) {
	projects, err := e.store.ListProjects()
	if err != nil {
		e.logger.Error("improvement sweep aborted, cannot list projects", zap.Error(err))
		return
	}
	e.logger.Info("improvement sweep started", zap.Int("projects", len(projects)))

	for _, project := range projects {
		if ctx.Err() != nil {
			e.logger.Info("improvement sweep canceled")
			return
		}
		if err := e.ImproveProject(ctx, project); err != nil {
			e.logger.Error("project improvement pass failed",
				zap.String("project_id", project.ID),
				zap.Error(err))
		}
	}
	e.logger.Info("improvement sweep finished")
}

// ImproveProject runs the cooldown check, trigger detection and, when a
// trigger fires, the branch-prompt-commit application for one project.
func (e *Engine) ImproveProject(ctx context.Context, project store.Project) error {
	log := e.logger.With(zap.String("project_id", project.ID))

	recent, err := e.store.ImprovementsSince(project.ID, time.Now().Add(-e.cfg.Cooldown()))
	if err != nil {
		return fmt.Errorf("cooldown check failed: %w", err)
	}
	if len(recent) > 0 {
		log.Debug("improvement skipped, cooldown active",
			zap.Time("last_applied", recent[0].AppliedAt))
		return nil
	}

	trigger, ok, err := e.detectTrigger(project.ID)
	if err != nil {
		return fmt.Errorf("trigger detection failed: %w", err)
	}
	if !ok {
		log.Debug("no improvement trigger")
		return nil
	}
	log.Info("improvement trigger fired",
		zap.String("trigger_type", trigger.Type),
		zap.Int64s("run_ids", trigger.RunIDs))

	material, err := e.aggregate(trigger.RunIDs)
	if err != nil {
		return fmt.Errorf("suggestion aggregation failed: %w", err)
	}
	if material.empty() {
		log.Info("improvement skipped, no actionable material")
		return nil
	}

	return e.apply(ctx, project, trigger, material, log)
}

// detectTrigger evaluates the trigger conditions in priority order:
// consecutive failures first, then low average score.
func (e *Engine) detectTrigger(projectID string) (Trigger, bool, error) {
	runs, err := e.store.RecentRuns(projectID, failureWindow)
	if err != nil {
		return Trigger{}, false, err
	}

	if trigger, ok, err := e.consecutiveFailures(runs); err != nil || ok {
		return trigger, ok, err
	}
	return e.lowScore(runs)
}

func (e *Engine) consecutiveFailures(runs []store.Run) (Trigger, bool, error) {
	if len(runs) < failureStreak {
		return Trigger{}, false, nil
	}
	streak := runs[:failureStreak]
	for _, r := range streak {
		if r.Status != store.RunFailed {
			return Trigger{}, false, nil
		}
	}

	runIDs := make([]int64, len(streak))
	for i, r := range streak {
		runIDs[i] = r.ID
	}
	evals, err := e.store.EvaluationsByRuns(runIDs)
	if err != nil {
		return Trigger{}, false, err
	}
	if len(evals) < failureStreak {
		return Trigger{}, false, nil
	}

	category := evals[0].FailureCategory
	if category == "" {
		return Trigger{}, false, nil
	}
	var scoreSum float64
	for _, ev := range evals {
		if ev.FailureCategory != category {
			return Trigger{}, false, nil
		}
		scoreSum += ev.OverallScore
	}

	details, _ := json.Marshal(map[string]any{
		"failure_category": category,
		"run_ids":          runIDs,
	})
	return Trigger{
		Type:           store.TriggerConsecutiveFailures,
		RunIDs:         runIDs,
		Details:        string(details),
		BeforeAvgScore: scoreSum / float64(len(evals)),
	}, true, nil
}

func (e *Engine) lowScore(runs []store.Run) (Trigger, bool, error) {
	if len(runs) < scoreWindow {
		return Trigger{}, false, nil
	}
	window := runs[:scoreWindow]
	runIDs := make([]int64, len(window))
	for i, r := range window {
		runIDs[i] = r.ID
	}

	evals, err := e.store.EvaluationsByRuns(runIDs)
	if err != nil {
		return Trigger{}, false, err
	}
	if len(evals) < scoreWindow {
		return Trigger{}, false, nil
	}

	var sum float64
	scores := make([]float64, len(evals))
	for i, ev := range evals {
		scores[i] = ev.OverallScore
		sum += ev.OverallScore
	}
	mean := sum / float64(len(evals))
	if mean >= scoreThreshold {
		return Trigger{}, false, nil
	}

	details, _ := json.Marshal(map[string]any{
		"average_score": mean,
		"scores":        scores,
		"run_ids":       runIDs,
	})
	return Trigger{
		Type:           store.TriggerLowScore,
		RunIDs:         runIDs,
		Details:        string(details),
		BeforeAvgScore: mean,
	}, true, nil
}

// aggregate unions the evaluator's improvement material across the
// trigger's runs, deduplicated and in first-seen order.
func (e *Engine) aggregate(runIDs []int64) (Material, error) {
	evals, err := e.store.EvaluationsByRuns(runIDs)
	if err != nil {
		return Material{}, err
	}

	var m Material
	seen := map[string]map[string]bool{
		"suggestion":  {},
		"ineffective": {},
		"missing":     {},
		"agent":       {},
	}
	add := func(set string, dst *[]string, value string) {
		value = strings.TrimSpace(value)
		if value == "" || seen[set][value] {
			return
		}
		seen[set][value] = true
		*dst = append(*dst, value)
	}

	for _, ev := range evals {
		for _, sg := range ev.ImprovementSuggestions {
			add("suggestion", &m.Suggestions, sg)
		}
		if skills, ok := ev.ToolUsageAnalysis["skill_effectiveness"].(map[string]any); ok {
			for _, v := range stringList(skills["ineffective_skills"]) {
				add("ineffective", &m.IneffectiveSkills, v)
			}
			for _, v := range stringList(skills["missing_skills"]) {
				add("missing", &m.MissingSkills, v)
			}
		}
		if agents, ok := ev.ToolUsageAnalysis["agent_effectiveness"].(map[string]any); ok {
			if s, ok := agents["better_agent_suggestion"].(string); ok {
				add("agent", &m.AgentSuggestions, s)
			}
		}
	}
	return m, nil
}

// apply creates the improvement branch, drives the assistant, commits
// on success and rolls the branch back on failure.
func (e *Engine) apply(ctx context.Context, project store.Project, trigger Trigger, material Material, log *zap.Logger) error {
	projectDir := e.cfg.ProjectDir(project.LocalDirectory)
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return fmt.Errorf("project directory not found: %s", projectDir)
	}

	branch := branchPrefix + time.Now().Format("20060102-150405")
	if err := e.git(ctx, projectDir, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	log.Info("improvement branch created", zap.String("branch", branch))

	prompt := BuildImprovePrompt(trigger, material)
	result := e.assistant.Invoke(ctx, projectDir, prompt, e.cfg.RunTimeout(),
		fmt.Sprintf("conductor_improve_%s.txt", project.ID))
	if !result.Ok() {
		// Missing-ok on both rollback commands: the branch may hold no
		// commits, and checkout - fails on a fresh clone.
		_ = e.git(ctx, projectDir, "checkout", "-")
		_ = e.git(ctx, projectDir, "branch", "-D", branch)
		log.Error("improvement run failed, branch rolled back",
			zap.Int("exit_code", result.ExitCode),
			zap.Bool("timed_out", result.TimedOut))
		return fmt.Errorf("improvement run failed (exit %d)", result.ExitCode)
	}
	output := result.Combined()

	if err := e.git(ctx, projectDir, "add", "."); err != nil {
		_ = e.git(ctx, projectDir, "checkout", "-")
		_ = e.git(ctx, projectDir, "branch", "-D", branch)
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	if err := e.git(ctx, projectDir, "commit", "-m", commitMessage(trigger, material)); err != nil {
		_ = e.git(ctx, projectDir, "checkout", "-")
		_ = e.git(ctx, projectDir, "branch", "-D", branch)
		return fmt.Errorf("failed to commit improvement: %w", err)
	}
	log.Info("improvement committed", zap.String("branch", branch))

	e.record(project, trigger, material, output, projectDir, log)
	return nil
}

// record persists the history row and the knowledge assets parsed from
// the assistant reply. Store failures here are logged, not fatal: the
// commit already exists.
func (e *Engine) record(project store.Project, trigger Trigger, material Material, output, projectDir string, log *zap.Logger) {
	changes := parser.ParseChanges(output)
	targets := make([]string, 0, len(changes))
	for _, ch := range changes {
		targets = append(targets, ch.Path)
	}
	skills := parser.ParseSkillsCreated(output)

	summary := fmt.Sprintf("%d files changed", len(targets))
	if len(skills) > 0 {
		summary = fmt.Sprintf("%s, %d skills created", summary, len(skills))
	}
	_, err := e.store.InsertImprovement(store.Improvement{
		ProjectID:      project.ID,
		TriggerType:    trigger.Type,
		TriggerDetails: trigger.Details,
		TargetFiles:    targets,
		ChangesSummary: summary,
		BeforeAvgScore: trigger.BeforeAvgScore,
	})
	if err != nil {
		log.Error("failed to record improvement history", zap.Error(err))
	}

	for _, target := range targets {
		rel, ok := claudeRelPath(target)
		if !ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(projectDir, rel))
		if err != nil {
			log.Warn("knowledge asset file not readable",
				zap.String("file_path", target), zap.Error(err))
			continue
		}
		hash := sha256.Sum256(content)
		err = e.store.InsertKnowledgeAsset(store.KnowledgeAsset{
			ProjectID:     project.ID,
			AssetType:     ClassifyAsset(target),
			FilePath:      target,
			Content:       string(content),
			ContentHash:   hex.EncodeToString(hash[:]),
			Version:       1,
			AutoGenerated: true,
			CreatedBy:     engineCreator,
		})
		if err != nil {
			log.Warn("failed to record knowledge asset",
				zap.String("file_path", target), zap.Error(err))
		}
	}
}

// git runs one source-control command in dir with a short timeout. The
// command is detached from cancellation: killing git mid-commit would
// leave the working tree in a worse state than finishing it.
func (e *Engine) git(ctx context.Context, dir string, args ...string) error {
	result, err := e.runner.Run(context.WithoutCancel(ctx), runner.Command{
		Binary:  "git",
		Args:    args,
		Dir:     dir,
		Timeout: gitTimeout,
	})
	if err != nil {
		return err
	}
	if !result.Ok() {
		return fmt.Errorf("git %s: exit %d: %s",
			strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// ClassifyAsset maps a target file path to its knowledge asset type.
// Only paths under .claude/ are assets.
func ClassifyAsset(path string) string {
	normalized := filepath.ToSlash(path)
	switch {
	case strings.Contains(normalized, "/skills/"):
		return store.AssetSkill
	case strings.Contains(normalized, "/agents/"):
		return store.AssetAgent
	case strings.HasSuffix(normalized, "subagents.md"):
		return store.AssetSubagentConfig
	default:
		return store.AssetOther
	}
}

// claudeRelPath returns the project-relative path for a target under
// .claude/, false otherwise.
func claudeRelPath(path string) (string, bool) {
	normalized := filepath.ToSlash(path)
	idx := strings.Index(normalized, ".claude/")
	if idx < 0 {
		return "", false
	}
	return normalized[idx:], true
}

func commitMessage(trigger Trigger, material Material) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Auto-improvement: %s\n\n", trigger.Type)
	fmt.Fprintf(&b, "Trigger details: %s\n", trigger.Details)
	if len(material.Suggestions) > 0 {
		b.WriteString("\nApplied suggestions:\n")
		limit := len(material.Suggestions)
		if limit > 5 {
			limit = 5
		}
		for _, sg := range material.Suggestions[:limit] {
			fmt.Fprintf(&b, "- %s\n", sg)
		}
	}
	return b.String()
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

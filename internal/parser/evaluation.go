package parser

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoEvaluation is returned when the reply carries no ```json block.
var ErrNoEvaluation = errors.New("parser: no evaluation block in output")

// EvaluationPayload is the JSON shape the evaluation prompt asks the
// assistant to emit. FailureCategory null/absent means no failure was
// classified. SkillEffectiveness and AgentEffectiveness arrive as
// top-level objects and are merged into ToolUsageAnalysis before
// persistence.
type EvaluationPayload struct {
	OverallScore           float64        `json:"overall_score"`
	FailureCategory        string         `json:"failure_category"`
	EvaluationDetails      string         `json:"evaluation_details"`
	ImprovementSuggestions []string       `json:"improvement_suggestions"`
	ToolUsageAnalysis      map[string]any `json:"tool_usage_analysis"`
	SkillEffectiveness     map[string]any `json:"skill_effectiveness"`
	AgentEffectiveness     map[string]any `json:"agent_effectiveness"`
	ErrorPatterns          []string       `json:"error_patterns"`
}

// ParseEvaluation extracts and decodes the ```json block of an
// evaluation reply. ErrNoEvaluation when the fence is absent.
func ParseEvaluation(output string) (EvaluationPayload, error) {
	body, ok := FirstBlock(output, BlockJSON)
	if !ok {
		return EvaluationPayload{}, ErrNoEvaluation
	}
	var payload EvaluationPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return EvaluationPayload{}, fmt.Errorf("failed to decode evaluation JSON: %w", err)
	}
	return payload, nil
}

// MergedToolUsageAnalysis folds skill_effectiveness and
// agent_effectiveness into the tool_usage_analysis map.
func (p EvaluationPayload) MergedToolUsageAnalysis() map[string]any {
	merged := make(map[string]any, len(p.ToolUsageAnalysis)+2)
	for k, v := range p.ToolUsageAnalysis {
		merged[k] = v
	}
	if len(p.SkillEffectiveness) > 0 {
		merged["skill_effectiveness"] = p.SkillEffectiveness
	}
	if len(p.AgentEffectiveness) > 0 {
		merged["agent_effectiveness"] = p.AgentEffectiveness
	}
	return merged
}

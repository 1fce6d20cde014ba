package evaluator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"conductor/internal/store"
)

// evalOutputLimit bounds how much run output goes into the evaluation
// prompt.
const evalOutputLimit = 3000

const evalPromptTemplate = `## タスク実行の評価

以下のタスク実行を評価してください。

## 実行内容

指示: %s
成功: %s
終了コード: %d

## 使用されたスキル・エージェント

%s

## 実行出力（先頭%d文字）

%s

## 評価方法

以下のJSON形式で評価を出力してください。他のテキストは不要です。

` + "```json" + `
{
  "overall_score": 0.0から10.0の数値,
  "failure_category": "tool_usage_error | skill_ineffective | agent_misconfigured | permission_error | logic_error | timeout | unknown のいずれか。成功時はnull",
  "evaluation_details": "1-3文の評価コメント",
  "improvement_suggestions": ["改善提案"],
  "tool_usage_analysis": {"ツール使用の分析"},
  "skill_effectiveness": {"effective_skills": [], "ineffective_skills": [], "missing_skills": []},
  "agent_effectiveness": {"better_agent_suggestion": null},
  "error_patterns": ["観測されたエラーパターン"]
}
` + "```" + `
`

// BuildEvalPrompt composes the self-evaluation prompt for a finished
// run. Only skill and agent tool calls are itemized; routine file and
// shell calls would drown the signal.
func BuildEvalPrompt(run store.Run, output string, toolCalls []store.ToolCall) string {
	success := "いいえ"
	if run.Status == store.RunCompleted {
		success = "はい"
	}

	var usage []string
	for _, tc := range toolCalls {
		switch tc.Category {
		case store.CategorySkillUsage, store.CategoryAgentInvocation:
			var params []string
			for k, v := range tc.Parameters {
				params = append(params, fmt.Sprintf("%s=%s", k, v))
			}
			usage = append(usage, fmt.Sprintf("- %s (%s)", tc.ToolName, strings.Join(params, ", ")))
		}
	}
	usageText := "なし"
	if len(usage) > 0 {
		usageText = strings.Join(usage, "\n")
	}

	excerpt := output
	if len(excerpt) > evalOutputLimit {
		// Keep the cut on a rune boundary; the output is mostly Japanese.
		cut := evalOutputLimit
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
	}

	return fmt.Sprintf(evalPromptTemplate,
		run.Instruction, success, run.ExitCode, usageText, evalOutputLimit, excerpt)
}

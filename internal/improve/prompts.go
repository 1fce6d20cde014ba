package improve

import (
	"fmt"
	"strings"
)

const improvePromptTemplate = `## 自己改善タスク

このプロジェクトの最近の実行結果に問題が検出されました。
プロジェクトの設定（スキル・エージェント定義）を改善してください。

## 検出された問題

トリガー: %s
詳細: %s

## 改善材料

改善提案:
%s

効果の低いスキル:
%s

不足しているスキル:
%s

エージェント設定の提案:
%s

## 作業内容

1. .claude/skills/ 以下のスキル定義を見直し、不足スキルを作成してください
2. .claude/agents/ と .claude/subagents.md のエージェント設定を見直してください
3. 変更は最小限に留めてください

## 完了後のアクション

変更したファイルを以下の形式で報告してください：

` + "```changes" + `
[ファイルパス]: [変更内容の簡潔な説明]
` + "```" + `

新しく作成したスキルがあれば以下の形式で報告してください：

` + "```skills-created" + `
[スキル名と概要]
---
[スキル名と概要]
` + "```" + `
`

// BuildImprovePrompt composes the self-improvement prompt from the
// trigger and the aggregated material.
func BuildImprovePrompt(trigger Trigger, m Material) string {
	return fmt.Sprintf(improvePromptTemplate,
		trigger.Type,
		trigger.Details,
		bulleted(m.Suggestions),
		bulleted(m.IneffectiveSkills),
		bulleted(m.MissingSkills),
		bulleted(m.AgentSuggestions))
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "なし"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

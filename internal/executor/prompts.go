package executor

import "fmt"

// runPromptTemplate wraps the task instruction with the background
// header and the fenced-block footers the artifact parsers expect. The
// scaffold (including the summary labels) must stay in sync with
// parser.ParseSummary.
const runPromptTemplate = `## 背景

orchestrator-dashboardから指示が投入されました。
プロジェクト: %s

## 指示

%s

## 注意

- 短く簡潔に作業してください
- 完了したら「完了しました」と報告してください
- エラーが発生したら「失敗しました: [理由]」と報告してください

## 完了後のアクション

タスク完了後、以下を出力してください：

1. プロジェクトの現在の状態を1-2文で要約（何を実装中で、次に何をする予定か）：

` + "```summary" + `
現在の状態: [1-2文で要約]
次の予定: [1文で要約]
最近の進捗: [1文で要約]
` + "```" + `

2. このプロジェクトで次にやるべきことを3つ提案：

` + "```suggestions" + `
1. [タイトル] - [簡潔な説明]
2. [タイトル] - [簡潔な説明]
3. [タイトル] - [簡潔な説明]
` + "```" + `
`

// BuildRunPrompt composes the full instruction sent to the assistant for
// a task run.
func BuildRunPrompt(projectID, instruction string) string {
	return fmt.Sprintf(runPromptTemplate, projectID, instruction)
}

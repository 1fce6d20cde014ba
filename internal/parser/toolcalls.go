package parser

import (
	"regexp"
	"strings"

	"conductor/internal/store"
)

// toolPattern is one (tool, regexes) entry of the extraction table. The
// first capture group of every pattern is the tool's single parameter.
type toolPattern struct {
	tool     string
	paramKey string
	category string
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?im)` + e)
	}
	return out
}

// toolTable drives the trace reconstruction. Order is fixed so repeated
// parses of the same output assign identical sequence numbers.
var toolTable = []toolPattern{
	{
		tool: "Read", paramKey: "file_path", category: store.CategoryFileOperation,
		patterns: compile(
			`Reading file[:\s]+([^\n]+)`,
			`Read\s+tool.*file_path[:\s]+([^\n]+)`,
			`cat\s+-n\s+([^\s]+)`,
		),
	},
	{
		tool: "Write", paramKey: "file_path", category: store.CategoryFileOperation,
		patterns: compile(
			`Writing to file[:\s]+([^\n]+)`,
			`Write\s+tool.*file_path[:\s]+([^\n]+)`,
			`Created file[:\s]+([^\n]+)`,
		),
	},
	{
		tool: "Edit", paramKey: "file_path", category: store.CategoryFileOperation,
		patterns: compile(
			`Editing file[:\s]+([^\n]+)`,
			`Edit\s+tool.*file_path[:\s]+([^\n]+)`,
			`Modified file[:\s]+([^\n]+)`,
		),
	},
	{
		tool: "Bash", paramKey: "command", category: store.CategoryCommandExecution,
		patterns: compile(
			`Running command[:\s]+(.+?)(?:\n|$)`,
			`Bash\s+tool.*command[:\s]+(.+?)(?:\n|$)`,
			`Executing[:\s]+(.+?)(?:\n|$)`,
		),
	},
	{
		tool: "Glob", paramKey: "pattern", category: store.CategorySearch,
		patterns: compile(
			`Searching for files matching[:\s]+([^\n]+)`,
			`Glob\s+tool.*pattern[:\s]+([^\n]+)`,
			`Finding files[:\s]+([^\n]+)`,
		),
	},
	{
		tool: "Grep", paramKey: "pattern", category: store.CategorySearch,
		patterns: compile(
			`Searching for pattern[:\s]+([^\n]+)`,
			`Grep\s+tool.*pattern[:\s]+([^\n]+)`,
			`Grepping for[:\s]+([^\n]+)`,
		),
	},
	{
		tool: "Skill", paramKey: "skill", category: store.CategorySkillUsage,
		patterns: compile(
			`Using skill[:\s]+([^\n]+)`,
			`Skill\s+tool.*skill[:\s]+([^\n]+)`,
			`Invoking skill[:\s]+([^\n]+)`,
		),
	},
	{
		tool: "Task", paramKey: "subagent_type", category: store.CategoryAgentInvocation,
		patterns: compile(
			`Launching agent[:\s]+([^\n]+)`,
			`Task\s+tool.*subagent_type[:\s]+([^\n]+)`,
			`Delegating to subagent[:\s]+([^\n]+)`,
		),
	},
}

// ParseToolCalls reconstructs the assistant's tool trace from raw
// output. Sequence numbers follow table discovery order; a match in the
// output is taken to mean the call executed.
func ParseToolCalls(output string) []store.ToolCall {
	var calls []store.ToolCall
	sequence := 0

	for _, entry := range toolTable {
		for _, pattern := range entry.patterns {
			for _, m := range pattern.FindAllStringSubmatch(output, -1) {
				value := strings.TrimSpace(m[1])
				if value == "" {
					continue
				}
				calls = append(calls, store.ToolCall{
					SequenceNumber: sequence,
					ToolName:       entry.tool,
					Parameters:     map[string]string{entry.paramKey: value},
					Category:       entry.category,
					Success:        true,
				})
				sequence++
			}
		}
	}
	return calls
}

// Package parser extracts semi-structured artifacts from assistant
// output: the tool-call trace, tagged fenced blocks (summary,
// suggestions, changes, skills-created) and the evaluation JSON payload.
// Everything here is best-effort: a missing marker yields an empty
// result, never an error.
package parser

import (
	"strings"
)

// BlockTag identifies a fenced block the orchestrator knows how to
// interpret. The set is closed; unknown tags are ignored by the scanner.
type BlockTag string

const (
	BlockSummary       BlockTag = "summary"
	BlockSuggestions   BlockTag = "suggestions"
	BlockChanges       BlockTag = "changes"
	BlockSkillsCreated BlockTag = "skills-created"
	BlockJSON          BlockTag = "json"
)

var knownTags = map[BlockTag]bool{
	BlockSummary:       true,
	BlockSuggestions:   true,
	BlockChanges:       true,
	BlockSkillsCreated: true,
	BlockJSON:          true,
}

// Block is one tagged fenced block found in assistant output.
type Block struct {
	Tag  BlockTag
	Body string
}

// ScanBlocks walks the output line by line and emits every known tagged
// block in order of appearance. An unterminated fence is emitted with
// whatever body was accumulated.
func ScanBlocks(output string) []Block {
	var blocks []Block
	var current *Block
	var body []string

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if current != nil {
			if trimmed == "```" {
				current.Body = strings.Join(body, "\n")
				blocks = append(blocks, *current)
				current = nil
				body = nil
				continue
			}
			body = append(body, line)
			continue
		}
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		tag := BlockTag(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
		if knownTags[tag] {
			current = &Block{Tag: tag}
		}
	}
	if current != nil {
		current.Body = strings.Join(body, "\n")
		blocks = append(blocks, *current)
	}
	return blocks
}

// FirstBlock returns the body of the first block with the given tag.
func FirstBlock(output string, tag BlockTag) (string, bool) {
	for _, b := range ScanBlocks(output) {
		if b.Tag == tag {
			return b.Body, true
		}
	}
	return "", false
}

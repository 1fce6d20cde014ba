package parser

import (
	"regexp"
	"strings"
)

// Summary is the parsed payload of a ```summary block. The three labels
// match the prompt scaffold sent to the assistant.
type Summary struct {
	CurrentStatus  string
	NextMilestone  string
	RecentProgress string
}

// Empty reports whether no labeled line carried content.
func (s Summary) Empty() bool {
	return s.CurrentStatus == "" && s.NextMilestone == "" && s.RecentProgress == ""
}

// Suggestion is one parsed line of a ```suggestions block.
type Suggestion struct {
	Title       string
	Description string
}

// Change is one parsed line of a ```changes block; Path is everything up
// to the first colon.
type Change struct {
	Path        string
	Description string
}

// ParseSummary extracts the labeled summary lines. Returns false when
// the block is absent or carries no labeled content.
func ParseSummary(output string) (Summary, bool) {
	body, ok := FirstBlock(output, BlockSummary)
	if !ok {
		return Summary{}, false
	}

	var s Summary
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "現在の状態:"):
			s.CurrentStatus = strings.TrimSpace(strings.TrimPrefix(line, "現在の状態:"))
		case strings.HasPrefix(line, "次の予定:"):
			s.NextMilestone = strings.TrimSpace(strings.TrimPrefix(line, "次の予定:"))
		case strings.HasPrefix(line, "最近の進捗:"):
			s.RecentProgress = strings.TrimSpace(strings.TrimPrefix(line, "最近の進捗:"))
		}
	}
	if s.Empty() {
		return Summary{}, false
	}
	return s, true
}

// suggestionLine matches "<n>. <title> - <description>".
var suggestionLine = regexp.MustCompile(`^\d+\.\s*(.+?)\s*-\s*(.+)$`)

// ParseSuggestions extracts the numbered suggestion lines. Lines that do
// not match the expected shape are skipped.
func ParseSuggestions(output string) []Suggestion {
	body, ok := FirstBlock(output, BlockSuggestions)
	if !ok {
		return nil
	}

	var out []Suggestion
	for _, line := range strings.Split(body, "\n") {
		m := suggestionLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		out = append(out, Suggestion{
			Title:       strings.TrimSpace(m[1]),
			Description: strings.TrimSpace(m[2]),
		})
	}
	return out
}

// ParseChanges extracts "path: description" lines from a ```changes
// block.
func ParseChanges(output string) []Change {
	body, ok := FirstBlock(output, BlockChanges)
	if !ok {
		return nil
	}

	var out []Change
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		path := strings.TrimSpace(line[:idx])
		if path == "" {
			continue
		}
		out = append(out, Change{
			Path:        path,
			Description: strings.TrimSpace(line[idx+1:]),
		})
	}
	return out
}

// ParseSkillsCreated splits a ```skills-created block on "---"
// separators; each non-empty stanza documents one authored skill.
func ParseSkillsCreated(output string) []string {
	body, ok := FirstBlock(output, BlockSkillsCreated)
	if !ok {
		return nil
	}

	var out []string
	for _, stanza := range strings.Split(body, "---") {
		stanza = strings.TrimSpace(stanza)
		if stanza != "" {
			out = append(out, stanza)
		}
	}
	return out
}

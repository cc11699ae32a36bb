package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/steward/pkg/models"
)

const truncationMarker = "…[truncated]"

// buildConversation returns the planning conversation: the override when supplied, else the
// thread history, with the prompt appended unless it is already the trailing user turn.
// The result is bounded to the last window turns.
func buildConversation(override []Turn, history []models.ThreadMessage, prompt string, window int) []Turn {
	var turns []Turn
	if override != nil {
		turns = make([]Turn, 0, len(override)+1)
		for _, t := range override {
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			turns = append(turns, t)
		}
	} else {
		turns = make([]Turn, 0, len(history)+1)
		for _, m := range history {
			if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
				continue
			}
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			turns = append(turns, Turn{Role: m.Role, Text: m.Text})
		}
	}

	prompt = strings.TrimSpace(prompt)
	if n := len(turns); n == 0 || turns[n-1].Role != models.RoleUser || strings.TrimSpace(turns[n-1].Text) != prompt {
		turns = append(turns, Turn{Role: models.RoleUser, Text: prompt})
	}

	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	return turns
}

// buildSystemInstruction concatenates the memory block, attached context and persona.
func buildSystemInstruction(memoryBlock string, items []ContextItem, opts Options, now time.Time) string {
	sections := make([]string, 0, 3)

	if block := strings.TrimSpace(memoryBlock); block != "" {
		sections = append(sections, block)
	}

	if len(items) > 0 && opts.MaxContextItems > 0 {
		if len(items) > opts.MaxContextItems {
			items = items[:opts.MaxContextItems]
		}

		var sb strings.Builder
		sb.WriteString("Attached context:")
		for i, item := range items {
			title := truncate(strings.TrimSpace(item.Title), opts.MaxContextFieldChars)
			if title == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&sb, "\n[%d] %s", i+1, title)
			if source := truncate(strings.TrimSpace(item.Source), opts.MaxContextFieldChars); source != "" {
				fmt.Fprintf(&sb, " (%s)", source)
			}
			if content := truncate(strings.TrimSpace(item.Content), opts.MaxContextFieldChars); content != "" {
				sb.WriteString("\n")
				sb.WriteString(content)
			}
		}
		sections = append(sections, sb.String())
	}

	persona := strings.TrimSpace(opts.Persona)
	sections = append(sections, fmt.Sprintf("%s\nCurrent time: %s", persona, now.UTC().Format(time.RFC3339)))

	return strings.Join(sections, "\n\n")
}

// toolResultTurn renders an executed tool call for the planning conversation.
func toolResultTurn(toolName string, args map[string]interface{}, output map[string]interface{}, max int) Turn {
	payload, err := json.Marshal(map[string]interface{}{
		"tool":   toolName,
		"args":   args,
		"output": output,
	})
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"tool":%q,"error":"unencodable output"}`, toolName))
	}
	return Turn{Role: models.RoleTool, Text: truncate(string(payload), max)}
}

// truncate caps s at max runes, marking the cut.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	marker := []rune(truncationMarker)
	if max <= len(marker) {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-len(marker)]) + truncationMarker
}

func threadTitle(prompt string) string {
	return truncate(strings.Join(strings.Fields(prompt), " "), 80)
}

package analyzer

import (
	"fmt"
	"strings"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// Template placeholders recognized in flow-level prompt overrides.
const (
	placeholderThread  = "{{thread}}"
	placeholderDomains = "{{domains}}"
)

const defaultSummaryPrompt = `You are summarizing a team discussion thread.

Discussion:
{{thread}}

{{domains}}

Respond with a single JSON object:
{
  "text": "2-4 sentence summary of the discussion",
  "key_points": ["list of the key points raised"],
  "sentiment": "positive" | "neutral" | "negative" | null,
  "confidence": 0.0-1.0 or null,
  "domain": "one of the available domains" | null
}

Return null for any field you are not confident about instead of guessing.
Output only the JSON object, no other text.`

const defaultTaskPrompt = `You are extracting actionable tasks from a team discussion thread.

Discussion:
{{thread}}

{{domains}}

Mentions in the discussion may appear as "@Name (user-id)"; when assigning a
task to such a user, put the user-id in the "assignee" field.

Respond with a single JSON object:
{
  "is_multi_task": true | false,
  "confidence": 0.0-1.0 or null,
  "tasks": [
    {
      "title": "short imperative task title",
      "description": "what needs to be done and why",
      "priority": "low" | "medium" | "high" | "urgent" | null,
      "type": "bug" | "feature" | "question" | "improvement" | null,
      "assignee": "user-id" | null,
      "due_date": "YYYY-MM-DD" | null,
      "tags": ["relevant", "tags"] | null,
      "domain": "one of the available domains" | null,
      "action_items": ["concrete steps"] | null
    }
  ]
}

Return null for any field you are not confident about instead of guessing.
If no actionable task is discussed, return an empty "tasks" array.
Output only the JSON object, no other text.`

// SerializeThread renders a thread for prompt injection: the root message then
// each reply, every line prefixed by its author.
func SerializeThread(t *models.Thread) string {
	var b strings.Builder
	writeMsg := func(m models.ThreadMessage) {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		if author == "" {
			author = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", author, m.Content)
	}
	writeMsg(t.Root)
	for _, reply := range t.Replies {
		writeMsg(reply)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildPrompt fills a template (flow override or default) with the serialized
// thread and the domain instruction.
func buildPrompt(template *string, fallback, thread string, domains []string) string {
	tpl := fallback
	if template != nil && *template != "" {
		tpl = *template
	}
	out := strings.ReplaceAll(tpl, placeholderThread, thread)
	return strings.ReplaceAll(out, placeholderDomains, domainInstruction(domains))
}

// domainInstruction tells the model which routing domains exist and when to
// abstain.
func domainInstruction(domains []string) string {
	if len(domains) == 0 {
		return `There are no routing domains configured; always return "domain": null.`
	}
	return fmt.Sprintf(
		`Available domains: %s. Pick the single best-matching domain for the "domain" field; return null when uncertain or when the content spans multiple domains.`,
		strings.Join(domains, ", "))
}

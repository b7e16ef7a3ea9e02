package models

import "encoding/json"

// ParsedDiscussion is the normalized form of an incoming webhook, independent
// of source type. TeamID carries the routing key: the workspace id for chat
// sources, the email slug for design-email sources.
type ParsedDiscussion struct {
	SourceType     SourceType      `json:"source_type"`
	SourceThreadID string          `json:"source_thread_id"`
	SourceURL      string          `json:"source_url"`
	TeamID         string          `json:"team_id"`
	AuthorHandle   string          `json:"author_handle"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	Participants   []string        `json:"participants,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	RawPayload     json.RawMessage `json:"-"`
}

// ThreadMessage is one message within a thread.
type ThreadMessage struct {
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Thread is the ordered root message plus replies plus the deduplicated
// participant list (first-seen order).
type Thread struct {
	SourceThreadID string          `json:"source_thread_id"`
	SourceURL      string          `json:"source_url,omitempty"`
	Root           ThreadMessage   `json:"root"`
	Replies        []ThreadMessage `json:"replies,omitempty"`
	Participants   []string        `json:"participants,omitempty"`
}

// Messages returns root plus replies in chronological order.
func (t *Thread) Messages() []ThreadMessage {
	out := make([]ThreadMessage, 0, len(t.Replies)+1)
	out = append(out, t.Root)
	out = append(out, t.Replies...)
	return out
}

// DedupeParticipants collapses duplicates preserving first-seen order.
func DedupeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

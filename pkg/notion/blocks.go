package notion

import (
	"fmt"
	"time"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// Block is one knowledge-base content block. The API's block schema is
// polymorphic, so blocks are built as generic objects through the typed
// constructors below.
type Block map[string]any

// richText is one rich-text span: plain text, a link, or a user mention.
type richText map[string]any

func text(content string) richText {
	return richText{
		"type": "text",
		"text": map[string]any{"content": content},
	}
}

func link(content, url string) richText {
	return richText{
		"type": "text",
		"text": map[string]any{
			"content": content,
			"link":    map[string]string{"url": url},
		},
	}
}

func userMention(destUserID string) richText {
	return richText{
		"type": "mention",
		"mention": map[string]any{
			"type": "user",
			"user": map[string]string{"id": destUserID},
		},
	}
}

func paragraph(spans ...richText) Block {
	return Block{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": spans},
	}
}

func callout(emoji string, spans ...richText) Block {
	return Block{
		"object": "block",
		"type":   "callout",
		"callout": map[string]any{
			"rich_text": spans,
			"icon":      map[string]string{"type": "emoji", "emoji": emoji},
		},
	}
}

func todo(content string) Block {
	return Block{
		"object": "block",
		"type":   "to_do",
		"to_do": map[string]any{
			"rich_text": []richText{text(content)},
			"checked":   false,
		},
	}
}

func bulleted(spans ...richText) Block {
	return Block{
		"object":             "block",
		"type":               "bulleted_list_item",
		"bulleted_list_item": map[string]any{"rich_text": spans},
	}
}

func toggle(title string, children []Block) Block {
	return Block{
		"object": "block",
		"type":   "toggle",
		"toggle": map[string]any{
			"rich_text": []richText{text(title)},
			"children":  children,
		},
	}
}

func divider() Block {
	return Block{
		"object":  "block",
		"type":    "divider",
		"divider": map[string]any{},
	}
}

// PageContext carries the discussion-level data shared by every task page
// created for one discussion.
type PageContext struct {
	Thread     *models.Thread
	Summary    *models.ThreadSummary
	SourceType models.SourceType
	SourceURL  string
	AuthorID   string
	Resolver   UserResolver
	CreatedAt  time.Time
}

// UserResolver resolves a source user id to its destination identity.
// Satisfied by *usermap.Snapshot.
type UserResolver interface {
	Resolve(sourceUserID string) (models.MappedUser, bool)
}

// BuildPageBody assembles the full page body for one task: summary callout,
// action-item checklist, collapsible key-points context, participant
// paragraph, divider, collapsible transcript, metadata list, and source link.
func BuildPageBody(task *models.DetectedTask, pc *PageContext) []Block {
	blocks := make([]Block, 0, 16)

	blocks = append(blocks, callout("📝", text(pc.Summary.Text)))

	if len(task.ActionItems) > 0 {
		blocks = append(blocks, paragraph(text("Action items")))
		for _, item := range task.ActionItems {
			blocks = append(blocks, todo(item))
		}
	}

	if len(pc.Summary.KeyPoints) > 0 {
		points := make([]Block, 0, len(pc.Summary.KeyPoints))
		for _, kp := range pc.Summary.KeyPoints {
			points = append(points, bulleted(text(kp)))
		}
		blocks = append(blocks, toggle("Discussion context", points))
	}

	blocks = append(blocks, participantParagraph(pc))
	blocks = append(blocks, divider())
	blocks = append(blocks, toggle("Full thread", transcriptBlocks(pc.Thread)))
	blocks = append(blocks, metadataBlocks(task, pc)...)

	if pc.SourceURL != "" {
		blocks = append(blocks, paragraph(link("View original discussion", pc.SourceURL)))
	}

	return blocks
}

// participantParagraph lists thread participants, each as a structured user
// mention when the id resolves, or literal "@id" text when it does not.
func participantParagraph(pc *PageContext) Block {
	spans := []richText{text("Participants: ")}
	for i, id := range pc.Thread.Participants {
		if i > 0 {
			spans = append(spans, text(", "))
		}
		spans = append(spans, mentionSpan(id, pc.Resolver))
	}
	return paragraph(spans...)
}

func mentionSpan(sourceUserID string, resolver UserResolver) richText {
	if resolver != nil {
		if user, ok := resolver.Resolve(sourceUserID); ok {
			return userMention(user.DestUserID)
		}
	}
	return text("@" + sourceUserID)
}

func transcriptBlocks(t *models.Thread) []Block {
	msgs := t.Messages()
	out := make([]Block, 0, len(msgs))
	for _, m := range msgs {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		out = append(out, paragraph(text(author+": "+m.Content)))
	}
	return out
}

// metadataBlocks renders the metadata list: source type, thread id, reply
// count, created-by, and the analyzer fields the task carries.
func metadataBlocks(task *models.DetectedTask, pc *PageContext) []Block {
	out := []Block{
		bulleted(text("Source: " + string(pc.SourceType))),
		bulleted(text("Thread: " + pc.Thread.SourceThreadID)),
		bulleted(text(fmt.Sprintf("Replies: %d", len(pc.Thread.Replies)))),
		bulleted(text("Created by: "), mentionSpan(pc.AuthorID, pc.Resolver)),
	}
	if task.Priority != nil {
		out = append(out, bulleted(text("Priority: "+*task.Priority)))
	}
	if pc.Summary.Sentiment != nil {
		out = append(out, bulleted(text("Sentiment: "+*pc.Summary.Sentiment)))
	}
	if pc.Summary.Confidence != nil {
		out = append(out, bulleted(text(fmt.Sprintf("Confidence: %.2f", *pc.Summary.Confidence))))
	}
	createdAt := pc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	out = append(out, bulleted(text("Processed: "+createdAt.UTC().Format(time.RFC3339))))
	return out
}

package usermap

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/taskbridge/taskbridge/pkg/models"
)

var (
	// chatMentionRe matches opaque-id mentions like <@U024BE7LH>.
	chatMentionRe = regexp.MustCompile(`<@([A-Za-z0-9._-]+)>`)
	// handleMentionRe matches display-name mentions like @Jane Doe is not a
	// thing: handles stop at whitespace, so @Jane only. Design-tool comments
	// use the single-token form.
	handleMentionRe = regexp.MustCompile(`@([A-Za-z0-9._-]+)`)
	// spaceRunRe collapses runs of spaces and tabs within a line.
	spaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
)

// BotIdentity is the pipeline's own identity on the source platform, taken
// from the input's source_metadata. Either field may be empty.
type BotIdentity struct {
	UserID string
	Handle string
}

// Rewriter applies the mention-rewrite pass to thread content:
// strip self-mentions, replace resolved mentions with
// "@{displayName} ({destUserId})", collapse whitespace.
// The pass is idempotent.
type Rewriter struct {
	snap   *Snapshot
	bot    BotIdentity
	logger *slog.Logger

	warnedMissingBot bool
}

// NewRewriter creates a rewriter over the given snapshot.
func NewRewriter(snap *Snapshot, bot BotIdentity) *Rewriter {
	return &Rewriter{
		snap:   snap,
		bot:    bot,
		logger: slog.Default().With("component", "mention-rewriter"),
	}
}

// RewriteThread rewrites every message content in place.
func (r *Rewriter) RewriteThread(t *models.Thread) {
	t.Root.Content = r.Rewrite(t.Root.Content)
	for i := range t.Replies {
		t.Replies[i].Content = r.Rewrite(t.Replies[i].Content)
	}
}

// Rewrite applies the full pass to one message content.
func (r *Rewriter) Rewrite(content string) string {
	content = r.stripBotMentions(content)
	content = r.replaceMentions(content)
	return collapseWhitespace(content)
}

// stripBotMentions removes the pipeline's own mentions so the analyzer never
// sees the trigger phrase. When no bot identity is configured the step is
// skipped, matching historical behavior, but the omission is logged once.
func (r *Rewriter) stripBotMentions(content string) string {
	if r.bot.UserID == "" && r.bot.Handle == "" {
		if !r.warnedMissingBot {
			r.logger.Warn("No bot identity in source metadata, skipping self-mention stripping")
			r.warnedMissingBot = true
		}
		return content
	}
	if r.bot.UserID != "" {
		content = strings.ReplaceAll(content, "<@"+r.bot.UserID+">", "")
	}
	if r.bot.Handle != "" {
		content = strings.ReplaceAll(content, "@"+r.bot.Handle, "")
	}
	return content
}

// replaceMentions rewrites resolved mentions as "@{displayName} ({destUserId})".
// Unresolved mentions are left untouched so they fall through as literal text.
func (r *Rewriter) replaceMentions(content string) string {
	content = r.replaceWith(content, chatMentionRe, r.snap.Resolve)
	content = r.replaceWith(content, handleMentionRe, r.snap.ResolveHandle)
	return content
}

func (r *Rewriter) replaceWith(content string, re *regexp.Regexp, lookup func(string) (models.MappedUser, bool)) string {
	matches := re.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		key := content[m[2]:m[3]]
		user, ok := lookup(key)
		if !ok {
			continue
		}
		replacement := "@" + user.DisplayName + " (" + user.DestUserID + ")"
		// Idempotence: if the text already reads "@{display} ({dest})",
		// leave it alone on a second pass.
		suffix := " (" + user.DestUserID + ")"
		if strings.HasPrefix(content[end:], suffix) {
			continue
		}
		b.WriteString(content[last:start])
		b.WriteString(replacement)
		last = end
	}
	b.WriteString(content[last:])
	return b.String()
}

// collapseWhitespace squeezes space runs within each line and trims line
// edges, preserving the line structure of the thread.
func collapseWhitespace(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

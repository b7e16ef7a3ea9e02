package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// Status marker emoji on design-tool comments.
var emailStatusEmoji = map[Status]string{
	StatusPending:   ":hourglass:",
	StatusCompleted: ":white_check_mark:",
	StatusFailed:    ":x:",
}

// fileKeyRe extracts the design file key from a deep link in the email body,
// covering both the /file/ and /design/ URL forms.
var fileKeyRe = regexp.MustCompile(`/(?:file|design)/([A-Za-z0-9]+)`)

// EmailAdapter handles design-tool comment notifications delivered via an
// email provider webhook. Parsing reads the email; thread operations go
// against the design-tool comment API.
type EmailAdapter struct {
	design   *designClient
	provider *emailProviderClient
	meta     *models.EmailSourceMetadata
	logger   *slog.Logger
}

// NewEmailAdapter creates an adapter bound to one design-tool token. When the
// input metadata configures an email provider API, the adapter can fetch
// message bodies for event-style webhooks that deliver only a message id.
func NewEmailAdapter(token string, meta *models.EmailSourceMetadata, opts ...DesignOption) *EmailAdapter {
	a := &EmailAdapter{
		design: newDesignClient(token, opts...),
		meta:   meta,
		logger: slog.Default().With("component", "email-adapter"),
	}
	if meta.EmailAPIURL != "" {
		a.provider = newEmailProviderClient(meta.EmailAPIURL, meta.EmailAPIKey)
	}
	return a
}

// SourceType implements Adapter.
func (a *EmailAdapter) SourceType() models.SourceType {
	return models.SourceTypeDesignEmail
}

// emailEnvelope is the email provider's inbound-parse payload.
type emailEnvelope struct {
	MessageID string   `json:"message_id"`
	To        []string `json:"to"`
	From      string   `json:"from"`
	Subject   string   `json:"subject"`
	Text      string   `json:"text"`
}

// ParseIncoming extracts a normalized discussion from an inbound email. The
// routing key is the slug: the local part of the recipient address. The
// thread id at this point is provisional ("email:{messageId}"); the canonical
// "{fileKey}:{commentId}" form is established once FetchThread correlates the
// email with the design-tool comment list. Event-style payloads that carry a
// message id but no text body parse with empty content; FetchThread fetches
// the body from the email provider.
func (a *EmailAdapter) ParseIncoming(payload []byte) (*models.ParsedDiscussion, error) {
	var env emailEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("malformed email payload: %v", err)}
	}
	if len(env.To) == 0 {
		return nil, &ParseError{Message: "email payload missing recipient"}
	}
	slug := addressLocalPart(env.To[0])
	if slug == "" {
		return nil, &ParseError{Message: fmt.Sprintf("cannot extract slug from recipient %q", env.To[0])}
	}
	if env.Text == "" && env.MessageID == "" {
		return nil, &ParseError{Message: "email payload has neither a text body nor a message id"}
	}

	fileKey := a.meta.FileKey
	if m := fileKeyRe.FindStringSubmatch(env.Text); m != nil {
		fileKey = m[1]
	}

	return &models.ParsedDiscussion{
		SourceType:     models.SourceTypeDesignEmail,
		SourceThreadID: "email:" + env.MessageID,
		TeamID:         slug,
		AuthorHandle:   env.From,
		Title:          env.Subject,
		Content:        commentBody(env.Text),
		Participants:   []string{env.From},
		Metadata: map[string]any{
			"message_id": env.MessageID,
			"file_key":   fileKey,
		},
		RawPayload: payload,
	}, nil
}

// FetchThread correlates the parsed email with the design file's comment
// list: the comment whose message matches the email body anchors the thread,
// and its root plus replies become the thread. When no file key is known or
// no comment matches, the parsed content stands alone as the root.
func (a *EmailAdapter) FetchThread(ctx context.Context, parsed *models.ParsedDiscussion) (*models.Thread, error) {
	if parsed.Content == "" {
		if err := a.hydrateFromProvider(ctx, parsed); err != nil {
			return nil, err
		}
	}

	fileKey, _ := parsed.Metadata["file_key"].(string)
	if fileKey == "" {
		a.logger.Warn("No design file key in email, using parsed content as thread root",
			"thread_id", parsed.SourceThreadID)
		return threadFromParsed(parsed), nil
	}

	comments, err := a.design.GetComments(ctx, fileKey)
	if err != nil {
		return nil, err
	}

	matched := matchComment(comments, parsed.Content)
	if matched == nil {
		a.logger.Warn("No design-tool comment matched the email body, using parsed content as thread root",
			"file_key", fileKey, "thread_id", parsed.SourceThreadID)
		return threadFromParsed(parsed), nil
	}

	root := rootOf(comments, matched)
	replies := repliesOf(comments, root.ID)

	thread := &models.Thread{
		SourceThreadID: fileKey + ":" + root.ID,
		SourceURL:      fmt.Sprintf("https://www.figma.com/file/%s?#%s", fileKey, root.ID),
		Root:           designMessage(root),
	}
	participants := []string{root.User.ID}
	for _, c := range replies {
		thread.Replies = append(thread.Replies, designMessage(c))
		participants = append(participants, c.User.ID)
	}
	thread.Participants = models.DedupeParticipants(participants)
	return thread, nil
}

// hydrateFromProvider fills in the email body for event-style webhooks that
// delivered only a message id, using the provider's fetch endpoint.
func (a *EmailAdapter) hydrateFromProvider(ctx context.Context, parsed *models.ParsedDiscussion) error {
	messageID, _ := parsed.Metadata["message_id"].(string)
	if messageID == "" {
		return &ParseError{Message: "email has no body and no message id to fetch it by"}
	}
	if a.provider == nil {
		return fmt.Errorf("email %s has no body and no email provider API is configured", messageID)
	}

	msg, err := a.provider.GetEmail(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to fetch email %s: %w", messageID, err)
	}
	if msg.Text == "" {
		return &ParseError{Message: fmt.Sprintf("fetched email %s has no text body", messageID)}
	}

	parsed.Content = commentBody(msg.Text)
	if parsed.Title == "" {
		parsed.Title = msg.Subject
	}
	if parsed.AuthorHandle == "" && msg.From != "" {
		parsed.AuthorHandle = msg.From
		parsed.Participants = models.DedupeParticipants(append(parsed.Participants, msg.From))
	}
	if key, _ := parsed.Metadata["file_key"].(string); key == "" {
		if m := fileKeyRe.FindStringSubmatch(msg.Text); m != nil {
			parsed.Metadata["file_key"] = m[1]
		}
	}
	return nil
}

// PostReply posts text as a reply on the root comment.
func (a *EmailAdapter) PostReply(ctx context.Context, threadID, text string) error {
	fileKey, commentID, err := splitThreadID(threadID)
	if err != nil {
		return err
	}
	return a.design.PostComment(ctx, fileKey, text, commentID)
}

// UpdateStatus adds the marker emoji reaction on the root comment.
func (a *EmailAdapter) UpdateStatus(ctx context.Context, threadID string, status Status) error {
	_, commentID, err := splitThreadID(threadID)
	if err != nil {
		return err
	}
	return a.design.AddReaction(ctx, commentID, emailStatusEmoji[status])
}

// RemoveStatus removes the marker emoji reaction from the root comment.
func (a *EmailAdapter) RemoveStatus(ctx context.Context, threadID string, status Status) error {
	_, commentID, err := splitThreadID(threadID)
	if err != nil {
		return err
	}
	return a.design.RemoveReaction(ctx, commentID, emailStatusEmoji[status])
}

func threadFromParsed(parsed *models.ParsedDiscussion) *models.Thread {
	return &models.Thread{
		SourceThreadID: parsed.SourceThreadID,
		SourceURL:      parsed.SourceURL,
		Root: models.ThreadMessage{
			AuthorName: parsed.AuthorHandle,
			Content:    parsed.Content,
		},
		Participants: models.DedupeParticipants(parsed.Participants),
	}
}

func designMessage(c designComment) models.ThreadMessage {
	return models.ThreadMessage{
		AuthorID:   c.User.ID,
		AuthorName: c.User.Handle,
		Content:    c.Message,
		Timestamp:  c.CreatedAt,
	}
}

// matchComment finds the comment the email notified about. Notification
// bodies quote the comment text with surrounding boilerplate, so matching is
// fuzzy: normalized containment either way, preferring the newest comment.
func matchComment(comments []designComment, emailBody string) *designComment {
	needle := normalizeForMatch(emailBody)
	if needle == "" {
		return nil
	}
	var best *designComment
	for i := range comments {
		c := &comments[i]
		hay := normalizeForMatch(c.Message)
		if hay == "" {
			continue
		}
		if !strings.Contains(needle, hay) && !strings.Contains(hay, needle) {
			continue
		}
		if best == nil || c.CreatedAt > best.CreatedAt {
			best = c
		}
	}
	return best
}

func normalizeForMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// rootOf follows parent links up to the thread root.
func rootOf(comments []designComment, c *designComment) designComment {
	byID := make(map[string]designComment, len(comments))
	for _, cc := range comments {
		byID[cc.ID] = cc
	}
	cur := *c
	for cur.ParentID != "" {
		parent, ok := byID[cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	return cur
}

// repliesOf returns the direct replies of rootID in chronological order.
func repliesOf(comments []designComment, rootID string) []designComment {
	var out []designComment
	for _, c := range comments {
		if c.ParentID == rootID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// addressLocalPart returns the part before '@', lowercased, stripping any
// display-name wrapper ("Name <slug@host>").
func addressLocalPart(addr string) string {
	if start := strings.IndexByte(addr, '<'); start >= 0 {
		if end := strings.IndexByte(addr[start:], '>'); end > 0 {
			addr = addr[start+1 : start+end]
		}
	}
	local, _, ok := strings.Cut(addr, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(local))
}

// commentBody strips the email provider's quoting and signature boilerplate,
// keeping the lines above the first separator.
func commentBody(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "___") {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

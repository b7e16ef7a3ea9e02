package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/retry"
)

// Status marker emoji on chat threads.
var chatStatusEmoji = map[Status]string{
	StatusPending:   "hourglass_flowing_sand",
	StatusCompleted: "white_check_mark",
	StatusFailed:    "x",
}

// ChatAdapter is the chat-platform adapter, backed by the slack-go SDK.
type ChatAdapter struct {
	api    *goslack.Client
	meta   *models.ChatWorkspaceMetadata
	logger *slog.Logger
}

// NewChatAdapter creates a chat adapter bound to one workspace token.
func NewChatAdapter(token string, meta *models.ChatWorkspaceMetadata, opts ...goslack.Option) *ChatAdapter {
	return &ChatAdapter{
		api:    goslack.New(token, opts...),
		meta:   meta,
		logger: slog.Default().With("component", "chat-adapter"),
	}
}

// SourceType implements Adapter.
func (a *ChatAdapter) SourceType() models.SourceType {
	return models.SourceTypeChat
}

// chatEventEnvelope is the platform's event-callback payload.
type chatEventEnvelope struct {
	TeamID string `json:"team_id"`
	Event  struct {
		Type     string `json:"type"`
		User     string `json:"user"`
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
}

// ParseIncoming extracts a normalized discussion from an event callback.
// The canonical thread id is "{channelId}:{threadTs}", where threadTs is the
// root timestamp: the thread_ts when the trigger is a threaded reply, the
// message's own ts otherwise.
func (a *ChatAdapter) ParseIncoming(payload []byte) (*models.ParsedDiscussion, error) {
	var env chatEventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("malformed event payload: %v", err)}
	}
	if env.TeamID == "" {
		return nil, &ParseError{Message: "event payload missing team_id"}
	}
	if env.Event.Channel == "" || env.Event.TS == "" {
		return nil, &ParseError{Message: "event payload missing channel or ts"}
	}

	rootTS := env.Event.ThreadTS
	if rootTS == "" {
		rootTS = env.Event.TS
	}

	return &models.ParsedDiscussion{
		SourceType:     models.SourceTypeChat,
		SourceThreadID: env.Event.Channel + ":" + rootTS,
		TeamID:         env.TeamID,
		AuthorHandle:   env.Event.User,
		Content:        env.Event.Text,
		Metadata: map[string]any{
			"channel_id": env.Event.Channel,
			"thread_ts":  rootTS,
			"event_type": env.Event.Type,
		},
		RawPayload: payload,
	}, nil
}

// FetchThread loads the full thread via conversations.replies and resolves a
// permalink for the root message.
func (a *ChatAdapter) FetchThread(ctx context.Context, parsed *models.ParsedDiscussion) (*models.Thread, error) {
	channel, ts, err := splitThreadID(parsed.SourceThreadID)
	if err != nil {
		return nil, err
	}

	msgs, _, _, err := a.api.GetConversationRepliesContext(ctx, &goslack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: ts,
		Limit:     200,
	})
	if err != nil {
		return nil, classifyChatError("conversations.replies", err)
	}
	if len(msgs) == 0 {
		return nil, &ParseError{Message: "thread has no messages"}
	}

	thread := &models.Thread{
		SourceThreadID: parsed.SourceThreadID,
		Root:           chatMessage(msgs[0]),
	}
	participants := []string{msgs[0].User}
	for _, m := range msgs[1:] {
		thread.Replies = append(thread.Replies, chatMessage(m))
		participants = append(participants, m.User)
	}
	thread.Participants = models.DedupeParticipants(participants)

	permalink, err := a.api.GetPermalinkContext(ctx, &goslack.PermalinkParameters{
		Channel: channel,
		Ts:      ts,
	})
	if err != nil {
		// A missing permalink only degrades the source link on task pages.
		a.logger.Warn("Failed to resolve thread permalink", "thread_id", parsed.SourceThreadID, "error", err)
	} else {
		thread.SourceURL = permalink
	}
	return thread, nil
}

// PostReply posts text as a threaded reply.
func (a *ChatAdapter) PostReply(ctx context.Context, threadID, text string) error {
	channel, ts, err := splitThreadID(threadID)
	if err != nil {
		return err
	}
	_, _, err = a.api.PostMessageContext(ctx, channel,
		goslack.MsgOptionText(text, false),
		goslack.MsgOptionTS(ts),
	)
	if err != nil {
		return classifyChatError("chat.postMessage", err)
	}
	return nil
}

// UpdateStatus adds the marker reaction on the root message. Re-applying a
// marker that is already present is not an error.
func (a *ChatAdapter) UpdateStatus(ctx context.Context, threadID string, status Status) error {
	channel, ts, err := splitThreadID(threadID)
	if err != nil {
		return err
	}
	err = a.api.AddReactionContext(ctx, chatStatusEmoji[status], goslack.NewRefToMessage(channel, ts))
	if err != nil && !isChatAPIError(err, "already_reacted") {
		return classifyChatError("reactions.add", err)
	}
	return nil
}

// RemoveStatus removes the marker reaction from the root message.
func (a *ChatAdapter) RemoveStatus(ctx context.Context, threadID string, status Status) error {
	channel, ts, err := splitThreadID(threadID)
	if err != nil {
		return err
	}
	err = a.api.RemoveReactionContext(ctx, chatStatusEmoji[status], goslack.NewRefToMessage(channel, ts))
	if err != nil && !isChatAPIError(err, "no_reaction") {
		return classifyChatError("reactions.remove", err)
	}
	return nil
}

func chatMessage(m goslack.Message) models.ThreadMessage {
	name := m.Username
	if name == "" {
		name = m.User
	}
	return models.ThreadMessage{
		AuthorID:   m.User,
		AuthorName: name,
		Content:    m.Text,
		Timestamp:  m.Timestamp,
	}
}

func splitThreadID(threadID string) (channel, ts string, err error) {
	channel, ts, ok := strings.Cut(threadID, ":")
	if !ok || channel == "" || ts == "" {
		return "", "", &ParseError{Message: fmt.Sprintf("malformed thread id %q", threadID)}
	}
	return channel, ts, nil
}

// isChatAPIError reports whether err is the named platform API error.
func isChatAPIError(err error, code string) bool {
	var apiErr goslack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Err == code
	}
	return err != nil && err.Error() == code
}

// classifyChatError maps SDK errors onto the retry taxonomy: rate limits and
// server-side failures retry, everything else fails fast.
func classifyChatError(endpoint string, err error) error {
	var rateLimited *goslack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &retry.HTTPStatusError{StatusCode: http.StatusTooManyRequests, Endpoint: endpoint}
	}
	var statusErr goslack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &retry.HTTPStatusError{StatusCode: statusErr.Code, Endpoint: endpoint}
	}
	return fmt.Errorf("%s failed: %w", endpoint, err)
}

package usermap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/models"
)

type staticSource []*models.UserMapping

func (s staticSource) ListActive(_ context.Context, _ string, _ models.SourceType, _ string) ([]*models.UserMapping, error) {
	return s, nil
}

func strPtr(s string) *string { return &s }

func loadTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	source := staticSource{
		{SourceUserID: "U1", SourceUserName: strPtr("alice"), DestUserID: "notion-1", DestUserName: strPtr("Alice Smith")},
		{SourceUserID: "U2", SourceUserName: strPtr("bob"), DestUserID: "notion-2"},
		{SourceUserID: "U3", DestUserID: "notion-3"},
	}
	snap, err := NewResolver(source).Load(context.Background(), "tenant-1", models.SourceTypeChat, "T123")
	require.NoError(t, err)
	return snap
}

func TestSnapshotDisplayNamePreference(t *testing.T) {
	snap := loadTestSnapshot(t)

	u, ok := snap.Resolve("U1")
	require.True(t, ok)
	assert.Equal(t, "Alice Smith", u.DisplayName, "destination name wins")

	u, ok = snap.Resolve("U2")
	require.True(t, ok)
	assert.Equal(t, "bob", u.DisplayName, "source name is the fallback")

	u, ok = snap.Resolve("U3")
	require.True(t, ok)
	assert.Equal(t, "U3", u.DisplayName, "raw id when no name is known")

	_, ok = snap.Resolve("U99")
	assert.False(t, ok)
}

func TestSnapshotHandleLookup(t *testing.T) {
	snap := loadTestSnapshot(t)

	u, ok := snap.ResolveHandle("alice")
	require.True(t, ok)
	assert.Equal(t, "notion-1", u.DestUserID)

	_, ok = snap.ResolveHandle("U3")
	assert.False(t, ok, "mappings without a source name have no handle entry")
}

func TestRewriteChatMentions(t *testing.T) {
	r := NewRewriter(loadTestSnapshot(t), BotIdentity{UserID: "UBOT"})

	got := r.Rewrite("<@UBOT> please assign <@U1> and <@U2> to this")
	assert.Equal(t, "please assign @Alice Smith (notion-1) and @bob (notion-2) to this", got)
}

func TestRewriteHandleMentions(t *testing.T) {
	r := NewRewriter(loadTestSnapshot(t), BotIdentity{Handle: "taskbot"})

	got := r.Rewrite("@taskbot ping @alice about the crop")
	assert.Equal(t, "ping @Alice Smith (notion-1) about the crop", got)
}

func TestRewriteUnresolvedMentionLeftAlone(t *testing.T) {
	r := NewRewriter(loadTestSnapshot(t), BotIdentity{UserID: "UBOT"})

	got := r.Rewrite("cc <@U99> and @stranger")
	assert.Equal(t, "cc <@U99> and @stranger", got)
}

func TestRewriteIsIdempotent(t *testing.T) {
	r := NewRewriter(loadTestSnapshot(t), BotIdentity{UserID: "UBOT"})

	once := r.Rewrite("<@UBOT> assign <@U1> and @bob")
	twice := r.Rewrite(once)
	assert.Equal(t, once, twice)
}

func TestRewriteMissingBotIdentitySkipsStripping(t *testing.T) {
	r := NewRewriter(loadTestSnapshot(t), BotIdentity{})

	got := r.Rewrite("<@UBOT> assign <@U1>")
	assert.Contains(t, got, "<@UBOT>", "no identity, nothing stripped")
	assert.Contains(t, got, "@Alice Smith (notion-1)")
}

func TestRewriteCollapsesWhitespacePreservingLines(t *testing.T) {
	r := NewRewriter(EmptySnapshot(), BotIdentity{UserID: "UBOT"})

	got := r.Rewrite("hello  <@UBOT>   world\n  second   line  ")
	assert.Equal(t, "hello world\nsecond line", got)
}

func TestRewriteThread(t *testing.T) {
	r := NewRewriter(loadTestSnapshot(t), BotIdentity{UserID: "UBOT"})
	thread := &models.Thread{
		Root:    models.ThreadMessage{Content: "<@UBOT> track this for <@U1>"},
		Replies: []models.ThreadMessage{{Content: "on it, @alice"}},
	}

	r.RewriteThread(thread)
	assert.Equal(t, "track this for @Alice Smith (notion-1)", thread.Root.Content)
	assert.Equal(t, "on it, @Alice Smith (notion-1)", thread.Replies[0].Content)
}

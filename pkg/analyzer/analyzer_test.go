package analyzer

import (
	"context"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// mockMessages returns canned responses in order, tracking call count.
type mockMessages struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockMessages) New(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}},
	}, nil
}

func testThread() *models.Thread {
	return &models.Thread{
		SourceThreadID: "C123:1700000000.000100",
		Root: models.ThreadMessage{
			AuthorID:   "U1",
			AuthorName: "alice",
			Content:    "The export button is broken on large reports",
		},
		Replies: []models.ThreadMessage{
			{AuthorID: "U2", AuthorName: "bob", Content: "Seeing it too, times out after 30s"},
		},
		Participants: []string{"U1", "U2"},
	}
}

const summaryJSON = `{"text":"Export button times out on large reports.","key_points":["timeout after 30s"],"sentiment":"negative","confidence":0.9}`

const tasksJSON = `{"is_multi_task":false,"confidence":0.85,"tasks":[{"title":"Fix export timeout","description":"Large reports time out","priority":"high","type":"bug"}]}`

func newTestAnalyzer(client MessagesClient) *Analyzer {
	return NewWithClient(client, Config{Model: "claude-test", CacheTTL: time.Hour})
}

func TestAnalyzeHappyPath(t *testing.T) {
	mock := &mockMessages{responses: []string{summaryJSON, tasksJSON}}
	a := newTestAnalyzer(mock)

	result, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "Export button times out on large reports.", result.Summary.Text)
	require.Len(t, result.TaskDetection.Tasks, 1)
	assert.Equal(t, "Fix export timeout", result.TaskDetection.Tasks[0].Title)
	require.NotNil(t, result.TaskDetection.Tasks[0].Priority)
	assert.Equal(t, "high", *result.TaskDetection.Tasks[0].Priority)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, mock.calls)
}

func TestAnalyzeCacheHit(t *testing.T) {
	mock := &mockMessages{responses: []string{summaryJSON, tasksJSON}}
	a := newTestAnalyzer(mock)

	first, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 2, mock.calls, "cache hit must not call the model")
}

func TestAnalyzeRetriesMalformedJSONOnce(t *testing.T) {
	mock := &mockMessages{responses: []string{"not json at all", summaryJSON, tasksJSON}}
	a := newTestAnalyzer(mock)

	result, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, mock.calls)
	assert.Equal(t, "Export button times out on large reports.", result.Summary.Text)
}

func TestAnalyzeGivesUpAfterSecondMalformedResponse(t *testing.T) {
	mock := &mockMessages{responses: []string{"garbage", "more garbage"}}
	a := newTestAnalyzer(mock)

	_, err := a.Analyze(context.Background(), testThread(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary analysis failed")
	assert.Equal(t, 2, mock.calls)
}

func TestAnalyzeRepairsSloppyJSON(t *testing.T) {
	// Trailing comma plus a code fence wrapper.
	sloppySummary := "```json\n{\"text\":\"Summary here.\",\"key_points\":[\"a\",],}\n```"
	mock := &mockMessages{responses: []string{sloppySummary, tasksJSON}}
	a := newTestAnalyzer(mock)

	result, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "Summary here.", result.Summary.Text)
}

func TestAnalyzeNormalizesOutOfRangeEnums(t *testing.T) {
	badEnums := `{"tasks":[{"title":"Do the thing","priority":"CRITICAL!!","type":"Feature"}]}`
	mock := &mockMessages{responses: []string{summaryJSON, badEnums}}
	a := newTestAnalyzer(mock)

	result, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)
	require.Len(t, result.TaskDetection.Tasks, 1)
	task := result.TaskDetection.Tasks[0]
	assert.Nil(t, task.Priority, "out-of-range priority becomes nil")
	require.NotNil(t, task.Type)
	assert.Equal(t, "feature", *task.Type, "case is normalized")
}

func TestAnalyzeMultiTaskFlagDerivedFromCount(t *testing.T) {
	two := `{"is_multi_task":false,"tasks":[{"title":"One"},{"title":"Two"}]}`
	mock := &mockMessages{responses: []string{summaryJSON, two}}
	a := newTestAnalyzer(mock)

	result, err := a.Analyze(context.Background(), testThread(), Options{})
	require.NoError(t, err)
	assert.True(t, result.TaskDetection.IsMultiTask)
}

func TestSerializeThread(t *testing.T) {
	out := SerializeThread(testThread())
	assert.Equal(t, "alice: The export button is broken on large reports\nbob: Seeing it too, times out after 30s", out)
}

func TestBuildPromptFlowOverride(t *testing.T) {
	custom := "Custom instructions.\n{{thread}}\n{{domains}}"
	out := buildPrompt(&custom, defaultSummaryPrompt, "alice: hi", []string{"frontend", "backend"})
	assert.Contains(t, out, "Custom instructions.")
	assert.Contains(t, out, "alice: hi")
	assert.Contains(t, out, "frontend, backend")
	assert.NotContains(t, out, "{{thread}}")
}

func TestDomainInstructionEmpty(t *testing.T) {
	out := domainInstruction(nil)
	assert.Contains(t, out, `"domain": null`)
}

func TestCacheEvictsExpiredAndOldest(t *testing.T) {
	c := NewCache(10*time.Millisecond, 2)
	c.Set("a", models.AnalysisResult{})
	c.Set("b", models.AnalysisResult{})
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired-entry hit sweeps the map")

	c.Set("x", models.AnalysisResult{})
	c.Set("y", models.AnalysisResult{})
	c.Set("z", models.AnalysisResult{})
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestContentKeyIgnoresMetadata(t *testing.T) {
	t1 := testThread()
	t2 := testThread()
	t2.SourceThreadID = "different:thread"
	assert.Equal(t, ContentKey(t1), ContentKey(t2), "key depends on content only")

	t2.Replies[0].Content = "changed"
	assert.NotEqual(t, ContentKey(t1), ContentKey(t2))
}

func TestExtractJSONObjectNestedAndStrings(t *testing.T) {
	raw := `prefix {"a":{"b":"has } brace"},"c":1} suffix`
	span, err := extractJSONObject(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":"has } brace"},"c":1}`, span)
}

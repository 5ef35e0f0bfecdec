package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatty/backend/internal/app"
	"github.com/zhouzirui/chatty/backend/internal/config"
	"github.com/zhouzirui/chatty/backend/internal/service/ai"
)

type cannedModel struct{}

func (cannedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	system := input[0].Content
	switch {
	case strings.Contains(system, "sentiment analysis expert"):
		return schema.AssistantMessage(`{"sentiment":"Neutral"}`, nil), nil
	case strings.Contains(system, "content filter"):
		return schema.AssistantMessage(`{"isAppropriate":false,"filteredText":"you are ***"}`, nil), nil
	default:
		return schema.AssistantMessage(`{"response":"Hello! What would you like to talk about?","suggestions":["Tell me about Go","Recommend a book","Plan a trip"]}`, nil), nil
	}
}

func (m cannedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func setup(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MODEL_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "test")
	t.Setenv("CHAT_MODEL", "test-model")
	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "conversations.json"))
	t.Setenv("LOG_LEVEL", "info")

	appOptions = []app.Option{app.WithModels(func(context.Context, config.AIConfig) (ai.Models, error) {
		return ai.Models{Response: cannedModel{}}, nil
	})}
	t.Cleanup(func() {
		appOptions = nil
		askFile, askConversation = "", ""
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), &out, args...)
	askFile, askConversation = "", ""
	return out.String(), err
}

var conversationLine = regexp.MustCompile(`Conversation: (\S+)`)

func TestAskThenListAndShow(t *testing.T) {
	setup(t)

	out, err := execute(t, "ask", "Hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello! What would you like to talk about?")
	assert.Contains(t, out, "Sentiment: Neutral")
	assert.Contains(t, out, "1. Tell me about Go")

	match := conversationLine.FindStringSubmatch(out)
	require.Len(t, match, 2)
	id := match[1]

	out, err = execute(t, "conversations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Hello")

	out, err = execute(t, "conversations", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "[user] (Neutral)\nHello")
	assert.Contains(t, out, "[assistant]\nHello! What would you like to talk about?")
}

func TestAskStartsNewConversationUnlessContinued(t *testing.T) {
	setup(t)

	out, err := execute(t, "ask", "Hello")
	require.NoError(t, err)
	first := conversationLine.FindStringSubmatch(out)[1]

	out, err = execute(t, "ask", "Hello again")
	require.NoError(t, err)
	second := conversationLine.FindStringSubmatch(out)[1]
	assert.NotEqual(t, first, second)

	out, err = execute(t, "ask", "One more", "--conversation", first)
	require.NoError(t, err)
	assert.Equal(t, first, conversationLine.FindStringSubmatch(out)[1])

	out, err = execute(t, "conversations", "show", first)
	require.NoError(t, err)
	assert.Contains(t, out, "One more")
}

func TestAskWithFileOnly(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting at noon"), 0o600))

	out, err := execute(t, "ask", "--file", path)
	require.NoError(t, err)
	id := conversationLine.FindStringSubmatch(out)[1]

	out, err = execute(t, "conversations", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "# notes.txt")
	assert.Contains(t, out, "<notes.txt>")
}

func TestAskEmpty(t *testing.T) {
	setup(t)

	_, err := execute(t, "ask", "   ")
	require.Error(t, err)
	assert.Equal(t, "Please enter a message or upload a file.", err.Error())
}

func TestModerate(t *testing.T) {
	setup(t)

	out, err := execute(t, "moderate", "you are awful")
	require.NoError(t, err)
	assert.Contains(t, out, "Filtered: you are ***")
}

func TestShowUnknownConversation(t *testing.T) {
	setup(t)

	_, err := execute(t, "conversations", "show", "missing")
	assert.ErrorContains(t, err, "conversation not found")
}

func TestReadAttachmentDetectsType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixel.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600))

	uri, err := readAttachment(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
}

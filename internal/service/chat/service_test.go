package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	model "github.com/zhouzirui/chatty/backend/internal/model/chat"
	chat "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
	"github.com/zhouzirui/chatty/backend/internal/storage"
)

type stubSubmitter struct {
	result orchestrator.Result
	err    error
	calls  int
	before func()
}

func (s *stubSubmitter) Submit(_ context.Context, form contract.Form) (orchestrator.Result, error) {
	s.calls++
	if s.before != nil {
		s.before()
	}
	if s.err != nil {
		return orchestrator.Result{}, s.err
	}
	if err := orchestrator.Validate(form); err != nil {
		return orchestrator.Result{}, err
	}
	return s.result, nil
}

func okSubmitter() *stubSubmitter {
	return &stubSubmitter{result: orchestrator.Result{
		Response:    "Hello! What would you like to talk about?",
		Suggestions: []string{"Tell me about Go", "What's the weather like?", "Recommend a book"},
		Sentiment:   contract.Neutral,
	}}
}

type failingPersister struct {
	storage.Memory
}

func (f *failingPersister) Save(context.Context, []byte) error {
	return errors.New("disk full")
}

func TestExchangeHelloScenario(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()

	res, err := store.Exchange(ctx, "", contract.Form{Prompt: "Hello"}, okSubmitter())
	require.NoError(t, err)

	conv, err := store.Get(res.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)

	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.True(t, conv.Messages[0].Sentiment.Valid())
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.NotEmpty(t, res.Suggestions)
	assert.Equal(t, "Hello", conv.Title)
	assert.Equal(t, res.ConversationID, store.ActiveID())
}

func TestExchangeFailureRetractsUserMessage(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()

	sub := &stubSubmitter{err: orchestrator.ErrSubmissionFailed}
	_, err := store.Exchange(ctx, "", contract.Form{Prompt: "test"}, sub)
	require.ErrorIs(t, err, orchestrator.ErrSubmissionFailed)

	conv, err := store.Get(store.ActiveID())
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
	assert.Equal(t, model.DefaultTitle, conv.Title)
}

func TestExchangeFailureKeepsPriorShape(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()

	first, err := store.Exchange(ctx, "", contract.Form{Prompt: "first"}, okSubmitter())
	require.NoError(t, err)
	before, err := store.Snapshot()
	require.NoError(t, err)

	_, err = store.Exchange(ctx, first.ConversationID, contract.Form{Prompt: "second"}, &stubSubmitter{err: errors.New("boom")})
	require.Error(t, err)

	after, err := store.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestExchangeRejectsEmptyWithoutMutation(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	sub := okSubmitter()

	_, err := store.Exchange(context.Background(), "", contract.Form{Prompt: "  "}, sub)
	require.ErrorIs(t, err, orchestrator.ErrEmptySubmission)
	assert.Zero(t, sub.calls)
	assert.Empty(t, store.List())
}

func TestExchangeAttachmentOnly(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	form := contract.Form{PhotoDataURI: "data:image/png;base64,iVBORw0KGgo=", AttachmentName: "cat.png"}

	res, err := store.Exchange(context.Background(), "", form, okSubmitter())
	require.NoError(t, err)

	conv, err := store.Get(res.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.Messages[0].Attachment)
	assert.Equal(t, "cat.png", conv.Messages[0].Attachment.Name)
	assert.Equal(t, "cat.png", conv.Title)
}

func TestExchangeLandsInOriginatingConversation(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()

	older, err := store.Exchange(ctx, "", contract.Form{Prompt: "older"}, okSubmitter())
	require.NoError(t, err)
	olderBefore, err := store.Get(older.ConversationID)
	require.NoError(t, err)

	store.StartNew()
	current, err := store.Create(ctx)
	require.NoError(t, err)

	sub := okSubmitter()
	sub.before = func() {
		// the user switches away while the request is in flight
		require.NoError(t, store.Select(older.ConversationID))
	}
	_, err = store.Exchange(ctx, current.ID, contract.Form{Prompt: "in flight"}, sub)
	require.NoError(t, err)

	olderAfter, err := store.Get(older.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, olderBefore.Messages, olderAfter.Messages)
	assert.Equal(t, older.ConversationID, store.ActiveID())

	got, err := store.Get(current.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestExchangeRejectsConcurrentRequestOnSameConversation(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()
	conv, err := store.Create(ctx)
	require.NoError(t, err)

	var nestedErr error
	sub := okSubmitter()
	sub.before = func() {
		_, nestedErr = store.Exchange(ctx, conv.ID, contract.Form{Prompt: "again"}, okSubmitter())
	}
	_, err = store.Exchange(ctx, conv.ID, contract.Form{Prompt: "first"}, sub)
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, chat.ErrExchangeInFlight)
}

func TestExchangeUnknownConversation(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	_, err := store.Exchange(context.Background(), "missing", contract.Form{Prompt: "hi"}, okSubmitter())
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestRetractSkipsAnnotatedMessage(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()
	conv, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.AppendUser(ctx, conv.ID, "I love this", nil)
	require.NoError(t, err)
	_, err = store.AttachSentiment(ctx, conv.ID, contract.Positive)
	require.NoError(t, err)

	retracted, err := store.RetractLastUser(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, retracted)

	got, err := store.Get(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, contract.Positive, got.Messages[0].Sentiment)
}

func TestAttachSentimentTargetsMostRecentUnannotated(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()
	conv, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.AppendUser(ctx, conv.ID, "one", nil)
	require.NoError(t, err)
	_, err = store.AppendAssistant(ctx, conv.ID, "reply")
	require.NoError(t, err)
	_, err = store.AppendUser(ctx, conv.ID, "two", nil)
	require.NoError(t, err)

	msg, err := store.AttachSentiment(ctx, conv.ID, contract.Negative)
	require.NoError(t, err)
	assert.Equal(t, "two", msg.Content)

	msg, err = store.AttachSentiment(ctx, conv.ID, contract.Neutral)
	require.NoError(t, err)
	assert.Equal(t, "one", msg.Content)

	_, err = store.AttachSentiment(ctx, conv.ID, contract.Neutral)
	assert.ErrorIs(t, err, chat.ErrNothingToAnnotate)

	_, err = store.AttachSentiment(ctx, conv.ID, "Meh")
	assert.Error(t, err)
}

func TestAppendAssistantRequiresPendingUserMessage(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()
	conv, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.AppendAssistant(ctx, conv.ID, "orphan")
	assert.ErrorIs(t, err, chat.ErrNoPendingUserMessage)
}

func TestSelectAndStartNew(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	ctx := context.Background()

	a, err := store.Create(ctx)
	require.NoError(t, err)
	b, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, store.ActiveID())

	require.NoError(t, store.Select(a.ID))
	assert.Equal(t, a.ID, store.ActiveID())

	store.StartNew()
	assert.Empty(t, store.ActiveID())
	assert.Len(t, store.List(), 2)

	assert.ErrorIs(t, store.Select("missing"), chat.ErrConversationNotFound)
}

func TestRestoreThenFlushIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	persister := storage.NewMemory()

	seed := chat.NewStore(persister, nil)
	_, err := seed.Exchange(ctx, "", contract.Form{Prompt: "Hello"}, okSubmitter())
	require.NoError(t, err)
	seed.StartNew()
	_, err = seed.Exchange(ctx, "", contract.Form{Prompt: "with file", PhotoDataURI: "data:text/plain;base64,aGk=", AttachmentName: "hi.txt"}, okSubmitter())
	require.NoError(t, err)
	_, err = seed.Create(ctx)
	require.NoError(t, err)

	original, err := persister.Load(ctx)
	require.NoError(t, err)

	restored := chat.NewStore(persister, nil)
	require.NoError(t, restored.Load(ctx))
	require.NoError(t, restored.Flush(ctx))

	again, err := persister.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, again)
	assert.Len(t, restored.List(), 3)
}

func TestLoadEmptyPersister(t *testing.T) {
	store := chat.NewStore(storage.NewMemory(), nil)
	require.NoError(t, store.Load(context.Background()))
	snapshot, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(snapshot))
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	store := chat.NewStore(&failingPersister{}, nil)
	ctx := context.Background()

	_, err := store.Create(ctx)
	assert.ErrorIs(t, err, chat.ErrPersist)

	res, err := store.Exchange(ctx, "", contract.Form{Prompt: "still works"}, okSubmitter())
	require.NoError(t, err)

	conv, err := store.Get(res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	chatModel "github.com/zhouzirui/chatty/backend/internal/model/chat"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
	"github.com/zhouzirui/chatty/backend/internal/storage"
)

type fakeGenerator struct {
	err  error
	seen []contract.GenerateInput
}

func (f *fakeGenerator) GenerateResponse(_ context.Context, in contract.GenerateInput) (contract.GenerateOutput, error) {
	f.seen = append(f.seen, in)
	if f.err != nil {
		return contract.GenerateOutput{}, f.err
	}
	return contract.GenerateOutput{
		Response:    "Hello! What would you like to talk about?",
		Suggestions: []string{"Tell me about Go", "What's the weather like?", "Recommend a book"},
	}, nil
}

type fakeSentiment struct{}

func (fakeSentiment) AnalyzeSentiment(context.Context, contract.SentimentInput) (contract.SentimentOutput, error) {
	return contract.SentimentOutput{Sentiment: contract.Neutral}, nil
}

func setupRouter(gen *fakeGenerator) (*chi.Mux, *chatService.Store) {
	store := chatService.NewStore(storage.NewMemory(), nil)
	var submitter chatService.Submitter
	if gen != nil {
		submitter = orchestrator.New(gen, fakeSentiment{}, nil)
	}

	r := chi.NewRouter()
	New(store, submitter, nil).RegisterRoutes(r)
	return r, store
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestSubmitHello(t *testing.T) {
	r, store := setupRouter(&fakeGenerator{})

	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "Hello"})
	require.Equal(t, http.StatusOK, resp.Code)

	result := decode[chatService.ExchangeResult](t, resp)
	assert.Equal(t, contract.Neutral, result.Sentiment)
	assert.NotEmpty(t, result.Suggestions)
	assert.NotEmpty(t, result.Response)

	conv, err := store.Get(result.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, contract.Neutral, conv.Messages[0].Sentiment)
}

func TestSubmitModelFailure(t *testing.T) {
	r, store := setupRouter(&fakeGenerator{err: errors.New("upstream 500")})

	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "test"})
	require.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Equal(t, orchestrator.FailureMessage, decode[map[string]string](t, resp)["error"])

	conv, err := store.Get(store.ActiveID())
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
}

func TestSubmitEmpty(t *testing.T) {
	gen := &fakeGenerator{}
	r, store := setupRouter(gen)

	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "   "})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, orchestrator.EmptyMessage, decode[map[string]string](t, resp)["error"])
	assert.Empty(t, gen.seen)
	assert.Empty(t, store.List())
}

func TestSubmitMultipartAttachmentOnly(t *testing.T) {
	gen := &fakeGenerator{}
	r, store := setupRouter(gen)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("meeting at noon"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	require.Len(t, gen.seen, 1)
	assert.Empty(t, gen.seen[0].Prompt)
	assert.True(t, strings.HasPrefix(gen.seen[0].PhotoDataURI, "data:text/plain;base64,"))

	result := decode[chatService.ExchangeResult](t, resp)
	conv, err := store.Get(result.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.Messages[0].Attachment)
	assert.Equal(t, "notes.txt", conv.Messages[0].Attachment.Name)
	assert.Equal(t, "notes.txt", conv.Title)
}

func TestSubmitInvalidDataURI(t *testing.T) {
	r, _ := setupRouter(&fakeGenerator{})

	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "look", "photoDataUri": "not-a-data-uri"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSubmitUnknownConversation(t *testing.T) {
	r, _ := setupRouter(&fakeGenerator{})

	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "hi", "conversationId": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSubmitWithoutModel(t *testing.T) {
	r, _ := setupRouter(nil)

	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestSubmitTargetsExplicitConversation(t *testing.T) {
	r, store := setupRouter(&fakeGenerator{})

	first := decode[chatService.ExchangeResult](t, postJSON(t, r, "/messages", map[string]string{"prompt": "older"}))
	postJSON(t, r, "/conversations", nil)
	second := decode[chatService.ExchangeResult](t, postJSON(t, r, "/messages", map[string]string{"prompt": "newer"}))
	require.NotEqual(t, first.ConversationID, second.ConversationID)

	// the client still shows the first conversation while the second is active
	resp := postJSON(t, r, "/messages", map[string]string{"prompt": "follow up", "conversationId": first.ConversationID})
	require.Equal(t, http.StatusOK, resp.Code)

	older, err := store.Get(first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, older.Messages, 4)
	newer, err := store.Get(second.ConversationID)
	require.NoError(t, err)
	assert.Len(t, newer.Messages, 2)
}

func TestConversationRoutes(t *testing.T) {
	r, _ := setupRouter(&fakeGenerator{})

	result := decode[chatService.ExchangeResult](t, postJSON(t, r, "/messages", map[string]string{"prompt": "Hello"}))

	resp := postJSON(t, r, "/conversations", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	listing := decode[struct {
		ActiveID      string              `json:"activeId"`
		Conversations []chatModel.Summary `json:"conversations"`
	}](t, resp)
	assert.Empty(t, listing.ActiveID)
	require.Len(t, listing.Conversations, 1)
	assert.Equal(t, 2, listing.Conversations[0].MessageCount)

	resp = postJSON(t, r, "/conversations/"+result.ConversationID+"/select", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Hello", decode[chatModel.Conversation](t, resp).Title)

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	list := httptest.NewRecorder()
	r.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"activeId":"`+result.ConversationID+`"`)

	req = httptest.NewRequest(http.MethodGet, "/conversations/missing", nil)
	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, req)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	assert.Equal(t, http.StatusNotFound, postJSON(t, r, "/conversations/missing/select", nil).Code)
}

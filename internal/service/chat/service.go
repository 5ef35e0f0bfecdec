package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/internal/model/chat"
	"github.com/zhouzirui/chatty/backend/internal/storage"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoPendingUserMessage = errors.New("no user message awaiting a reply")
	ErrNothingToAnnotate    = errors.New("no unannotated user message")
	ErrExchangeInFlight     = errors.New("conversation already has a request in flight")
	ErrPersist              = errors.New("failed to persist conversations")
)

// Store is the single writer of the conversation list. Every mutation is
// followed by a synchronous flush of the whole list to the persister.
type Store struct {
	mu            sync.Mutex
	conversations []chat.Conversation
	index         map[string]int
	active        string
	inFlight      map[string]struct{}

	persister storage.Persister
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates an empty store backed by persister. Call Load to restore
// previously saved conversations.
func NewStore(persister storage.Persister, logger *slog.Logger) *Store {
	if persister == nil {
		persister = storage.NewMemory()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		conversations: make([]chat.Conversation, 0, 8),
		index:         make(map[string]int),
		inFlight:      make(map[string]struct{}),
		persister:     persister,
		logger:        logger.With("component", "chat_store"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Load replaces in-memory state with the persisted list, verbatim.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	var conversations []chat.Conversation
	if len(data) > 0 {
		if err := json.Unmarshal(data, &conversations); err != nil {
			return fmt.Errorf("decode conversations: %w", err)
		}
	}
	if conversations == nil {
		conversations = make([]chat.Conversation, 0, 8)
	}

	index := make(map[string]int, len(conversations))
	for i, conv := range conversations {
		index[conv.ID] = i
	}

	s.mu.Lock()
	s.conversations = conversations
	s.index = index
	if _, ok := index[s.active]; !ok {
		s.active = ""
	}
	s.mu.Unlock()

	s.logger.Info("conversations restored", "count", len(conversations))
	return nil
}

// Flush writes the full list to the persister.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Snapshot returns the serialized form that Flush would write.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.conversations)
}

func (s *Store) flushLocked(ctx context.Context) error {
	data, err := json.Marshal(s.conversations)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := s.persister.Save(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Create starts a conversation and makes it active.
func (s *Store) Create(ctx context.Context) (chat.Conversation, error) {
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     chat.DefaultTitle,
		Messages:  make([]chat.Message, 0, 8),
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[conv.ID] = len(s.conversations)
	s.conversations = append(s.conversations, conv)
	s.active = conv.ID

	return conv.Clone(), s.flushLocked(ctx)
}

// AppendUser optimistically appends a user message.
func (s *Store) AppendUser(ctx context.Context, conversationID, content string, attachment *chat.Attachment) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(conversationID)
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:         uuid.NewString(),
		Role:       chat.RoleUser,
		Content:    content,
		Attachment: attachment,
		CreatedAt:  s.now(),
	}
	if !hasUserMessage(conv.Messages) {
		conv.Title = chat.DeriveTitle(content, attachment)
	}
	conv.Messages = append(conv.Messages, msg)

	return msg, s.flushLocked(ctx)
}

// AppendAssistant appends a reply. The trailing message must be the user
// message it answers.
func (s *Store) AppendAssistant(ctx context.Context, conversationID, content string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	if last, ok := conv.Last(); !ok || last.Role != chat.RoleUser {
		return chat.Message{}, ErrNoPendingUserMessage
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: s.now(),
	}
	conv.Messages = append(conv.Messages, msg)

	return msg, s.flushLocked(ctx)
}

// RetractLastUser drops the trailing user message unless it already carries a
// sentiment label. It reports whether a message was removed.
func (s *Store) RetractLastUser(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(conversationID)
	if err != nil {
		return false, err
	}

	last, ok := conv.Last()
	if !ok || last.Role != chat.RoleUser || last.Annotated() {
		return false, nil
	}

	conv.Messages = conv.Messages[:len(conv.Messages)-1]
	if !hasUserMessage(conv.Messages) {
		conv.Title = chat.DefaultTitle
	}

	return true, s.flushLocked(ctx)
}

// AttachSentiment labels the most recent unannotated user message.
func (s *Store) AttachSentiment(ctx context.Context, conversationID string, label contract.Sentiment) (chat.Message, error) {
	if !label.Valid() {
		return chat.Message{}, fmt.Errorf("invalid sentiment %q", label)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(conversationID)
	if err != nil {
		return chat.Message{}, err
	}

	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := &conv.Messages[i]
		if msg.Role != chat.RoleUser || msg.Annotated() {
			continue
		}
		msg.Sentiment = label
		return *msg, s.flushLocked(ctx)
	}
	return chat.Message{}, ErrNothingToAnnotate
}

// Select makes an existing conversation active.
func (s *Store) Select(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[conversationID]; !ok {
		return ErrConversationNotFound
	}
	s.active = conversationID
	return nil
}

// StartNew clears the active selection. Existing conversations are kept.
func (s *Store) StartNew() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// ActiveID returns the active conversation identifier, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Get returns a copy of the conversation.
func (s *Store) Get(conversationID string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv.Clone(), nil
}

// List returns conversation summaries in creation order.
func (s *Store) List() []chat.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Summary())
	}
	return out
}

func (s *Store) lookupLocked(conversationID string) (*chat.Conversation, error) {
	i, ok := s.index[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return &s.conversations[i], nil
}

func hasUserMessage(messages []chat.Message) bool {
	for _, msg := range messages {
		if msg.Role == chat.RoleUser {
			return true
		}
	}
	return false
}

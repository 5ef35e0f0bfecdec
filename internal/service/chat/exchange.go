package chat

import (
	"context"
	"errors"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/internal/model/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
)

// Submitter runs one combined model round trip.
type Submitter interface {
	Submit(ctx context.Context, form contract.Form) (orchestrator.Result, error)
}

// ExchangeResult is what a successful round trip produced.
type ExchangeResult struct {
	ConversationID string             `json:"conversationId"`
	UserMessage    chat.Message       `json:"userMessage"`
	Reply          chat.Message       `json:"reply"`
	Response       string             `json:"response"`
	Suggestions    []string           `json:"suggestions"`
	Sentiment      contract.Sentiment `json:"sentiment"`
}

// Exchange appends the user message, submits the form and records the
// outcome. The outcome is always applied to the conversation resolved at
// submit time, regardless of which conversation is active when it returns.
// An empty conversationID targets the active conversation, creating one when
// none is active.
func (s *Store) Exchange(ctx context.Context, conversationID string, form contract.Form, submitter Submitter) (ExchangeResult, error) {
	if err := orchestrator.Validate(form); err != nil {
		return ExchangeResult{}, err
	}

	conversationID, err := s.resolveTarget(ctx, conversationID)
	if err != nil {
		return ExchangeResult{}, err
	}

	if !s.begin(conversationID) {
		return ExchangeResult{}, ErrExchangeInFlight
	}
	defer s.finish(conversationID)

	var attachment *chat.Attachment
	if form.HasAttachment() {
		attachment = &chat.Attachment{Name: form.AttachmentName, DataURI: form.PhotoDataURI}
	}

	userMsg, err := s.AppendUser(ctx, conversationID, form.Prompt, attachment)
	if err = s.tolerate(err); err != nil {
		return ExchangeResult{}, err
	}

	result, err := submitter.Submit(ctx, form)
	if err != nil {
		// Detached from ctx: a client disconnect must not leave a ghost message.
		retracted, rerr := s.RetractLastUser(context.WithoutCancel(ctx), conversationID)
		if rerr = s.tolerate(rerr); rerr != nil {
			s.logger.Error("failed to retract user message", "conversation_id", conversationID, "error", rerr)
		}
		s.logger.Warn("exchange failed", "conversation_id", conversationID, "retracted", retracted, "error", err)
		return ExchangeResult{}, err
	}

	persistCtx := context.WithoutCancel(ctx)
	annotated, err := s.AttachSentiment(persistCtx, conversationID, result.Sentiment)
	if err = s.tolerate(err); err != nil {
		return ExchangeResult{}, err
	}
	userMsg = annotated

	reply, err := s.AppendAssistant(persistCtx, conversationID, result.Response)
	if err = s.tolerate(err); err != nil {
		return ExchangeResult{}, err
	}

	return ExchangeResult{
		ConversationID: conversationID,
		UserMessage:    userMsg,
		Reply:          reply,
		Response:       result.Response,
		Suggestions:    result.Suggestions,
		Sentiment:      result.Sentiment,
	}, nil
}

func (s *Store) resolveTarget(ctx context.Context, conversationID string) (string, error) {
	if conversationID != "" {
		if _, err := s.Get(conversationID); err != nil {
			return "", err
		}
		return conversationID, nil
	}

	if active := s.ActiveID(); active != "" {
		return active, nil
	}

	conv, err := s.Create(ctx)
	if err = s.tolerate(err); err != nil {
		return "", err
	}
	return conv.ID, nil
}

func (s *Store) begin(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[conversationID]; busy {
		return false
	}
	s.inFlight[conversationID] = struct{}{}
	return true
}

func (s *Store) finish(conversationID string) {
	s.mu.Lock()
	delete(s.inFlight, conversationID)
	s.mu.Unlock()
}

// tolerate swallows persistence failures: the in-memory state is already
// updated and storage errors are never fatal to a request.
func (s *Store) tolerate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersist) {
		s.logger.Warn("conversation snapshot not persisted", "error", err)
		return nil
	}
	return err
}

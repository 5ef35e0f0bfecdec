// Package ai runs the prompt templates against the configured chat models and
// validates their structured output.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/internal/llm"
)

// Models are the chat models the templates run on. Classifier falls back to
// Response when nil.
type Models struct {
	Response   model.BaseChatModel
	Classifier model.BaseChatModel
}

// Options configures Service.
type Options struct {
	Templates Templates
	Retry     RetryPolicy
	Logger    *slog.Logger
}

type flow struct {
	template *Template
	runnable compose.Runnable[map[string]any, *schema.Message]
}

// Service encapsulates the three model flows.
type Service struct {
	generate  flow
	filter    flow
	sentiment flow
	retry     RetryPolicy
	logger    *slog.Logger
}

// NewService compiles one chain per template.
func NewService(ctx context.Context, models Models, opts Options) (*Service, error) {
	if models.Response == nil {
		return nil, errors.New("response chat model is required")
	}
	if models.Classifier == nil {
		models.Classifier = models.Response
	}

	templates := opts.Templates
	if templates == nil {
		templates = DefaultTemplates()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	svc := &Service{retry: opts.Retry, logger: logger.With("component", "ai")}

	for name, target := range map[string]*flow{
		TemplateGenerateResponse: &svc.generate,
		TemplateFilterContent:    &svc.filter,
		TemplateAnalyzeSentiment: &svc.sentiment,
	} {
		tpl, ok := templates[name]
		if !ok {
			return nil, fmt.Errorf("missing prompt template %s", name)
		}

		chatModel := models.Response
		if tpl.Model == RoleClassifier {
			chatModel = models.Classifier
		}

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(tpl.ChatTemplate())
		chain.AppendChatModel(chatModel)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s chain: %w", name, err)
		}
		*target = flow{template: tpl, runnable: runnable}
	}

	return svc, nil
}

// GenerateResponse answers the prompt, using the attachment as primary context.
func (s *Service) GenerateResponse(ctx context.Context, in contract.GenerateInput) (contract.GenerateOutput, error) {
	if err := in.Validate(); err != nil {
		return contract.GenerateOutput{}, err
	}
	attachment, err := in.Attachment()
	if err != nil {
		return contract.GenerateOutput{}, err
	}

	prompt := strings.TrimSpace(in.Prompt)
	vars := map[string]any{
		"prompt":         prompt,
		"has_prompt":     prompt != "",
		"has_attachment": attachment != nil,
		"mime_type":      "",
		"file_text":      "",
		attachmentsKey:   []*schema.Message{},
	}
	if attachment != nil {
		vars["mime_type"] = attachment.MIMEType
		if isInlineText(*attachment) {
			vars["file_text"] = string(attachment.Data)
		} else {
			vars[attachmentsKey] = []*schema.Message{attachmentMessage(in.PhotoDataURI, *attachment)}
		}
	}

	return run(ctx, s, s.generate, vars, contract.DecodeGenerateOutput)
}

// FilterContent moderates a piece of text.
func (s *Service) FilterContent(ctx context.Context, in contract.FilterInput) (contract.FilterOutput, error) {
	if err := in.Validate(); err != nil {
		return contract.FilterOutput{}, err
	}
	return run(ctx, s, s.filter, map[string]any{"text": in.Text}, contract.DecodeFilterOutput)
}

// AnalyzeSentiment classifies the text as Positive, Negative or Neutral.
func (s *Service) AnalyzeSentiment(ctx context.Context, in contract.SentimentInput) (contract.SentimentOutput, error) {
	if err := in.Validate(); err != nil {
		return contract.SentimentOutput{}, err
	}
	return run(ctx, s, s.sentiment, map[string]any{"text": in.Text}, contract.DecodeSentimentOutput)
}

func run[T any](ctx context.Context, s *Service, f flow, vars map[string]any, decode func(string) (T, error)) (T, error) {
	var out T
	callOpts := []model.Option{llm.WithJSONResponse()}
	if len(f.template.Safety) > 0 {
		callOpts = append(callOpts, llm.WithSafetySettings(f.template.Safety))
	}

	start := time.Now()
	attempts := 0
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		msg, err := f.runnable.Invoke(ctx, vars, compose.WithChatModelOption(callOpts...))
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("%w: empty reply", contract.ErrMalformedOutput)
		}
		decoded, err := decode(msg.Content)
		if err != nil {
			s.logger.Warn("model returned malformed output", "template", f.template.Name, "length", len(msg.Content))
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		s.logger.Error("model call failed", "template", f.template.Name, "attempts", attempts, "error", err)
		return out, fmt.Errorf("%s: %w", f.template.Name, err)
	}

	s.logger.Debug("model call succeeded", "template", f.template.Name, "attempts", attempts, "duration", time.Since(start))
	return out, nil
}

// maxInlineText bounds text attachments that are pasted into the prompt.
const maxInlineText = 256 << 10

// isInlineText reports whether the attachment is small UTF-8 text that can go
// into the prompt itself instead of a media part.
func isInlineText(uri contract.DataURI) bool {
	if len(uri.Data) > maxInlineText || !utf8.Valid(uri.Data) {
		return false
	}
	switch {
	case strings.HasPrefix(uri.MIMEType, "text/"):
		return true
	case uri.MIMEType == "application/json", uri.MIMEType == "application/xml", uri.MIMEType == "application/x-yaml":
		return true
	}
	return false
}

// attachmentMessage carries the file as an image part when it is an image
// and as a file part otherwise.
func attachmentMessage(raw string, uri contract.DataURI) *schema.Message {
	part := schema.ChatMessagePart{
		Type:    schema.ChatMessagePartTypeFileURL,
		FileURL: &schema.ChatMessageFileURL{URL: raw, MIMEType: uri.MIMEType},
	}
	if uri.IsImage() {
		part = schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: raw, MIMEType: uri.MIMEType},
		}
	}
	return &schema.Message{Role: schema.User, MultiContent: []schema.ChatMessagePart{part}}
}

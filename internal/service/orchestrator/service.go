// Package orchestrator joins response generation and sentiment classification
// into one all-or-nothing submission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chatty/backend/internal/contract"
)

// User-facing texts. Callers never see provider error details.
const (
	EmptyMessage   = "Please enter a message or upload a file."
	FailureMessage = "Failed to get a response from the AI. Please try again."
)

var (
	ErrEmptySubmission  = errors.New("empty submission")
	ErrSubmissionFailed = errors.New("submission failed")
)

// Generator produces a reply and follow-up suggestions.
type Generator interface {
	GenerateResponse(ctx context.Context, in contract.GenerateInput) (contract.GenerateOutput, error)
}

// SentimentAnalyzer labels a piece of text.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, in contract.SentimentInput) (contract.SentimentOutput, error)
}

// Result is the combined outcome of a successful submission.
type Result struct {
	Response    string             `json:"response"`
	Suggestions []string           `json:"suggestions"`
	Sentiment   contract.Sentiment `json:"sentiment"`
}

// Service runs submissions.
type Service struct {
	generator Generator
	sentiment SentimentAnalyzer
	logger    *slog.Logger
}

// New wires a Service. A nil logger discards output.
func New(generator Generator, sentiment SentimentAnalyzer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		generator: generator,
		sentiment: sentiment,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Validate rejects a form before any model call is made.
func Validate(form contract.Form) error {
	if !form.HasPrompt() && !form.HasAttachment() {
		return ErrEmptySubmission
	}
	return contract.GenerateInput{Prompt: form.Prompt, PhotoDataURI: form.PhotoDataURI}.Validate()
}

// Submit validates the form, runs generation and sentiment classification
// concurrently and returns both or neither.
func (s *Service) Submit(ctx context.Context, form contract.Form) (Result, error) {
	if err := Validate(form); err != nil {
		return Result{}, err
	}

	var (
		generated contract.GenerateOutput
		label     = contract.Neutral
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.generator.GenerateResponse(gctx, contract.GenerateInput{
			Prompt:       form.Prompt,
			PhotoDataURI: form.PhotoDataURI,
		})
		if err != nil {
			return fmt.Errorf("generate response: %w", err)
		}
		generated = out
		return nil
	})

	// Attachment-only submissions have nothing to classify.
	if form.HasPrompt() {
		g.Go(func() error {
			out, err := s.sentiment.AnalyzeSentiment(gctx, contract.SentimentInput{Text: form.Prompt})
			if err != nil {
				return fmt.Errorf("analyze sentiment: %w", err)
			}
			label = out.Sentiment
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("submission failed", "error", err, "has_attachment", form.HasAttachment())
		return Result{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	if !label.Valid() {
		err := fmt.Errorf("%w: sentiment %q", contract.ErrMalformedOutput, label)
		s.logger.Error("submission failed", "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	suggestions := generated.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}

	return Result{
		Response:    generated.Response,
		Suggestions: suggestions,
		Sentiment:   label,
	}, nil
}

// UserMessage maps a Submit error to the text shown to the user.
func UserMessage(err error) string {
	if errors.Is(err, ErrEmptySubmission) {
		return EmptyMessage
	}
	var verr *contract.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return FailureMessage
}

// IsValidationError reports whether err was raised before any model call.
func IsValidationError(err error) bool {
	var verr *contract.ValidationError
	return errors.Is(err, ErrEmptySubmission) || errors.As(err, &verr)
}

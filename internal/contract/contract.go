// Package contract declares the request and response shapes exchanged with the
// model provider and validates them at the boundary.
package contract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput marks model output that does not satisfy the declared
// response shape.
var ErrMalformedOutput = errors.New("malformed model output")

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Sentiment is the label attached to user messages.
type Sentiment string

const (
	Positive Sentiment = "Positive"
	Negative Sentiment = "Negative"
	Neutral  Sentiment = "Neutral"
)

// ParseSentiment accepts exactly one of the three labels.
func ParseSentiment(raw string) (Sentiment, error) {
	switch s := Sentiment(raw); s {
	case Positive, Negative, Neutral:
		return s, nil
	default:
		return "", fmt.Errorf("unknown sentiment %q", raw)
	}
}

// Valid reports whether s is one of the recognised labels.
func (s Sentiment) Valid() bool {
	_, err := ParseSentiment(string(s))
	return err == nil
}

// Form is the single logical submit action: prompt text plus an optional
// attachment already encoded as a data URI.
type Form struct {
	Prompt         string `json:"prompt"`
	PhotoDataURI   string `json:"photoDataUri,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

// HasPrompt reports whether the prompt contains anything besides whitespace.
func (f Form) HasPrompt() bool {
	return strings.TrimSpace(f.Prompt) != ""
}

// HasAttachment reports whether a data URI was supplied.
func (f Form) HasAttachment() bool {
	return f.PhotoDataURI != ""
}

// GenerateInput feeds the response generation template.
type GenerateInput struct {
	Prompt       string `json:"prompt"`
	PhotoDataURI string `json:"photoDataUri,omitempty"`
}

// Validate checks the prompt and the optional attachment.
func (in GenerateInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" && in.PhotoDataURI == "" {
		return invalid("prompt", "required when no file is attached")
	}
	if in.PhotoDataURI != "" {
		uri, err := ParseDataURI(in.PhotoDataURI)
		if err != nil {
			return invalid("photoDataUri", err.Error())
		}
		if len(uri.Data) == 0 {
			return invalid("photoDataUri", "attached file is empty")
		}
	}
	return nil
}

// Attachment returns the decoded attachment, if any.
func (in GenerateInput) Attachment() (*DataURI, error) {
	if in.PhotoDataURI == "" {
		return nil, nil
	}
	uri, err := ParseDataURI(in.PhotoDataURI)
	if err != nil {
		return nil, invalid("photoDataUri", err.Error())
	}
	return &uri, nil
}

// GenerateOutput is the reply plus follow-up suggestions.
type GenerateOutput struct {
	Response    string   `json:"response"`
	Suggestions []string `json:"suggestions"`
}

// FilterInput feeds the content filter template.
type FilterInput struct {
	Text string `json:"text"`
}

// Validate requires non-blank text.
func (in FilterInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return invalid("text", "required")
	}
	return nil
}

// FilterOutput reports whether text is appropriate and, when it is not,
// either a redacted version or a block indication.
type FilterOutput struct {
	IsAppropriate bool   `json:"isAppropriate"`
	FilteredText  string `json:"filteredText"`
	Blocked       bool   `json:"blocked,omitempty"`
}

// SentimentInput feeds the sentiment classification template.
type SentimentInput struct {
	Text string `json:"text"`
}

// Validate requires non-blank text.
func (in SentimentInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return invalid("text", "required")
	}
	return nil
}

// SentimentOutput carries exactly one label.
type SentimentOutput struct {
	Sentiment Sentiment `json:"sentiment"`
}

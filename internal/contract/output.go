package contract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractObject returns the outermost JSON object in content. Models sometimes
// wrap the object in prose or code fences.
func extractObject(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: missing json object", ErrMalformedOutput)
	}
	return []byte(trimmed[start : end+1]), nil
}

func decodeObject(content string, v any) error {
	raw, err := extractObject(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedOutput, field)
}

// DecodeGenerateOutput parses a generation reply. Both fields are required and
// every suggestion must be non-empty.
func DecodeGenerateOutput(content string) (GenerateOutput, error) {
	var payload struct {
		Response    *string   `json:"response"`
		Suggestions *[]string `json:"suggestions"`
	}
	if err := decodeObject(content, &payload); err != nil {
		return GenerateOutput{}, err
	}

	if payload.Response == nil {
		return GenerateOutput{}, missing("response")
	}
	if payload.Suggestions == nil {
		return GenerateOutput{}, missing("suggestions")
	}
	for i, s := range *payload.Suggestions {
		if strings.TrimSpace(s) == "" {
			return GenerateOutput{}, fmt.Errorf("%w: suggestion %d is empty", ErrMalformedOutput, i)
		}
	}

	return GenerateOutput{
		Response:    *payload.Response,
		Suggestions: *payload.Suggestions,
	}, nil
}

// DecodeFilterOutput parses a content filter verdict. filteredText may only be
// omitted when the text is blocked.
func DecodeFilterOutput(content string) (FilterOutput, error) {
	var payload struct {
		IsAppropriate *bool   `json:"isAppropriate"`
		FilteredText  *string `json:"filteredText"`
		Blocked       *bool   `json:"blocked"`
	}
	if err := decodeObject(content, &payload); err != nil {
		return FilterOutput{}, err
	}

	if payload.IsAppropriate == nil {
		return FilterOutput{}, missing("isAppropriate")
	}

	out := FilterOutput{IsAppropriate: *payload.IsAppropriate}
	if payload.Blocked != nil {
		out.Blocked = *payload.Blocked
	}
	if out.IsAppropriate && out.Blocked {
		return FilterOutput{}, fmt.Errorf("%w: appropriate text cannot be blocked", ErrMalformedOutput)
	}
	if payload.FilteredText == nil {
		if !out.Blocked {
			return FilterOutput{}, missing("filteredText")
		}
	} else {
		out.FilteredText = *payload.FilteredText
	}
	return out, nil
}

// DecodeSentimentOutput parses a sentiment verdict. The label must match one
// of the three labels exactly.
func DecodeSentimentOutput(content string) (SentimentOutput, error) {
	var payload struct {
		Sentiment *string `json:"sentiment"`
	}
	if err := decodeObject(content, &payload); err != nil {
		return SentimentOutput{}, err
	}
	if payload.Sentiment == nil {
		return SentimentOutput{}, missing("sentiment")
	}

	label, err := ParseSentiment(*payload.Sentiment)
	if err != nil {
		return SentimentOutput{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return SentimentOutput{Sentiment: label}, nil
}

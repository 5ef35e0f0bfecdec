// Package llm holds provider glue that the eino chat models do not cover:
// moderation thresholds carried as model options and a Gemini chat model.
package llm

import (
	"fmt"

	"github.com/cloudwego/eino/components/model"
)

// HarmCategory is a provider moderation category.
type HarmCategory string

// HarmThreshold is the severity from which content in a category is blocked.
type HarmThreshold string

const (
	CategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	CategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
	CategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	CategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"

	BlockNone           HarmThreshold = "BLOCK_NONE"
	BlockOnlyHigh       HarmThreshold = "BLOCK_ONLY_HIGH"
	BlockMediumAndAbove HarmThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockLowAndAbove    HarmThreshold = "BLOCK_LOW_AND_ABOVE"
)

// SafetySetting pairs a category with its blocking threshold.
type SafetySetting struct {
	Category  HarmCategory  `json:"category" yaml:"category"`
	Threshold HarmThreshold `json:"threshold" yaml:"threshold"`
}

// Validate rejects unknown categories and thresholds.
func (s SafetySetting) Validate() error {
	switch s.Category {
	case CategoryHateSpeech, CategoryDangerousContent, CategoryHarassment, CategorySexuallyExplicit:
	default:
		return fmt.Errorf("unknown harm category %q", s.Category)
	}
	switch s.Threshold {
	case BlockNone, BlockOnlyHigh, BlockMediumAndAbove, BlockLowAndAbove:
	default:
		return fmt.Errorf("unknown harm threshold %q", s.Threshold)
	}
	return nil
}

// DefaultSafetySettings are the thresholds applied to generation and content
// filtering calls.
func DefaultSafetySettings() []SafetySetting {
	return []SafetySetting{
		{Category: CategoryHateSpeech, Threshold: BlockOnlyHigh},
		{Category: CategoryDangerousContent, Threshold: BlockNone},
		{Category: CategoryHarassment, Threshold: BlockMediumAndAbove},
		{Category: CategorySexuallyExplicit, Threshold: BlockLowAndAbove},
	}
}

// CallOptions are provider specific knobs carried through eino model options.
// Providers that do not understand them ignore them.
type CallOptions struct {
	SafetySettings   []SafetySetting
	ResponseMIMEType string
}

// WithSafetySettings forwards moderation thresholds to the provider.
func WithSafetySettings(settings []SafetySetting) model.Option {
	copied := append([]SafetySetting(nil), settings...)
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.SafetySettings = copied
	})
}

// WithJSONResponse asks the provider for a JSON document instead of prose.
func WithJSONResponse() model.Option {
	return model.WrapImplSpecificOptFn(func(o *CallOptions) {
		o.ResponseMIMEType = "application/json"
	})
}

// GetCallOptions resolves CallOptions from a list of model options.
func GetCallOptions(opts ...model.Option) *CallOptions {
	return model.GetImplSpecificOptions(&CallOptions{}, opts...)
}

package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/chatty/backend/internal/contract"
)

// DefaultGeminiBaseURL is the Generative Language API root.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrContentBlocked is returned when the provider refuses on safety grounds.
var ErrContentBlocked = errors.New("content blocked by provider safety settings")

// GeminiConfig configures GeminiChatModel.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	HTTPClient  *http.Client
}

// GeminiChatModel is an eino chat model backed by the generateContent REST
// endpoint. Safety settings and JSON output are taken from CallOptions.
type GeminiChatModel struct {
	apiKey      string
	baseURL     string
	model       string
	temperature *float32
	topP        *float32
	maxTokens   *int
	client      *http.Client
}

var _ model.ChatModel = (*GeminiChatModel)(nil)

// NewGeminiChatModel validates cfg and builds the model.
func NewGeminiChatModel(cfg GeminiConfig) (*GeminiChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	return &GeminiChatModel{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
		client:      client,
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	SafetySettings    []SafetySetting         `json:"safetySettings,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// Generate sends the conversation and returns the first candidate.
func (m *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		TopP:        m.topP,
		MaxTokens:   m.maxTokens,
		Model:       &m.model,
	}, opts...)
	specific := GetCallOptions(opts...)

	req, err := buildGeminiRequest(input)
	if err != nil {
		return nil, err
	}
	req.SafetySettings = specific.SafetySettings
	req.GenerationConfig = &geminiGenerationConfig{
		Temperature:      common.Temperature,
		TopP:             common.TopP,
		MaxOutputTokens:  common.MaxTokens,
		StopSequences:    common.Stop,
		ResponseMIMEType: specific.ResponseMIMEType,
	}

	modelName := m.model
	if common.Model != nil && *common.Model != "" {
		modelName = *common.Model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", m.baseURL, modelName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", m.apiKey)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return toAssistantMessage(decoded)
}

// Stream delivers the complete reply as a single chunk; the structured JSON
// output is only useful once whole.
func (m *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is not supported.
func (m *GeminiChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errors.New("gemini chat model does not support tool calling")
}

// StatusError is a non-200 reply from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini api error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func buildGeminiRequest(input []*schema.Message) (*geminiRequest, error) {
	req := &geminiRequest{Contents: make([]geminiContent, 0, len(input))}

	for _, msg := range input {
		if msg == nil {
			continue
		}
		parts, err := toGeminiParts(msg)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}

		switch msg.Role {
		case schema.System:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, parts...)
		case schema.Assistant:
			req.appendTurn("model", parts)
		default:
			req.appendTurn("user", parts)
		}
	}

	if len(req.Contents) == 0 {
		return nil, errors.New("no user content to send")
	}
	return req, nil
}

// appendTurn folds consecutive messages of the same role into one turn.
func (r *geminiRequest) appendTurn(role string, parts []geminiPart) {
	if n := len(r.Contents); n > 0 && r.Contents[n-1].Role == role {
		r.Contents[n-1].Parts = append(r.Contents[n-1].Parts, parts...)
		return
	}
	r.Contents = append(r.Contents, geminiContent{Role: role, Parts: parts})
}

func toGeminiParts(msg *schema.Message) ([]geminiPart, error) {
	parts := make([]geminiPart, 0, 1+len(msg.MultiContent))
	if msg.Content != "" {
		parts = append(parts, geminiPart{Text: msg.Content})
	}

	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			if part.Text != "" {
				parts = append(parts, geminiPart{Text: part.Text})
			}
		case schema.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			p, err := mediaPart(part.ImageURL.URL, part.ImageURL.MIMEType)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case schema.ChatMessagePartTypeFileURL:
			if part.FileURL == nil {
				continue
			}
			p, err := mediaPart(part.FileURL.URL, part.FileURL.MIMEType)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
	}
	return parts, nil
}

func mediaPart(url, mimeType string) (geminiPart, error) {
	if !strings.HasPrefix(url, "data:") {
		return geminiPart{FileData: &geminiFileData{MimeType: mimeType, FileURI: url}}, nil
	}
	uri, err := contract.ParseDataURI(url)
	if err != nil {
		return geminiPart{}, fmt.Errorf("invalid attachment: %w", err)
	}
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: uri.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(uri.Data),
	}}, nil
}

func toAssistantMessage(resp geminiResponse) (*schema.Message, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", contract.ErrMalformedOutput)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "PROHIBITED_CONTENT" {
		return nil, fmt.Errorf("%w: finish reason %s", ErrContentBlocked, candidate.FinishReason)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: no content in response (finish reason %s)", contract.ErrMalformedOutput, candidate.FinishReason)
	}

	msg := schema.AssistantMessage(text.String(), nil)
	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: candidate.FinishReason}
	if u := resp.UsageMetadata; u != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return msg, nil
}

package ai

import (
	_ "embed"
	"fmt"
	"slices"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/chatty/backend/internal/llm"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// 模板名称，与 prompts.yaml 的顶层键一致。
const (
	TemplateGenerateResponse = "generate_response"
	TemplateFilterContent    = "filter_content"
	TemplateAnalyzeSentiment = "analyze_sentiment"
)

// ModelRole selects which configured chat model runs a template.
type ModelRole string

const (
	RoleResponse   ModelRole = "response"
	RoleClassifier ModelRole = "classifier"
)

// attachmentsKey is the optional placeholder that carries file parts.
const attachmentsKey = "attachments"

// suppliedVars 每个操作填充的模板变量（不含 attachments 占位符）
var suppliedVars = map[string][]string{
	TemplateGenerateResponse: {"prompt", "has_prompt", "has_attachment", "mime_type", "file_text"},
	TemplateFilterContent:    {"text"},
	TemplateAnalyzeSentiment: {"text"},
}

// Template is one named prompt with the moderation thresholds sent alongside it.
type Template struct {
	Name   string              `yaml:"-"`
	Model  ModelRole           `yaml:"model"`
	Vars   []string            `yaml:"vars"`
	System string              `yaml:"system"`
	User   string              `yaml:"user"`
	Safety []llm.SafetySetting `yaml:"safety"`
}

// ChatTemplate renders the system and user turns with Go text/template syntax.
// The generation template also accepts attached files as an extra user turn.
func (t *Template) ChatTemplate() prompt.ChatTemplate {
	messages := []schema.MessagesTemplate{
		schema.SystemMessage(t.System),
		schema.UserMessage(t.User),
	}
	if t.Name == TemplateGenerateResponse {
		messages = append(messages, schema.MessagesPlaceholder(attachmentsKey, true))
	}
	return prompt.FromMessages(schema.GoTemplate, messages...)
}

func (t *Template) validate() error {
	switch t.Model {
	case RoleResponse, RoleClassifier:
	default:
		return fmt.Errorf("template %s: unknown model role %q", t.Name, t.Model)
	}
	if t.System == "" || t.User == "" {
		return fmt.Errorf("template %s: system and user prompts are required", t.Name)
	}
	for _, s := range t.Safety {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	return nil
}

// checkVars reports a template whose declared vars differ from what its
// operation supplies.
func (t *Template) checkVars() error {
	want := slices.Sorted(slices.Values(suppliedVars[t.Name]))
	got := slices.Sorted(slices.Values(t.Vars))
	if !slices.Equal(want, got) {
		return fmt.Errorf("template %s: declares vars %v, operation supplies %v", t.Name, got, want)
	}
	return nil
}

// Templates indexes prompt templates by name.
type Templates map[string]*Template

// LoadTemplates parses a prompts document and checks that every required
// template is present.
func LoadTemplates(data []byte) (Templates, error) {
	var raw map[string]*Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}

	templates := make(Templates, len(raw))
	for name, tpl := range raw {
		if tpl == nil {
			return nil, fmt.Errorf("template %s is empty", name)
		}
		tpl.Name = name
		if err := tpl.validate(); err != nil {
			return nil, err
		}
		templates[name] = tpl
	}

	for _, name := range []string{TemplateGenerateResponse, TemplateFilterContent, TemplateAnalyzeSentiment} {
		tpl, ok := templates[name]
		if !ok {
			return nil, fmt.Errorf("missing prompt template %s", name)
		}
		if err := tpl.checkVars(); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

// DefaultTemplates returns the embedded prompt set.
func DefaultTemplates() Templates {
	templates, err := LoadTemplates(defaultPrompts)
	if err != nil {
		panic(err)
	}
	return templates
}

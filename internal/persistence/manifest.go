package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

// lcObject is the serialized form LangChain uses for prompt objects in the
// hub: a constructor id plus keyword arguments.
type lcObject struct {
	Lc     int             `json:"lc"`
	Type   string          `json:"type"`
	Id     []string        `json:"id"`
	Kwargs json.RawMessage `json:"kwargs"`
}

type chatPromptKwargs struct {
	InputVariables []string          `json:"input_variables"`
	Messages       []json.RawMessage `json:"messages"`
}

type messageTemplateKwargs struct {
	Prompt json.RawMessage `json:"prompt"`
}

type promptKwargs struct {
	InputVariables []string `json:"input_variables"`
	Template       string   `json:"template"`
	TemplateFormat string   `json:"template_format"`
}

type placeholderKwargs struct {
	VariableName string `json:"variable_name"`
	Optional     bool   `json:"optional,omitempty"`
}

var messageClasses = map[domain.Role]string{
	domain.RoleSystem:    "SystemMessagePromptTemplate",
	domain.RoleUser:      "HumanMessagePromptTemplate",
	domain.RoleAssistant: "AIMessagePromptTemplate",
}

func classRole(class string) (domain.Role, bool) {
	for role, c := range messageClasses {
		if c == class {
			return role, true
		}
	}
	return "", false
}

func lcClass(o lcObject) string {
	if len(o.Id) == 0 {
		return ""
	}
	return o.Id[len(o.Id)-1]
}

func decodeManifest(raw json.RawMessage) ([]domain.PromptMessage, error) {
	var root lcObject
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if lcClass(root) != "ChatPromptTemplate" {
		return nil, fmt.Errorf("unsupported manifest type %q", lcClass(root))
	}

	var kwargs chatPromptKwargs
	if err := json.Unmarshal(root.Kwargs, &kwargs); err != nil {
		return nil, fmt.Errorf("decode manifest kwargs: %w", err)
	}

	msgs := make([]domain.PromptMessage, 0, len(kwargs.Messages))
	for i, rawMsg := range kwargs.Messages {
		var obj lcObject
		if err := json.Unmarshal(rawMsg, &obj); err != nil {
			return nil, fmt.Errorf("decode manifest message %d: %w", i, err)
		}

		class := lcClass(obj)
		if class == "MessagesPlaceholder" {
			var ph placeholderKwargs
			if err := json.Unmarshal(obj.Kwargs, &ph); err != nil {
				return nil, fmt.Errorf("decode placeholder %d: %w", i, err)
			}
			msgs = append(msgs, domain.PromptMessage{Placeholder: ph.VariableName})
			continue
		}

		role, ok := classRole(class)
		if !ok {
			return nil, fmt.Errorf("unsupported manifest message type %q", class)
		}

		var mk messageTemplateKwargs
		if err := json.Unmarshal(obj.Kwargs, &mk); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		var prompt lcObject
		if err := json.Unmarshal(mk.Prompt, &prompt); err != nil {
			return nil, fmt.Errorf("decode message %d prompt: %w", i, err)
		}
		var pk promptKwargs
		if err := json.Unmarshal(prompt.Kwargs, &pk); err != nil {
			return nil, fmt.Errorf("decode message %d prompt kwargs: %w", i, err)
		}

		msgs = append(msgs, domain.PromptMessage{Role: role, Template: pk.Template})
	}

	return msgs, nil
}

func lcConstructor(class []string, kwargs any) (json.RawMessage, error) {
	rawKwargs, err := json.Marshal(kwargs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(lcObject{Lc: 1, Type: "constructor", Id: class, Kwargs: rawKwargs})
}

func encodeManifest(tmpl domain.PromptTemplate) (json.RawMessage, error) {
	msgs := make([]json.RawMessage, 0, len(tmpl.Messages))

	for _, m := range tmpl.Messages {
		if m.Placeholder != "" {
			raw, err := lcConstructor(
				[]string{"langchain", "prompts", "chat", "MessagesPlaceholder"},
				placeholderKwargs{VariableName: m.Placeholder})
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, raw)
			continue
		}

		class, ok := messageClasses[m.Role]
		if !ok {
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}

		single := domain.PromptTemplate{Messages: []domain.PromptMessage{m}}
		vars := single.InputVariables()
		if vars == nil {
			vars = []string{}
		}

		prompt, err := lcConstructor(
			[]string{"langchain", "prompts", "prompt", "PromptTemplate"},
			promptKwargs{InputVariables: vars, Template: m.Template, TemplateFormat: "f-string"})
		if err != nil {
			return nil, err
		}

		raw, err := lcConstructor(
			[]string{"langchain", "prompts", "chat", class},
			messageTemplateKwargs{Prompt: prompt})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, raw)
	}

	vars := tmpl.InputVariables()
	if vars == nil {
		vars = []string{}
	}

	return lcConstructor(
		[]string{"langchain", "prompts", "chat", "ChatPromptTemplate"},
		chatPromptKwargs{InputVariables: vars, Messages: msgs})
}

package domain

import (
	"fmt"
	"strings"
)

const MessagesPlaceholder = "messages"

// PromptMessage is either a role/template pair or, when Placeholder is set, a
// slot that expands into the running conversation.
type PromptMessage struct {
	Role        Role   `json:"role"`
	Template    string `json:"template,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

type PromptTemplate struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Messages []PromptMessage   `json:"messages"`
	Partials map[string]string `json:"-"`
}

// NewSystemPrompt builds the shape pushed by the optimizer: one system
// message followed by the conversation placeholder.
func NewSystemPrompt(name string, system string) PromptTemplate {
	return PromptTemplate{
		Name: name,
		Messages: []PromptMessage{
			{Role: RoleSystem, Template: system},
			{Placeholder: MessagesPlaceholder},
		},
	}
}

// SystemTemplate returns the template of the first system message.
func (p PromptTemplate) SystemTemplate() string {
	for _, m := range p.Messages {
		if m.Placeholder == "" && m.Role == RoleSystem {
			return m.Template
		}
	}
	return ""
}

// Partial returns a copy with vars bound ahead of Format.
func (p PromptTemplate) Partial(vars map[string]string) PromptTemplate {
	partials := make(map[string]string, len(p.Partials)+len(vars))
	for k, v := range p.Partials {
		partials[k] = v
	}
	for k, v := range vars {
		partials[k] = v
	}
	p.Partials = partials
	return p
}

// InputVariables lists the template variables not yet bound by Partial, in
// order of first appearance, placeholders included.
func (p PromptTemplate) InputVariables() []string {
	seen := map[string]bool{}
	var vars []string
	add := func(name string) {
		if _, ok := p.Partials[name]; ok || seen[name] {
			return
		}
		seen[name] = true
		vars = append(vars, name)
	}

	for _, m := range p.Messages {
		if m.Placeholder != "" {
			add(m.Placeholder)
			continue
		}
		names, err := templateVariables(m.Template)
		if err != nil {
			continue
		}
		for _, n := range names {
			add(n)
		}
	}
	return vars
}

// Format renders every message with vars (and the bound partials) and
// expands placeholders with history.
func (p PromptTemplate) Format(vars map[string]string, history []Turn) ([]Turn, error) {
	all := make(map[string]string, len(p.Partials)+len(vars))
	for k, v := range p.Partials {
		all[k] = v
	}
	for k, v := range vars {
		all[k] = v
	}

	out := make([]Turn, 0, len(p.Messages)+len(history))
	for _, m := range p.Messages {
		if m.Placeholder != "" {
			for _, t := range history {
				out = append(out, Turn{Role: t.Role, Content: t.Content})
			}
			continue
		}

		content, err := FormatFString(m.Template, all)
		if err != nil {
			return nil, fmt.Errorf("format %s message of prompt %s: %w", m.Role, p.Name, err)
		}
		out = append(out, Turn{Role: m.Role, Content: content})
	}

	return out, nil
}

// FormatFString substitutes {name} fields with vars. Doubled braces are
// literal braces.
func FormatFString(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	err := scanFString(tmpl, func(lit string) {
		b.WriteString(lit)
	}, func(name string) error {
		v, ok := vars[name]
		if !ok {
			return fmt.Errorf("missing variable %q", name)
		}
		b.WriteString(v)
		return nil
	})
	if err != nil {
		return "", err
	}

	return b.String(), nil
}

func templateVariables(tmpl string) ([]string, error) {
	var names []string
	err := scanFString(tmpl, func(string) {}, func(name string) error {
		names = append(names, name)
		return nil
	})
	return names, err
}

func scanFString(tmpl string, literal func(string), field func(string) error) error {
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			literal("{")
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			literal("}")
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end == -1 {
				return fmt.Errorf("unclosed field at offset %d", i)
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			if name == "" {
				return fmt.Errorf("empty field at offset %d", i)
			}
			if err := field(name); err != nil {
				return err
			}
			i += end + 2
		case c == '}':
			return fmt.Errorf("single '}' at offset %d", i)
		default:
			j := i
			for j < len(tmpl) && tmpl[j] != '{' && tmpl[j] != '}' {
				j++
			}
			literal(tmpl[i:j])
			i = j
		}
	}
	return nil
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFString(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		vars    map[string]string
		want    string
		wantErr bool
	}{
		{name: "plain", tmpl: "no fields", want: "no fields"},
		{name: "substitution", tmpl: "a {x} b", vars: map[string]string{"x": "1"}, want: "a 1 b"},
		{name: "escaped braces", tmpl: "{{literal}} {x}", vars: map[string]string{"x": "v"}, want: "{literal} v"},
		{name: "value keeps braces", tmpl: "{x}", vars: map[string]string{"x": "{y}"}, want: "{y}"},
		{name: "missing variable", tmpl: "{x}", wantErr: true},
		{name: "unclosed field", tmpl: "{x", vars: map[string]string{"x": "1"}, wantErr: true},
		{name: "lone closing brace", tmpl: "x}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFString(tt.tmpl, tt.vars)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromptTemplate_FormatExpandsPlaceholder(t *testing.T) {
	p := NewSystemPrompt("owner/prompt", "Summarize.\n{examples}").
		Partial(map[string]string{"examples": "<example/>"})

	history := []Turn{
		{Role: RoleUser, Content: "PAPER TEXT"},
		{Role: RoleAssistant, Content: "summary", TokenId: "tok"},
	}

	msgs, err := p.Format(nil, history)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, Turn{Role: RoleSystem, Content: "Summarize.\n<example/>"}, msgs[0])
	assert.Equal(t, Turn{Role: RoleUser, Content: "PAPER TEXT"}, msgs[1])
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "summary"}, msgs[2])
}

func TestPromptTemplate_InputVariables(t *testing.T) {
	p := PromptTemplate{Messages: []PromptMessage{
		{Role: RoleSystem, Template: "{current_prompt} {prompt_versions} {{x}}"},
		{Role: RoleUser, Template: "{conversation} {final_value} {current_prompt}"},
		{Placeholder: MessagesPlaceholder},
	}}

	assert.Equal(t,
		[]string{"current_prompt", "prompt_versions", "conversation", "final_value", "messages"},
		p.InputVariables())

	bound := p.Partial(map[string]string{"prompt_versions": ""})
	assert.NotContains(t, bound.InputVariables(), "prompt_versions")
}

func TestPromptTemplate_SystemTemplate(t *testing.T) {
	assert.Equal(t, "sys", NewSystemPrompt("p", "sys").SystemTemplate())
	assert.Equal(t, "", PromptTemplate{}.SystemTemplate())
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1, Score(ThumbsUp))
	assert.Equal(t, 0, Score(ThumbsDown))
	assert.Equal(t, 0, Score(""))
	assert.Equal(t, 0, Score("maybe"))
}

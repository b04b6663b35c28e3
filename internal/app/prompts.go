package app

import "github.com/felixbrock/papersummarizer/internal/domain"

// Seed prompts for a local hub that has never seen the configured names.

const defaultSummarizerSystem = `You are an assistant that writes tweet-length summaries of research papers.
Read the paper the user sends and reply with a summary of at most 280 characters
wrapped in <summary></summary> tags. Lead with the main finding. You may add a
short note before or after the tags.

Here are summaries reviewers have approved:
{examples}`

const defaultOptimizerSystem = `You improve system prompts for a paper summarizer from reviewer feedback.`

const defaultOptimizerHuman = `Recent versions of the summarizer prompt, newest first:
{prompt_versions}

The prompt used in this conversation:
<current_prompt>
{current_prompt}
</current_prompt>

The conversation:
{conversation}

The summary the reviewer finally approved:
<final_value>
{final_value}
</final_value>

Rewrite the current prompt so that future summaries come out like the approved
one without edits. Keep the {{examples}} variable. Reply with the new prompt
wrapped in <improved_prompt></improved_prompt> tags.`

func DefaultSummarizerPrompt(name string) domain.PromptTemplate {
	return domain.NewSystemPrompt(name, defaultSummarizerSystem)
}

func DefaultOptimizerPrompt(name string) domain.PromptTemplate {
	return domain.PromptTemplate{
		Name: name,
		Messages: []domain.PromptMessage{
			{Role: domain.RoleSystem, Template: defaultOptimizerSystem},
			{Role: domain.RoleUser, Template: defaultOptimizerHuman},
		},
	}
}

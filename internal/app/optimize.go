package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/felixbrock/papersummarizer/internal/llm"
	"github.com/google/uuid"
)

// Optimizer rewrites the summarizer prompt from a positively rated
// conversation and pushes the result as the prompt's new head version.
type Optimizer struct {
	Hub                 PromptHub
	LLM                 llm.Provider
	Runs                RunRepo
	PromptName          string
	OptimizerPromptName string
	BatchSize           int
}

type OptimizeInput struct {
	Current     domain.PromptTemplate
	Turns       []domain.Turn
	Signal      string
	FinalValue  string
	Temperature float64
}

func formatConversation(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for i, t := range turns {
		lines = append(lines, fmt.Sprintf("<turn idx=%d>\n%s: %s\n</turn idx=%d>", i, t.Role, t.Content, i))
	}
	return strings.Join(lines, "\n")
}

func (o Optimizer) promptVersions(ctx context.Context) (string, error) {
	commits, err := o.Hub.ListCommits(ctx, o.PromptName, o.BatchSize)
	if err != nil {
		return "", err
	}

	blocks := make([]string, 0, len(commits))
	for _, c := range commits {
		p, err := o.Hub.Pull(ctx, o.PromptName, c.Hash)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, fmt.Sprintf("<prompt version=%s>\n%s\n</prompt>", c.Hash, p.SystemTemplate()))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// Optimize returns the version id of the pushed prompt. A response without
// <improved_prompt> markers returns domain.ErrNoImprovedPrompt and pushes
// nothing.
func (o Optimizer) Optimize(ctx context.Context, in OptimizeInput) (string, error) {
	versions, err := o.promptVersions(ctx)
	if err != nil {
		return "", fmt.Errorf("list versions of %s: %w", o.PromptName, err)
	}

	optimizerPrompt, err := o.Hub.Pull(ctx, o.OptimizerPromptName, "")
	if err != nil {
		return "", fmt.Errorf("pull prompt %s: %w", o.OptimizerPromptName, err)
	}

	conversation := formatConversation(in.Turns)
	if domain.Score(in.Signal) > 0 {
		conversation = fmt.Sprintf("<rating>User rated this %s</rating>\n\n", in.Signal) + conversation
	}

	msgs, err := optimizerPrompt.Format(map[string]string{
		"prompt_versions": versions,
		"current_prompt":  in.Current.SystemTemplate(),
		"conversation":    conversation,
		"final_value":     in.FinalValue,
	}, nil)
	if err != nil {
		return "", err
	}

	run := domain.Run{
		Id:        uuid.NewString(),
		Name:      "Optimizer",
		Type:      "chain",
		State:     domain.RunStateRunning,
		Inputs:    map[string]any{"prompt": o.PromptName, "current_version": in.Current.Version},
		StartTime: time.Now().UTC(),
	}
	if err := o.Runs.Insert(ctx, run); err != nil {
		slog.Warn("could not record run", "run_id", run.Id, "error", err)
	}

	raw, err := o.LLM.Chat(ctx, llm.Request{Messages: toMessages(msgs), Temperature: in.Temperature})
	if err == nil {
		var improved string
		improved, err = extractImprovedPrompt(raw)
		if err == nil {
			run.Outputs = map[string]any{"output": improved}
			raw = improved
		}
	}

	run.EndTime = time.Now().UTC()
	run.State = domain.RunStateCompleted
	if err != nil {
		run.State = domain.RunStateFailed
		run.Error = err.Error()
	}
	if uErr := o.Runs.Update(ctx, run); uErr != nil {
		slog.Warn("could not record run", "run_id", run.Id, "error", uErr)
	}
	if err != nil {
		return "", err
	}

	version, err := o.Hub.Push(ctx, o.PromptName, domain.NewSystemPrompt(o.PromptName, raw))
	if err != nil {
		return "", err
	}

	slog.Info("prompt updated", "prompt", o.PromptName, "version", version, "run_id", run.Id)
	return version, nil
}

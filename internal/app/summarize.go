package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/felixbrock/papersummarizer/internal/llm"
	"github.com/google/uuid"
)

// Summarizer turns a pasted arXiv id into a streamed tweet-length summary.
type Summarizer struct {
	Papers      PaperRepo
	Hub         PromptHub
	Sampler     Sampler
	Feedback    FeedbackRepo
	Runs        RunRepo
	Events      EventRepo
	LLM         llm.Provider
	PromptName  string
	FeedbackKey string
}

type SummaryResult struct {
	PaperId string
	RunId   string
	Raw     string
	Parsed  domain.ParsedSummary
	Token   domain.FeedbackToken
}

func toMessages(turns []domain.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

func (s Summarizer) fewShots(ctx context.Context, session *Session) (string, error) {
	if block, ok := session.cachedFewShots(); ok {
		return block, nil
	}
	block, err := s.Sampler.Block(ctx)
	if err != nil {
		return "", fmt.Errorf("sample few-shot examples: %w", err)
	}
	session.cacheFewShots(block)
	return block, nil
}

// Summarize appends the paper as a user turn, streams the completion to
// onChunk and appends the full response as an assistant turn bound to a
// fresh feedback token.
func (s Summarizer) Summarize(ctx context.Context, session *Session, input string, onChunk func(string)) (*SummaryResult, error) {
	if session.State() == SessionEnded {
		return nil, domain.ErrSessionEnded
	}

	paperId, err := ExtractPaperId(input)
	if err != nil {
		return nil, err
	}

	paper, err := s.Papers.Fetch(ctx, paperId)
	if err != nil {
		return nil, err
	}

	if err := session.addUserTurn(paper.Content); err != nil {
		return nil, err
	}
	answered := false
	defer func() {
		if !answered {
			session.dropUnansweredTurn()
		}
	}()

	examples, err := s.fewShots(ctx, session)
	if err != nil {
		return nil, err
	}

	prompt, err := s.Hub.Pull(ctx, s.PromptName, session.PromptVersion())
	if err != nil {
		return nil, fmt.Errorf("pull prompt %s: %w", s.PromptName, err)
	}

	msgs, err := prompt.Partial(map[string]string{"examples": examples}).Format(nil, session.Turns())
	if err != nil {
		return nil, err
	}

	run := domain.Run{
		Id:        uuid.NewString(),
		Name:      "Summarizer",
		Type:      "chain",
		State:     domain.RunStateRunning,
		Inputs:    map[string]any{"paper_id": paperId, "prompt_version": prompt.Version},
		StartTime: time.Now().UTC(),
	}
	if err := s.Runs.Insert(ctx, run); err != nil {
		slog.Warn("could not record run", "run_id", run.Id, "error", err)
	}

	raw, err := s.complete(ctx, msgs, session.Temperature(), onChunk)
	run.EndTime = time.Now().UTC()
	if err != nil {
		run.State = domain.RunStateFailed
		run.Error = err.Error()
		if uErr := s.Runs.Update(ctx, run); uErr != nil {
			slog.Warn("could not record run", "run_id", run.Id, "error", uErr)
		}
		return nil, fmt.Errorf("summarize %s: %w", paperId, err)
	}

	run.State = domain.RunStateCompleted
	run.Outputs = map[string]any{"output": raw}
	if err := s.Runs.Update(ctx, run); err != nil {
		slog.Warn("could not record run", "run_id", run.Id, "error", err)
	}

	token, err := s.Feedback.CreateToken(ctx, run.Id, s.FeedbackKey)
	if err != nil {
		return nil, err
	}

	session.addAssistantTurn(raw, *token, *prompt)
	answered = true

	if err := s.Events.Capture(ctx, "summary_generated", session.Id, map[string]any{
		"paper_id":       paperId,
		"prompt_version": prompt.Version,
		"temperature":    session.Temperature(),
	}); err != nil {
		slog.Warn("could not capture event", "event", "summary_generated", "error", err)
	}

	slog.Info("summary generated", "session_id", session.Id, "paper_id", paperId, "run_id", run.Id)

	return &SummaryResult{
		PaperId: paperId,
		RunId:   run.Id,
		Raw:     raw,
		Parsed:  ParseSummary(raw),
		Token:   *token,
	}, nil
}

func (s Summarizer) complete(ctx context.Context, turns []domain.Turn, temperature float64, onChunk func(string)) (string, error) {
	stream, err := s.LLM.StreamChat(ctx, llm.Request{Messages: toMessages(turns), Temperature: temperature})
	if err != nil {
		return "", err
	}

	raw, err := llm.Collect(stream, onChunk)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", errors.New("model returned an empty response")
	}
	return raw, nil
}

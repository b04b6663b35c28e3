package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

const (
	noteExampleSaved   = "Example saved."
	noteUpdated        = "Summarizer updated!"
	noteNotUpdated     = "The optimizer returned no improved prompt, so the summarizer was left unchanged."
	noteThanks         = "Thanks for the feedback! This session has ended."
	noteExampleFailure = "The example could not be saved."
)

// FeedbackRecorder records a reviewer's rating of the pending summary and,
// on a thumbs up, grows the example dataset and rewrites the prompt.
type FeedbackRecorder struct {
	Feedback    FeedbackRepo
	Datasets    DatasetRepo
	Events      EventRepo
	Optimizer   Optimizer
	DatasetName string
}

type FeedbackInput struct {
	Signal  string
	Comment string
	// Summary is the reviewer's edited summary, not the generated text.
	Summary string
}

type FeedbackOutcome struct {
	Score         int
	ExampleSaved  bool
	PromptVersion string
	Notes         []string
}

// Record ends the session whatever the outcome. Feedback submission and the
// example append run concurrently and both finish before the optimizer
// starts. A failed append is reported but does not hold back the optimizer.
// A failed submission aborts.
func (f FeedbackRecorder) Record(ctx context.Context, session *Session, in FeedbackInput) (*FeedbackOutcome, error) {
	token, err := session.claimPendingToken()
	if err != nil {
		return nil, err
	}

	score := domain.Score(in.Signal)
	original := session.OriginalInput()
	summary := strings.TrimSpace(in.Summary)
	out := &FeedbackOutcome{Score: score}

	var wg sync.WaitGroup
	var submitErr, appendErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		submitErr = f.Feedback.InsertFromToken(ctx, token, score, in.Comment)
	}()

	if score > 0 && original != "" && summary != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appendErr = f.appendExample(ctx, domain.Example{Input: original, Output: summary})
		}()
	}

	wg.Wait()

	if submitErr != nil {
		return nil, errors.Join(fmt.Errorf("submit feedback: %w", submitErr), appendErr)
	}
	if appendErr != nil {
		slog.Error(fmt.Sprintf("Error occured: %s", appendErr.Error()))
		out.Notes = append(out.Notes, noteExampleFailure)
	} else if score > 0 && original != "" && summary != "" {
		out.ExampleSaved = true
		out.Notes = append(out.Notes, noteExampleSaved)
	}

	if err := f.Events.Capture(ctx, "feedback_submitted", session.Id, map[string]any{
		"score":         score,
		"example_saved": out.ExampleSaved,
		"run_id":        token.RunId,
	}); err != nil {
		slog.Warn("could not capture event", "event", "feedback_submitted", "error", err)
	}

	if score > 0 {
		version, err := f.optimize(ctx, session, in, summary)
		switch {
		case errors.Is(err, domain.ErrNoImprovedPrompt):
			slog.Warn("prompt left unchanged", "prompt", f.Optimizer.PromptName, "error", err)
			out.Notes = append(out.Notes, noteNotUpdated)
		case err != nil:
			f.finish(session, out)
			return out, fmt.Errorf("optimize prompt: %w", err)
		default:
			out.PromptVersion = version
			out.Notes = append(out.Notes, noteUpdated)
			if err := f.Events.Capture(ctx, "prompt_updated", session.Id, map[string]any{"version": version}); err != nil {
				slog.Warn("could not capture event", "event", "prompt_updated", "error", err)
			}
		}
	}

	f.finish(session, out)
	return out, nil
}

func (f FeedbackRecorder) finish(session *Session, out *FeedbackOutcome) {
	out.Notes = append(out.Notes, noteThanks)
	for _, n := range out.Notes {
		session.addNote(n)
	}
}

func (f FeedbackRecorder) optimize(ctx context.Context, session *Session, in FeedbackInput, summary string) (string, error) {
	current := session.Prompt()
	if current == nil {
		return "", domain.ErrNoPendingTurn
	}
	return f.Optimizer.Optimize(ctx, OptimizeInput{
		Current:     *current,
		Turns:       session.Turns(),
		Signal:      in.Signal,
		FinalValue:  summary,
		Temperature: session.Temperature(),
	})
}

// appendExample creates the dataset and retries once when it does not
// exist yet.
func (f FeedbackRecorder) appendExample(ctx context.Context, example domain.Example) error {
	err := f.Datasets.InsertExample(ctx, f.DatasetName, example)
	if !errors.Is(err, domain.ErrDatasetNotFound) {
		return err
	}

	if err := f.Datasets.Create(ctx, f.DatasetName); err != nil {
		return err
	}
	return f.Datasets.InsertExample(ctx, f.DatasetName, example)
}

package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summarized(t *testing.T, f *fixture) *Session {
	t.Helper()
	s := NewSession(1.0)
	_, err := f.app.summarizer.Summarize(context.Background(), s, "please summarize 2404.12345 for me", nil)
	require.NoError(t, err)
	return s
}

func TestSummarize_AppendsPaperAndResponse(t *testing.T) {
	f := newFixture()
	s := NewSession(0.4)

	var chunks []string
	res, err := f.app.summarizer.Summarize(context.Background(), s, "please summarize 2404.12345 for me",
		func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)

	turns := s.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "PAPER TEXT"}, turns[0])
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, f.llm.Reply, turns[1].Content)
	assert.Equal(t, res.Token.Id, turns[1].TokenId)
	assert.Equal(t, f.llm.Reply, strings.Join(chunks, ""))

	assert.Equal(t, domain.ParsedSummary{Preamble: "Here you go.", Summary: "Great paper!", Postscript: "Hope it helps.", Marked: true}, res.Parsed)
	assert.Equal(t, AwaitingFeedback, s.State())

	require.Len(t, f.llm.streams, 1)
	req := f.llm.streams[0]
	assert.InDelta(t, 0.4, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Summarize. ", req.Messages[0].Content)
	assert.Equal(t, "PAPER TEXT", req.Messages[1].Content)

	run := f.runs.runs[res.RunId]
	assert.Equal(t, "Summarizer", run.Name)
	assert.Equal(t, domain.RunStateCompleted, run.State)
	assert.Equal(t, res.RunId, res.Token.RunId)
	assert.Equal(t, []string{"summary_generated"}, f.events.events)
}

func TestSummarize_Errors(t *testing.T) {
	f := newFixture()
	s := NewSession(1.0)

	_, err := f.app.summarizer.Summarize(context.Background(), s, "no id here", nil)
	require.ErrorIs(t, err, domain.ErrNoPaperId)

	_, err = f.app.summarizer.Summarize(context.Background(), s, "1999.00001", nil)
	require.ErrorIs(t, err, domain.ErrPaperNotFound)

	assert.Empty(t, s.Turns())
	assert.Empty(t, f.llm.streams)
	assert.Empty(t, f.feedback.tokens)
}

func TestSummarize_StreamFailureRecordsFailedRun(t *testing.T) {
	f := newFixture()
	f.llm.StreamErr = errors.New("connection reset")
	s := NewSession(1.0)

	_, err := f.app.summarizer.Summarize(context.Background(), s, "2404.12345", nil)
	require.Error(t, err)

	require.Len(t, f.runs.updates, 1)
	assert.Equal(t, domain.RunStateFailed, f.runs.updates[0].State)
	assert.Empty(t, f.feedback.tokens)
	assert.Equal(t, AwaitingInput, s.State())
	assert.Empty(t, s.Turns())

	f.llm.StreamErr = nil
	_, err = f.app.summarizer.Summarize(context.Background(), s, "2404.12345", nil)
	require.NoError(t, err)

	turns := s.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Len(t, f.llm.streams[len(f.llm.streams)-1].Messages, 2)
}

func TestSummarize_FewShotsAreSampledOncePerSession(t *testing.T) {
	f := newFixture()
	f.datasets.datasets["Paper Summarizer"] = []domain.Example{{Input: "old paper", Output: "old summary"}}
	s := NewSession(1.0)

	_, err := f.app.summarizer.Summarize(context.Background(), s, "2404.12345", nil)
	require.NoError(t, err)

	f.datasets.datasets["Paper Summarizer"] = append(f.datasets.datasets["Paper Summarizer"],
		domain.Example{Input: "new paper", Output: "new summary"})

	_, err = f.app.summarizer.Summarize(context.Background(), s, "2404.12345", nil)
	require.NoError(t, err)

	require.Len(t, f.llm.streams, 2)
	for _, req := range f.llm.streams {
		assert.Contains(t, req.Messages[0].Content, "old summary")
		assert.NotContains(t, req.Messages[0].Content, "new summary")
	}
	assert.Len(t, f.llm.streams[1].Messages, 4)
}

func TestSummarize_PullsSelectedVersion(t *testing.T) {
	f := newFixture()
	f.hub.seed(testPrompt, domain.NewSystemPrompt("", "Second. {examples}"))
	s := NewSession(1.0)
	s.SetPromptVersion("v1")

	_, err := f.app.summarizer.Summarize(context.Background(), s, "2404.12345", nil)
	require.NoError(t, err)

	assert.Contains(t, f.hub.pulls, testPrompt+":v1")
	assert.Equal(t, "Summarize. ", f.llm.streams[0].Messages[0].Content)
	assert.Equal(t, "v1", s.Prompt().Version)
}

func TestSummarize_EndedSession(t *testing.T) {
	f := newFixture()
	s := summarized(t, f)
	_, err := s.claimPendingToken()
	require.NoError(t, err)

	_, err = f.app.summarizer.Summarize(context.Background(), s, "2404.12345", nil)
	require.ErrorIs(t, err, domain.ErrSessionEnded)
}

func TestRecord_ThumbsUp(t *testing.T) {
	f := newFixture()
	s := summarized(t, f)

	out, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{
		Signal:  domain.ThumbsUp,
		Comment: "spot on",
		Summary: "Great paper, edited!",
	})
	require.NoError(t, err)

	require.Len(t, f.feedback.submissions, 1)
	assert.Equal(t, 1, f.feedback.submissions[0].score)
	assert.Equal(t, "spot on", f.feedback.submissions[0].comment)
	assert.Equal(t, f.feedback.tokens[0].Id, f.feedback.submissions[0].token.Id)

	assert.Equal(t, 1, f.datasets.creates)
	assert.Equal(t, []domain.Example{{Input: "PAPER TEXT", Output: "Great paper, edited!"}}, f.datasets.datasets["Paper Summarizer"])

	require.Len(t, f.llm.chats, 1)
	require.Len(t, f.hub.pushes, 1)
	pushed := f.hub.pushes[0]
	assert.Equal(t, "Be punchier. {examples}", pushed.SystemTemplate())
	assert.Equal(t, []string{"examples", "messages"}, pushed.InputVariables())

	assert.Equal(t, 1, out.Score)
	assert.True(t, out.ExampleSaved)
	assert.Equal(t, "v2", out.PromptVersion)
	assert.Equal(t, []string{noteExampleSaved, noteUpdated, noteThanks}, s.Notes())
	assert.Equal(t, SessionEnded, s.State())
	assert.Equal(t, []string{"summary_generated", "feedback_submitted", "prompt_updated"}, f.events.events)
}

func TestRecord_ThumbsUpWithExistingDataset(t *testing.T) {
	f := newFixture()
	f.datasets.datasets["Paper Summarizer"] = []domain.Example{}
	s := summarized(t, f)

	_, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "ok"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.datasets.creates)
	assert.Equal(t, 1, f.datasets.inserts)
}

func TestRecord_ThumbsDownOrNoSignal(t *testing.T) {
	for _, signal := range []string{domain.ThumbsDown, "", "meh"} {
		t.Run(signal, func(t *testing.T) {
			f := newFixture()
			s := summarized(t, f)

			out, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: signal, Summary: "Great paper!"})
			require.NoError(t, err)

			require.Len(t, f.feedback.submissions, 1)
			assert.Equal(t, 0, f.feedback.submissions[0].score)
			assert.Equal(t, 0, f.datasets.inserts)
			assert.Empty(t, f.llm.chats)
			assert.Empty(t, f.hub.pushes)
			assert.Equal(t, 0, out.Score)
			assert.Equal(t, []string{noteThanks}, s.Notes())
			assert.Equal(t, SessionEnded, s.State())
		})
	}
}

func TestRecord_EmptySummarySkipsExample(t *testing.T) {
	f := newFixture()
	s := summarized(t, f)

	out, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "   "})
	require.NoError(t, err)

	assert.Equal(t, 0, f.datasets.inserts)
	assert.False(t, out.ExampleSaved)
	assert.Len(t, f.hub.pushes, 1)
}

func TestRecord_FailedAppendDoesNotBlockOptimizer(t *testing.T) {
	f := newFixture()
	f.datasets.datasets["Paper Summarizer"] = []domain.Example{}
	f.datasets.insertErr = errors.New("dataset store unavailable")
	s := summarized(t, f)

	out, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "ok"})
	require.NoError(t, err)

	assert.False(t, out.ExampleSaved)
	assert.Contains(t, out.Notes, noteExampleFailure)
	assert.Len(t, f.hub.pushes, 1)
}

func TestRecord_FailedSubmissionAborts(t *testing.T) {
	f := newFixture()
	f.feedback.submitErr = errors.New("feedback store unavailable")
	s := summarized(t, f)

	_, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "ok"})
	require.ErrorContains(t, err, "feedback store unavailable")

	assert.Empty(t, f.llm.chats)
	assert.Empty(t, f.hub.pushes)
	assert.Equal(t, SessionEnded, s.State())
}

func TestRecord_MissingImprovedPromptSkipsPush(t *testing.T) {
	f := newFixture()
	f.llm.ChatReply = "I would not change anything."
	s := summarized(t, f)

	out, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "ok"})
	require.NoError(t, err)

	assert.Len(t, f.llm.chats, 1)
	assert.Empty(t, f.hub.pushes)
	assert.Equal(t, "", out.PromptVersion)
	assert.Contains(t, out.Notes, noteNotUpdated)
}

func TestRecord_OnlyOncePerSession(t *testing.T) {
	f := newFixture()
	s := summarized(t, f)

	_, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsDown})
	require.NoError(t, err)

	_, err = f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "ok"})
	require.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.Len(t, f.feedback.submissions, 1)
}

func TestRecord_ConcurrentSubmitsClaimOnce(t *testing.T) {
	f := newFixture()
	s := summarized(t, f)

	const clicks = 8
	errs := make([]error, clicks)
	var wg sync.WaitGroup
	for i := range clicks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "ok"})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrSessionEnded)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.feedback.submissions, 1)
	assert.Len(t, f.hub.pushes, 1)
}

func TestRecord_NothingPending(t *testing.T) {
	f := newFixture()
	_, err := f.app.recorder.Record(context.Background(), NewSession(1.0), FeedbackInput{Signal: domain.ThumbsUp})
	require.ErrorIs(t, err, domain.ErrNoPendingTurn)
	assert.Empty(t, f.feedback.submissions)
}

func TestOptimize_PromptContext(t *testing.T) {
	f := newFixture()
	f.hub.seed(testPrompt, domain.NewSystemPrompt("", "Second. {examples}"))
	s := summarized(t, f)

	_, err := f.app.recorder.Record(context.Background(), s, FeedbackInput{Signal: domain.ThumbsUp, Summary: "Final text"})
	require.NoError(t, err)

	require.Len(t, f.llm.chats, 1)
	msgs := f.llm.chats[0].Messages
	require.Len(t, msgs, 2)
	human := msgs[1].Content

	assert.Contains(t, human, "<prompt version=v2>\nSecond. {examples}\n</prompt>\n\n<prompt version=v1>\nSummarize. {examples}\n</prompt>")
	assert.Contains(t, human, "<current_prompt>\nSecond. {examples}\n</current_prompt>")
	assert.Contains(t, human, "<rating>User rated this 👍</rating>\n\n<turn idx=0>\nuser: PAPER TEXT\n</turn idx=0>\n<turn idx=1>\nassistant: Here you go.")
	assert.Contains(t, human, "<final_value>\nFinal text\n</final_value>")
	assert.Contains(t, human, "Keep the {examples} variable.")

	var optimizerRuns int
	for _, r := range f.runs.runs {
		if r.Name == "Optimizer" {
			optimizerRuns++
			assert.Equal(t, domain.RunStateCompleted, r.State)
		}
	}
	assert.Equal(t, 1, optimizerRuns)
}

func TestOptimize_BatchSizeLimitsVersions(t *testing.T) {
	f := newFixture()
	for i := 0; i < 7; i++ {
		f.hub.seed(testPrompt, domain.NewSystemPrompt("", "p {examples}"))
	}

	_, err := f.app.recorder.Optimizer.Optimize(context.Background(), OptimizeInput{
		Current: domain.NewSystemPrompt(testPrompt, "p {examples}"),
		Signal:  domain.ThumbsUp,
	})
	require.NoError(t, err)

	human := f.llm.chats[0].Messages[1].Content
	assert.Equal(t, 5, strings.Count(human, "<prompt version="))
	assert.Contains(t, human, "<prompt version=v8>")
	assert.NotContains(t, human, "<prompt version=v3>")
}

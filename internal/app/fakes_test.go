package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixbrock/papersummarizer/internal/config"
	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/felixbrock/papersummarizer/internal/llm"
)

type fakePapers map[string]string

func (f fakePapers) Fetch(ctx context.Context, paperId string) (*domain.Paper, error) {
	content, ok := f[paperId]
	if !ok {
		return nil, fmt.Errorf("%s: %w", paperId, domain.ErrPaperNotFound)
	}
	return &domain.Paper{Id: paperId, Content: content}, nil
}

type fakeHub struct {
	mu      sync.Mutex
	prompts map[string][]domain.PromptTemplate // oldest first
	pulls   []string
	pushes  []domain.PromptTemplate
}

func newFakeHub() *fakeHub {
	return &fakeHub{prompts: map[string][]domain.PromptTemplate{}}
}

func (h *fakeHub) seed(name string, tmpl domain.PromptTemplate) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	tmpl.Name = name
	tmpl.Version = fmt.Sprintf("v%d", len(h.prompts[name])+1)
	h.prompts[name] = append(h.prompts[name], tmpl)
	return tmpl.Version
}

func (h *fakeHub) ListCommits(ctx context.Context, name string, limit int) ([]domain.PromptCommit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	versions := h.prompts[name]
	if len(versions) == 0 {
		return nil, domain.ErrPromptNotFound
	}
	var out []domain.PromptCommit
	for i := len(versions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, domain.PromptCommit{Hash: versions[i].Version})
	}
	return out, nil
}

func (h *fakeHub) Pull(ctx context.Context, name string, version string) (*domain.PromptTemplate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pulls = append(h.pulls, name+":"+version)
	versions := h.prompts[name]
	for i := len(versions) - 1; i >= 0; i-- {
		if version == "" || versions[i].Version == version {
			p := versions[i]
			return &p, nil
		}
	}
	return nil, domain.ErrPromptNotFound
}

func (h *fakeHub) Push(ctx context.Context, name string, tmpl domain.PromptTemplate) (string, error) {
	h.mu.Lock()
	h.pushes = append(h.pushes, tmpl)
	h.mu.Unlock()
	return h.seed(name, tmpl), nil
}

type fakeDatasets struct {
	mu        sync.Mutex
	datasets  map[string][]domain.Example
	creates   int
	inserts   int
	insertErr error
}

func newFakeDatasets() *fakeDatasets {
	return &fakeDatasets{datasets: map[string][]domain.Example{}}
}

func (d *fakeDatasets) Exists(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.datasets[name]
	return ok, nil
}

func (d *fakeDatasets) Create(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates++
	if _, ok := d.datasets[name]; !ok {
		d.datasets[name] = []domain.Example{}
	}
	return nil
}

func (d *fakeDatasets) ListExamples(ctx context.Context, name string) ([]domain.Example, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	examples, ok := d.datasets[name]
	if !ok {
		return nil, domain.ErrDatasetNotFound
	}
	return append([]domain.Example(nil), examples...), nil
}

func (d *fakeDatasets) InsertExample(ctx context.Context, name string, example domain.Example) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inserts++
	if d.insertErr != nil {
		return d.insertErr
	}
	if _, ok := d.datasets[name]; !ok {
		return domain.ErrDatasetNotFound
	}
	d.datasets[name] = append(d.datasets[name], example)
	return nil
}

type submission struct {
	token   domain.FeedbackToken
	score   int
	comment string
}

type fakeFeedback struct {
	mu          sync.Mutex
	tokens      []domain.FeedbackToken
	submissions []submission
	used        map[string]bool
	submitErr   error
}

func newFakeFeedback() *fakeFeedback {
	return &fakeFeedback{used: map[string]bool{}}
}

func (f *fakeFeedback) CreateToken(ctx context.Context, runId string, key string) (*domain.FeedbackToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := domain.FeedbackToken{Id: fmt.Sprintf("tok-%d", len(f.tokens)+1), RunId: runId}
	f.tokens = append(f.tokens, t)
	return &t, nil
}

func (f *fakeFeedback) InsertFromToken(ctx context.Context, token domain.FeedbackToken, score int, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	if f.used[token.Id] {
		return domain.ErrFeedbackTokenUsed
	}
	f.used[token.Id] = true
	f.submissions = append(f.submissions, submission{token: token, score: score, comment: comment})
	return nil
}

type fakeRuns struct {
	mu      sync.Mutex
	runs    map[string]domain.Run
	updates []domain.Run
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[string]domain.Run{}}
}

func (f *fakeRuns) Insert(ctx context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.Id] = run
	return nil
}

func (f *fakeRuns) Update(ctx context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.Id]; !ok {
		return errors.New("unknown run")
	}
	f.runs[run.Id] = run
	f.updates = append(f.updates, run)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) Capture(ctx context.Context, eventType string, distinctId string, props map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

// fakeLLM streams Reply in 8 byte chunks and answers Chat with
// ChatReply.
type fakeLLM struct {
	mu        sync.Mutex
	Reply     string
	ChatReply string
	StreamErr error
	streams   []llm.Request
	chats     []llm.Request
}

func (f *fakeLLM) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.StreamResponse, error) {
	f.mu.Lock()
	f.streams = append(f.streams, req)
	f.mu.Unlock()

	ch := make(chan llm.StreamResponse, 64)
	go func() {
		defer close(ch)
		for _, c := range splitChunks(f.Reply) {
			ch <- llm.StreamResponse{Content: c}
		}
		if f.StreamErr != nil {
			ch <- llm.StreamResponse{Error: f.StreamErr}
			return
		}
		ch <- llm.StreamResponse{Done: true}
	}()
	return ch, nil
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, req)
	return f.ChatReply, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func splitChunks(s string) []string {
	var out []string
	for len(s) > 0 {
		n := min(len(s), 8)
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}

const testPrompt = "louup/tweet-critic-fewshot"
const testOptimizerPrompt = "louup/convo-optimizer"

type fixture struct {
	papers   fakePapers
	hub      *fakeHub
	datasets *fakeDatasets
	feedback *fakeFeedback
	runs     *fakeRuns
	events   *fakeEvents
	llm      *fakeLLM
	app      *App
}

func newFixture() *fixture {
	f := &fixture{
		papers:   fakePapers{"2404.12345": "PAPER TEXT"},
		hub:      newFakeHub(),
		datasets: newFakeDatasets(),
		feedback: newFakeFeedback(),
		runs:     newFakeRuns(),
		events:   &fakeEvents{},
		llm: &fakeLLM{
			Reply:     "Here you go.\n<summary>Great paper!</summary>\nHope it helps.",
			ChatReply: "Sure.\n<improved_prompt>\nBe punchier. {examples}\n</improved_prompt>",
		},
	}

	f.hub.seed(testPrompt, domain.NewSystemPrompt("", "Summarize. {examples}"))
	f.hub.seed(testOptimizerPrompt, DefaultOptimizerPrompt(""))

	cfg := config.Default()
	cfg.PromptName = testPrompt
	cfg.OptimizerPromptName = testOptimizerPrompt
	cfg.RatePerMinute = 0

	f.app = &App{
		PaperRepo:    f.papers,
		PromptHub:    f.hub,
		DatasetRepo:  f.datasets,
		FeedbackRepo: f.feedback,
		RunRepo:      f.runs,
		EventRepo:    f.events,
		LLM:          f.llm,
		Config:       cfg,
	}
	f.app.init()
	return f
}

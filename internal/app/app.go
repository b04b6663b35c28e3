package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixbrock/papersummarizer/internal/config"
	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/felixbrock/papersummarizer/internal/llm"
)

type PaperRepo interface {
	Fetch(ctx context.Context, paperId string) (*domain.Paper, error)
}

type PromptHub interface {
	ListCommits(ctx context.Context, name string, limit int) ([]domain.PromptCommit, error)
	Pull(ctx context.Context, name string, version string) (*domain.PromptTemplate, error)
	Push(ctx context.Context, name string, tmpl domain.PromptTemplate) (string, error)
}

type DatasetRepo interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string) error
	ListExamples(ctx context.Context, name string) ([]domain.Example, error)
	InsertExample(ctx context.Context, name string, example domain.Example) error
}

type FeedbackRepo interface {
	CreateToken(ctx context.Context, runId string, key string) (*domain.FeedbackToken, error)
	InsertFromToken(ctx context.Context, token domain.FeedbackToken, score int, comment string) error
}

type RunRepo interface {
	Insert(ctx context.Context, run domain.Run) error
	Update(ctx context.Context, run domain.Run) error
}

type EventRepo interface {
	Capture(ctx context.Context, eventType string, distinctId string, props map[string]any) error
}

type App struct {
	PaperRepo    PaperRepo
	PromptHub    PromptHub
	DatasetRepo  DatasetRepo
	FeedbackRepo FeedbackRepo
	RunRepo      RunRepo
	EventRepo    EventRepo
	LLM          llm.Provider
	Config       config.Config

	summarizer Summarizer
	recorder   FeedbackRecorder
	sessions   *SessionStore
	limiter    *clientLimiter
}

func (a *App) init() {
	sampler := Sampler{
		Datasets:    a.DatasetRepo,
		DatasetName: a.Config.DatasetName,
		NumFewShots: a.Config.NumFewShots,
	}

	a.summarizer = Summarizer{
		Papers:      a.PaperRepo,
		Hub:         a.PromptHub,
		Sampler:     sampler,
		Feedback:    a.FeedbackRepo,
		Runs:        a.RunRepo,
		Events:      a.EventRepo,
		LLM:         a.LLM,
		PromptName:  a.Config.PromptName,
		FeedbackKey: a.Config.FeedbackKey,
	}

	a.recorder = FeedbackRecorder{
		Feedback:    a.FeedbackRepo,
		Datasets:    a.DatasetRepo,
		Events:      a.EventRepo,
		DatasetName: a.Config.DatasetName,
		Optimizer: Optimizer{
			Hub:                 a.PromptHub,
			LLM:                 a.LLM,
			Runs:                a.RunRepo,
			PromptName:          a.Config.PromptName,
			OptimizerPromptName: a.Config.OptimizerPromptName,
			BatchSize:           a.Config.PromptBatchSize,
		},
	}

	a.sessions = NewSessionStore(a.Config.Temperature)
	trusted, err := a.Config.TrustedProxyPrefixes()
	if err != nil {
		slog.Error(fmt.Sprintf("Error occured: %s", err.Error()))
	}
	a.limiter = newClientLimiter(a.Config.RatePerMinute, trusted)
}

// Summarizer exposes the wired summarizer for one-shot use outside the
// web app.
func (a *App) Summarizer() Summarizer {
	if a.sessions == nil {
		a.init()
	}
	return a.summarizer
}

func (a *App) Handler() http.Handler {
	if a.sessions == nil {
		a.init()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", ComponentHandler(a.index))
	mux.Handle("POST /chat", ComponentHandler(a.chat))
	mux.Handle("POST /feedback", ComponentHandler(a.feedback))
	mux.Handle("POST /reset", ComponentHandler(a.reset))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "OK")
	})
	mux.Handle("/", ComponentHandler(a.notFound))

	return mux
}

func (a *App) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("App running on %s...", a.Config.Port), "backend", a.Config.Backend, "llm", a.LLM.Name())
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

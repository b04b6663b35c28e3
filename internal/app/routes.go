package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixbrock/papersummarizer/internal/components"
	"github.com/felixbrock/papersummarizer/internal/config"
	"github.com/felixbrock/papersummarizer/internal/domain"
)

func errorResponse(e errCtx, err error) *ComponentResponse {
	return &ComponentResponse{
		Component:   components.Error(e.Code, e.Title, e.Msg),
		Code:        e.Code,
		Message:     e.Msg,
		ContentType: "text/html",
		Error:       err,
	}
}

// hubLink points at the prompt in the hub web UI, pinned to version unless
// it is empty.
func (a *App) hubLink(name string, version string) string {
	if a.Config.Backend != config.BackendLangSmith || a.Config.HubURL == "" {
		return ""
	}
	link := strings.TrimSuffix(a.Config.HubURL, "/") + "/" + name
	if version != "" {
		link += "/" + version
	}
	return link
}

func (a *App) sidebar(ctx context.Context, s *Session) components.Sidebar {
	sb := components.Sidebar{
		Temperature:    s.Temperature(),
		MinTemperature: config.MinTemperature,
		MaxTemperature: config.MaxTemperature,
		PromptVersion:  s.PromptVersion(),
		PromptUrl:      a.hubLink(a.Config.PromptName, s.PromptVersion()),
		OptimizerUrl:   a.hubLink(a.Config.OptimizerPromptName, ""),
	}

	commits, err := a.PromptHub.ListCommits(ctx, a.Config.PromptName, a.Config.PromptBatchSize)
	if err != nil {
		slog.Warn("could not list prompt versions", "prompt", a.Config.PromptName, "error", err)
		return sb
	}
	for _, c := range commits {
		sb.Versions = append(sb.Versions, c.Hash)
	}
	return sb
}

// page splits off the assistant turn awaiting feedback so it renders as the
// editable summary form.
func (a *App) page(ctx context.Context, s *Session) components.Page {
	turns := s.Turns()
	state := s.State()

	p := components.Page{
		Sidebar: a.sidebar(ctx, s),
		State:   state.String(),
		Notes:   s.Notes(),
	}

	if state == AwaitingFeedback && len(turns) > 0 && turns[len(turns)-1].Role == domain.RoleAssistant {
		parsed := ParseSummary(turns[len(turns)-1].Content)
		p.Pending = &parsed
		turns = turns[:len(turns)-1]
	}
	p.Turns = turns

	return p
}

func (a *App) pageResponse(ctx context.Context, s *Session, code int, msg string, err error) *ComponentResponse {
	p := a.page(ctx, s)
	p.Error = msg
	return &ComponentResponse{Component: components.Index(p), Code: code, Message: msg, ContentType: "text/html", Error: err}
}

func (a *App) index(w http.ResponseWriter, r *http.Request) *ComponentResponse {
	s := a.sessions.Get(w, r)
	return a.pageResponse(r.Context(), s, 200, "", nil)
}

func (a *App) applySettings(r *http.Request, s *Session) {
	if raw := r.FormValue("temperature"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			s.SetTemperature(min(max(t, config.MinTemperature), config.MaxTemperature))
		}
	}
	if _, ok := r.Form["prompt_version"]; ok {
		s.SetPromptVersion(strings.TrimSpace(r.FormValue("prompt_version")))
	}
}

func (a *App) chat(w http.ResponseWriter, r *http.Request) *ComponentResponse {
	if err := r.ParseForm(); err != nil {
		return errorResponse(get400("Sorry, the form could not be read."), err)
	}

	if !a.limiter.Allow(r) {
		return errorResponse(get429(), nil)
	}

	ctx := r.Context()
	s := a.sessions.Get(w, r)
	a.applySettings(r, s)

	flusher, _ := w.(http.Flusher)
	started := false
	var writeErr error

	onChunk := func(chunk string) {
		if writeErr != nil {
			return
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/html")
			writeErr = components.StreamOpen(a.page(ctx, s)).Render(ctx, w)
		}
		if writeErr == nil {
			writeErr = components.Chunk(chunk).Render(ctx, w)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	_, err := a.summarizer.Summarize(ctx, s, r.FormValue("input"), onChunk)
	if writeErr != nil {
		slog.Warn("client stopped reading the stream", "session_id", s.Id, "error", writeErr)
	}

	msg, known := userMessage(err)
	if err != nil && !known {
		msg = get500().Msg
	}

	if !started {
		code := 200
		if err != nil && !known {
			code = 500
		}
		return a.pageResponse(ctx, s, code, msg, err)
	}

	p := a.page(ctx, s)
	p.Error = msg
	return &ComponentResponse{Component: components.StreamClose(p), Error: err, Message: msg}
}

func (a *App) feedback(w http.ResponseWriter, r *http.Request) *ComponentResponse {
	if err := r.ParseForm(); err != nil {
		return errorResponse(get400("Sorry, the form could not be read."), err)
	}

	ctx := r.Context()
	s := a.sessions.Get(w, r)

	outcome, err := a.recorder.Record(ctx, s, FeedbackInput{
		Signal:  r.FormValue("score"),
		Comment: strings.TrimSpace(r.FormValue("comment")),
		Summary: r.FormValue("summary"),
	})

	if errors.Is(err, domain.ErrFeedbackTokenUsed) {
		msg, _ := userMessage(err)
		return a.pageResponse(ctx, s, get409(msg).Code, msg, err)
	}
	if msg, known := userMessage(err); known {
		return a.pageResponse(ctx, s, 200, msg, nil)
	}
	if err != nil {
		return a.pageResponse(ctx, s, 500, get500().Msg, err)
	}

	slog.Info("feedback recorded", "session_id", s.Id, "score", outcome.Score, "prompt_version", outcome.PromptVersion)
	return a.pageResponse(ctx, s, 200, "", nil)
}

func (a *App) reset(w http.ResponseWriter, r *http.Request) *ComponentResponse {
	s := a.sessions.Get(w, r)
	a.sessions.Reset(s)
	http.Redirect(w, r, "/", http.StatusSeeOther)
	return nil
}

func (a *App) notFound(w http.ResponseWriter, r *http.Request) *ComponentResponse {
	return errorResponse(get404(), fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
}

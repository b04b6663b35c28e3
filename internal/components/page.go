package components

import (
	"context"
	"strconv"

	"github.com/a-h/templ"
	"github.com/felixbrock/papersummarizer/internal/domain"
)

const style = `body{font-family:system-ui,sans-serif;margin:0;display:flex;min-height:100vh}
aside{width:16rem;padding:1rem;background:#f4f4f5;border-right:1px solid #ddd}
main{flex:1;padding:1rem 2rem;max-width:48rem}
.turn{margin:.75rem 0;padding:.75rem;border-radius:.5rem;background:#fafafa}
.turn.user{background:#eef2ff}
.turn pre{white-space:pre-wrap;margin:0;font-family:inherit}
.note{color:#166534}.error{color:#b91c1c}
textarea{width:100%;min-height:12rem}
button{font-size:1.25rem;margin-right:.5rem}`

func head(w *writer) {
	w.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
	w.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	w.raw(`<title>Paper Summarizer</title><style>`)
	w.raw(style)
	w.raw(`</style></head><body>`)
}

func sidebar(w *writer, s Sidebar) {
	w.raw(`<aside><h2>Settings</h2>`)
	w.rawf(`<label for="temperature">Temperature <output id="temperature-value">%s</output></label>`,
		strconv.FormatFloat(s.Temperature, 'f', 1, 64))
	w.rawf(`<input form="chat-form" id="temperature" name="temperature" type="range" min="%s" max="%s" step="0.1" value="%s" oninput="document.getElementById('temperature-value').value=this.value">`,
		strconv.FormatFloat(s.MinTemperature, 'f', 1, 64),
		strconv.FormatFloat(s.MaxTemperature, 'f', 1, 64),
		strconv.FormatFloat(s.Temperature, 'f', 1, 64))

	version := s.PromptVersion
	if version == "" {
		version = "latest"
	}
	w.raw(`<p><label for="prompt-version">Prompt version</label>`)
	w.raw(`<input form="chat-form" id="prompt-version" name="prompt_version" list="prompt-versions" value="`)
	w.text(version)
	w.raw(`"><datalist id="prompt-versions"><option value="latest">`)
	for _, v := range s.Versions {
		w.raw(`<option value="`)
		w.text(v)
		w.raw(`">`)
	}
	w.raw(`</datalist></p>`)

	if s.PromptUrl != "" {
		w.raw(`<p><a target="_blank" href="`)
		w.text(s.PromptUrl)
		w.raw(`">Summarizer prompt</a></p>`)
	}
	if s.OptimizerUrl != "" {
		w.raw(`<p><a target="_blank" href="`)
		w.text(s.OptimizerUrl)
		w.raw(`">Optimizer prompt</a></p>`)
	}
	w.raw(`</aside>`)
}

func turn(w *writer, t domain.Turn) {
	if t.Role == domain.RoleUser {
		w.raw(`<div class="turn user"><strong>You</strong><pre>`)
		w.text(preview(t.Content, 600))
		w.raw(`</pre></div>`)
		return
	}
	w.raw(`<div class="turn assistant"><strong>`)
	w.text(roleLabel(t.Role))
	w.raw(`</strong><pre>`)
	w.text(t.Content)
	w.raw(`</pre></div>`)
}

func notes(w *writer, p Page) {
	for _, n := range p.Notes {
		w.raw(`<p class="note">`)
		w.text(n)
		w.raw(`</p>`)
	}
	if p.Error != "" {
		w.raw(`<p class="error">`)
		w.text(p.Error)
		w.raw(`</p>`)
	}
}

func summaryForm(w *writer, s domain.ParsedSummary) {
	w.raw(`<div class="turn assistant"><strong>Summarizer</strong>`)
	if s.Preamble != "" {
		w.raw(`<pre>`)
		w.text(s.Preamble)
		w.raw(`</pre>`)
	}
	w.raw(`<form method="post" action="/feedback">`)
	if s.Marked {
		w.raw(`<p>✏️ <strong>Modify if needed</strong>: if the suggestion is close but needs tweaks, edit the summary before clicking 👍.</p>`)
		w.raw(`<label for="summary">Edit this summary:</label>`)
	} else {
		w.raw(`<label for="summary">Model response (editable fallback):</label>`)
	}
	w.raw(`<textarea id="summary" name="summary">`)
	w.text(s.Summary)
	w.raw(`</textarea>`)
	if s.Postscript != "" {
		w.raw(`<pre>`)
		w.text(s.Postscript)
		w.raw(`</pre>`)
	}
	w.raw(`<p><input name="comment" placeholder="Optional comment" size="40"></p>`)
	w.rawf(`<button name="score" value="%s">%s</button><button name="score" value="%s">%s</button>`,
		domain.ThumbsUp, domain.ThumbsUp, domain.ThumbsDown, domain.ThumbsDown)
	w.raw(`</form></div>`)
}

func inputForm(w *writer, p Page) {
	if p.State == StateEnded {
		w.raw(`<form method="post" action="/reset"><button type="submit">Reset</button></form>`)
		return
	}
	if len(p.Turns) == 0 && p.Pending == nil {
		w.raw(`<p>Paste an arXiv ID (e.g., 2404.12345) or link to summarize:</p>`)
	}
	w.raw(`<form id="chat-form" method="post" action="/chat">`)
	w.raw(`<input name="input" placeholder="Paste arXiv ID or link here..." size="50" required autofocus>`)
	w.raw(`<button type="submit">Send</button></form>`)
}

func openPage(w *writer, p Page) {
	head(w)
	sidebar(w, p.Sidebar)
	w.raw(`<main><h1>Paper Summarizer</h1>`)
	for _, t := range p.Turns {
		turn(w, t)
	}
}

func closePage(w *writer, p Page) {
	if p.Pending != nil {
		summaryForm(w, *p.Pending)
	}
	notes(w, p)
	inputForm(w, p)
	w.raw(`</main></body></html>`)
}

// Index renders the whole page for the session's current state.
func Index(p Page) templ.Component {
	return render(func(ctx context.Context, w *writer) {
		openPage(w, p)
		closePage(w, p)
	})
}

// StreamOpen renders the page up to the live response of a new turn. The
// caller writes Chunk components as they arrive and finishes with
// StreamClose.
func StreamOpen(p Page) templ.Component {
	return render(func(ctx context.Context, w *writer) {
		openPage(w, p)
		w.raw(`<div class="turn assistant streaming"><strong>Summarizer</strong><pre>`)
	})
}

func Chunk(text string) templ.Component {
	return render(func(ctx context.Context, w *writer) {
		w.text(text)
	})
}

// StreamClose hides the raw stream once the parsed summary form follows.
func StreamClose(p Page) templ.Component {
	return render(func(ctx context.Context, w *writer) {
		w.raw(`</pre></div>`)
		if p.Pending != nil {
			w.raw(`<style>.streaming{display:none}</style>`)
		}
		closePage(w, p)
	})
}

func Error(code int, title string, msg string) templ.Component {
	return render(func(ctx context.Context, w *writer) {
		head(w)
		w.raw(`<main><h1>`)
		w.text(title)
		w.raw(`</h1><p class="error">`)
		w.text(msg)
		w.rawf(`</p><p><a href="/">Back</a> (%d)</p></main></body></html>`, code)
	})
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

type component interface {
	Render(ctx context.Context, w io.Writer) error
}

type ComponentResponse struct {
	Error       error
	Message     string
	Code        int
	ContentType string
	Component   component
}

// ComponentHandler renders the component a handler returns. Handlers that
// already wrote a streamed prefix leave Code and ContentType unset.
type ComponentHandler func(http.ResponseWriter, *http.Request) *ComponentResponse

func (ch ComponentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := ch(w, r)

	if resp == nil {
		return
	}

	if resp.Error != nil {
		slog.Error(fmt.Sprintf(`Error occured: %s`, resp.Error.Error()))
		if resp.Component == nil {
			http.Error(w, resp.Message, resp.Code)
			return
		}
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.Code != 0 {
		w.WriteHeader(resp.Code)
	}

	if resp.Component == nil {
		return
	}

	err := resp.Component.Render(r.Context(), w)

	if err != nil {
		slog.Error(fmt.Sprintf(`Error occured: %s`, err.Error()))
	}
}

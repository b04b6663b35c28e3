package app

import (
	"errors"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

type errCtx struct {
	Code  int
	Title string
	Msg   string
}

func get400(msg string) errCtx {
	return errCtx{
		Code:  400,
		Title: "Bad request",
		Msg:   msg,
	}
}

func get404() errCtx {
	return errCtx{
		Code:  404,
		Title: "Not found",
		Msg:   "Sorry, we couldn't find the page you were looking for.",
	}
}

func get409(msg string) errCtx {
	return errCtx{
		Code:  409,
		Title: "Conflict",
		Msg:   msg,
	}
}

func get429() errCtx {
	return errCtx{
		Code:  429,
		Title: "Too many requests",
		Msg:   "Please wait a moment before asking for another summary.",
	}
}

func get500() errCtx {
	return errCtx{
		Code:  500,
		Title: "Internal server error",
		Msg:   "Sorry, there was an internal server error.",
	}
}

// userMessage is the inline message shown for errors a reviewer can act
// on. Anything else is reported as a generic failure.
func userMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrNoPaperId):
		return "Couldn't extract paper ID from input. Try a valid arXiv ID.", true
	case errors.Is(err, domain.ErrPaperNotFound):
		return "No paper found with that ID.", true
	case errors.Is(err, domain.ErrPromptNotFound):
		return "That prompt version does not exist.", true
	case errors.Is(err, domain.ErrSessionEnded):
		return "This session has ended. Reset to start over.", true
	case errors.Is(err, domain.ErrNoPendingTurn):
		return "There is no summary awaiting feedback.", true
	case errors.Is(err, domain.ErrFeedbackTokenUsed):
		return "Feedback for this summary was already recorded.", true
	}
	return "", false
}

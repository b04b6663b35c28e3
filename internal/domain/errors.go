package domain

import "errors"

var (
	ErrNoPaperId         = errors.New("no arXiv paper id found in input")
	ErrPaperNotFound     = errors.New("no paper found with that id")
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrPromptNotFound    = errors.New("prompt not found")
	ErrNoImprovedPrompt  = errors.New("optimizer response has no improved prompt")
	ErrFeedbackTokenUsed = errors.New("feedback token already used")
	ErrSessionEnded      = errors.New("session ended")
	ErrNoPendingTurn     = errors.New("no summary awaiting feedback")
)

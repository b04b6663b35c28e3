package domain

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session conversation. TokenId is only set on
// assistant turns and points at the feedback token minted for that run.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	TokenId string `json:"token_id,omitempty"`
}

type Paper struct {
	Id      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Dataset struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type Example struct {
	Id     string `json:"id,omitempty"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

type PromptCommit struct {
	Hash      string    `json:"commit_hash"`
	CreatedAt time.Time `json:"created_at"`
}

type FeedbackToken struct {
	Id        string    `json:"id"`
	Url       string    `json:"url"`
	RunId     string    `json:"run_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

const (
	RunStateRunning   = "running"
	RunStateCompleted = "completed"
	RunStateFailed    = "failed"
)

type Run struct {
	Id        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"run_type"`
	State     string         `json:"state"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
}

// ParsedSummary is the split of a raw model response around the
// <summary> markers. Marked is false when the markers were absent, in which
// case Summary holds the whole trimmed response.
type ParsedSummary struct {
	Preamble   string
	Summary    string
	Postscript string
	Marked     bool
}

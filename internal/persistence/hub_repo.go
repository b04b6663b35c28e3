package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

type commitListing struct {
	Commits []domain.PromptCommit `json:"commits"`
	Total   int                   `json:"total"`
}

type commitRecord struct {
	CommitHash string          `json:"commit_hash"`
	Manifest   json.RawMessage `json:"manifest"`
}

type commitProto struct {
	Manifest     json.RawMessage `json:"manifest"`
	ParentCommit string          `json:"parent_commit,omitempty"`
}

type commitCreated struct {
	Commit domain.PromptCommit `json:"commit"`
}

// HubRepo is a client of the LangChain prompt hub commits API.
type HubRepo struct {
	BaseHeaders []string
	BaseUrl     string
}

func splitPromptName(name string) (string, string) {
	owner, repo, ok := strings.Cut(name, "/")
	if !ok {
		return "-", name
	}
	return owner, repo
}

func (r HubRepo) commitsUrl(name string) string {
	owner, repo := splitPromptName(name)
	return fmt.Sprintf("%s/commits/%s/%s", r.BaseUrl, owner, repo)
}

func (r HubRepo) ListCommits(ctx context.Context, name string, limit int) ([]domain.PromptCommit, error) {
	listing, err := request[commitListing](ctx, reqConfig{
		Method:    "GET",
		Url:       r.commitsUrl(name) + "/",
		UrlParams: []string{param("limit", strconv.Itoa(limit)), param("offset", "0")},
		Headers:   r.BaseHeaders},
		200)

	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrPromptNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list commits of %s: %w", name, err)
	}

	commits := listing.Commits
	if len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

func (r HubRepo) Pull(ctx context.Context, name string, version string) (*domain.PromptTemplate, error) {
	if version == "" {
		version = "latest"
	}

	record, err := request[commitRecord](ctx, reqConfig{
		Method:  "GET",
		Url:     fmt.Sprintf("%s/%s", r.commitsUrl(name), version),
		Headers: r.BaseHeaders},
		200)

	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%s:%s: %w", name, version, domain.ErrPromptNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pull %s:%s: %w", name, version, err)
	}

	msgs, err := decodeManifest(record.Manifest)
	if err != nil {
		return nil, fmt.Errorf("pull %s:%s: %w", name, version, err)
	}

	return &domain.PromptTemplate{Name: name, Version: record.CommitHash, Messages: msgs}, nil
}

func (r HubRepo) Push(ctx context.Context, name string, tmpl domain.PromptTemplate) (string, error) {
	manifest, err := encodeManifest(tmpl)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	proto := commitProto{Manifest: manifest}
	parents, err := r.ListCommits(ctx, name, 1)
	if err == nil && len(parents) > 0 {
		proto.ParentCommit = parents[0].Hash
	}

	body, err := json.Marshal(proto)
	if err != nil {
		return "", err
	}

	created, err := request[commitCreated](ctx, reqConfig{
		Method:  "POST",
		Url:     r.commitsUrl(name),
		Body:    body,
		Headers: withJSON(r.BaseHeaders)},
		anySuccess)

	if err != nil {
		return "", fmt.Errorf("push %s: %w", name, err)
	}

	return created.Commit.Hash, nil
}

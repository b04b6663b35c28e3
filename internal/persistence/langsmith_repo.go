package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

const examplePageSize = 100

type exampleRecord struct {
	Id        string            `json:"id,omitempty"`
	DatasetId string            `json:"dataset_id"`
	Inputs    map[string]string `json:"inputs"`
	Outputs   map[string]string `json:"outputs"`
}

// DatasetRepo manages few-shot example datasets in LangSmith.
type DatasetRepo struct {
	BaseHeaders []string
	BaseUrl     string
}

func (r DatasetRepo) read(ctx context.Context, name string) (*domain.Dataset, error) {
	records, err := request[[]domain.Dataset](ctx, reqConfig{
		Method:    "GET",
		Url:       r.BaseUrl + "/datasets",
		UrlParams: []string{param("name", name), param("limit", "1")},
		Headers:   r.BaseHeaders},
		200)

	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", name, err)
	}

	for _, d := range *records {
		if d.Name == name {
			return &d, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, domain.ErrDatasetNotFound)
}

func (r DatasetRepo) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.read(ctx, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (r DatasetRepo) Create(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{
		"name":        name,
		"data_type":   "kv",
		"description": "Reviewed paper summaries used as few-shot examples",
	})

	if err != nil {
		return err
	}

	_, err = request[domain.Dataset](ctx, reqConfig{
		Method:  "POST",
		Url:     r.BaseUrl + "/datasets",
		Body:    body,
		Headers: withJSON(r.BaseHeaders)},
		anySuccess)

	if err != nil {
		return fmt.Errorf("create dataset %s: %w", name, err)
	}

	return nil
}

func (r DatasetRepo) ListExamples(ctx context.Context, name string) ([]domain.Example, error) {
	dataset, err := r.read(ctx, name)
	if err != nil {
		return nil, err
	}

	var examples []domain.Example
	for offset := 0; ; offset += examplePageSize {
		page, err := request[[]exampleRecord](ctx, reqConfig{
			Method: "GET",
			Url:    r.BaseUrl + "/examples",
			UrlParams: []string{
				param("dataset", dataset.Id),
				param("offset", strconv.Itoa(offset)),
				param("limit", strconv.Itoa(examplePageSize))},
			Headers: r.BaseHeaders},
			200)

		if err != nil {
			return nil, fmt.Errorf("list examples of %s: %w", name, err)
		}

		for _, e := range *page {
			examples = append(examples, domain.Example{Id: e.Id, Input: e.Inputs["input"], Output: e.Outputs["output"]})
		}

		if len(*page) < examplePageSize {
			return examples, nil
		}
	}
}

// InsertExample returns domain.ErrDatasetNotFound when the dataset has not
// been created yet.
func (r DatasetRepo) InsertExample(ctx context.Context, name string, example domain.Example) error {
	dataset, err := r.read(ctx, name)
	if err != nil {
		return err
	}

	body, err := json.Marshal(exampleRecord{
		DatasetId: dataset.Id,
		Inputs:    map[string]string{"input": example.Input},
		Outputs:   map[string]string{"output": example.Output},
	})

	if err != nil {
		return err
	}

	_, err = request[exampleRecord](ctx, reqConfig{
		Method:  "POST",
		Url:     r.BaseUrl + "/examples",
		Body:    body,
		Headers: withJSON(r.BaseHeaders)},
		anySuccess)

	if err != nil {
		return fmt.Errorf("insert example into %s: %w", name, err)
	}

	return nil
}

// FeedbackRepo mints presigned feedback tokens and submits feedback through
// them.
type FeedbackRepo struct {
	BaseHeaders []string
	BaseUrl     string
}

type tokenProto struct {
	RunId       string `json:"run_id"`
	FeedbackKey string `json:"feedback_key"`
}

type tokenRecord struct {
	Id        string    `json:"id"`
	Url       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r FeedbackRepo) CreateToken(ctx context.Context, runId string, key string) (*domain.FeedbackToken, error) {
	body, err := json.Marshal(tokenProto{RunId: runId, FeedbackKey: key})

	if err != nil {
		return nil, err
	}

	record, err := request[tokenRecord](ctx, reqConfig{
		Method:  "POST",
		Url:     r.BaseUrl + "/feedback/tokens",
		Body:    body,
		Headers: withJSON(r.BaseHeaders)},
		anySuccess)

	if err != nil {
		return nil, fmt.Errorf("create feedback token for run %s: %w", runId, err)
	}

	return &domain.FeedbackToken{Id: record.Id, Url: record.Url, RunId: runId, ExpiresAt: record.ExpiresAt}, nil
}

// InsertFromToken posts to the presigned URL, which carries its own
// credential.
func (r FeedbackRepo) InsertFromToken(ctx context.Context, token domain.FeedbackToken, score int, comment string) error {
	payload := map[string]any{"score": score}
	if comment != "" {
		payload["comment"] = comment
	}

	body, err := json.Marshal(payload)

	if err != nil {
		return err
	}

	_, err = requestRaw(ctx, reqConfig{
		Method:  "POST",
		Url:     token.Url,
		Body:    body,
		Headers: []string{"Content-Type:application/json"}},
		anySuccess)

	if isStatus(err, 409) {
		return fmt.Errorf("token %s: %w", token.Id, domain.ErrFeedbackTokenUsed)
	}
	if err != nil {
		return fmt.Errorf("submit feedback for token %s: %w", token.Id, err)
	}

	return nil
}

// RunRepo records summarizer and optimizer runs so feedback tokens can be
// bound to them.
type RunRepo struct {
	BaseHeaders []string
	BaseUrl     string
	Project     string
}

type runProto struct {
	Id          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	RunType     string         `json:"run_type,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartTime   *time.Time     `json:"start_time,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	SessionName string         `json:"session_name,omitempty"`
}

func (r RunRepo) Insert(ctx context.Context, run domain.Run) error {
	start := run.StartTime
	body, err := json.Marshal(runProto{
		Id:          run.Id,
		Name:        run.Name,
		RunType:     run.Type,
		Inputs:      run.Inputs,
		StartTime:   &start,
		SessionName: r.Project,
	})

	if err != nil {
		return err
	}

	_, err = requestRaw(ctx, reqConfig{
		Method:  "POST",
		Url:     r.BaseUrl + "/runs",
		Body:    body,
		Headers: withJSON(r.BaseHeaders)},
		anySuccess)

	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.Id, err)
	}

	return nil
}

func (r RunRepo) Update(ctx context.Context, run domain.Run) error {
	end := run.EndTime
	body, err := json.Marshal(runProto{
		Id:      run.Id,
		Outputs: run.Outputs,
		Error:   run.Error,
		EndTime: &end,
	})

	if err != nil {
		return err
	}

	_, err = requestRaw(ctx, reqConfig{
		Method:  "PATCH",
		Url:     fmt.Sprintf("%s/runs/%s", r.BaseUrl, run.Id),
		Body:    body,
		Headers: withJSON(r.BaseHeaders)},
		anySuccess)

	if err != nil {
		return fmt.Errorf("update run %s: %w", run.Id, err)
	}

	return nil
}

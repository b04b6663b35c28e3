package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

// anySuccess accepts every 2xx status.
const anySuccess = 0

// maxBodyBytes bounds a response read, PDFs included.
const maxBodyBytes = 64 << 20

type reqConfig struct {
	Method    string
	Url       string
	UrlParams []string
	Headers   []string
	Body      []byte
}

type StatusError struct {
	Code int
	Url  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status code %d from %s: %s", e.Code, e.Url, e.Body)
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func requestRaw(ctx context.Context, config reqConfig, expectedResCode int) ([]byte, error) {
	target := config.Url
	if len(config.UrlParams) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + strings.Join(config.UrlParams, "&")
	}

	req, err := http.NewRequestWithContext(ctx, config.Method, target, bytes.NewBuffer(config.Body))

	if err != nil {
		return nil, err
	}

	for i := 0; i < len(config.Headers); i++ {
		key, value, _ := strings.Cut(config.Headers[i], ":")
		req.Header.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	resp, err := http.DefaultClient.Do(req)

	if err != nil {
		return nil, err
	}

	body, err := readBody(resp.Body)

	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", config.Url, err)
	}

	if (expectedResCode == anySuccess && (resp.StatusCode < 200 || resp.StatusCode > 299)) ||
		(expectedResCode != anySuccess && resp.StatusCode != expectedResCode) {
		return nil, &StatusError{Code: resp.StatusCode, Url: config.Url, Body: truncate(string(body), 300)}
	}

	return body, nil
}

func request[T any](ctx context.Context, config reqConfig, expectedResCode int) (*T, error) {
	body, err := requestRaw(ctx, config, expectedResCode)

	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return new(T), nil
	}

	t := new(T)
	if err := json.Unmarshal(body, t); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", config.Url, err)
	}

	return t, nil
}

func readBody(body io.ReadCloser) ([]byte, error) {
	defer func() {
		if err := body.Close(); err != nil {
			slog.Error(fmt.Sprintf("Error occured: %s", err.Error()))
		}
	}()

	content, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBodyBytes)
	}

	return content, nil
}

func param(key string, value string) string {
	return fmt.Sprintf("%s=%s", key, url.QueryEscape(value))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func withJSON(headers []string) []string {
	return append(append([]string{}, headers...), "Content-Type:application/json")
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrDatasetNotFound) || errors.Is(err, domain.ErrPromptNotFound)
}

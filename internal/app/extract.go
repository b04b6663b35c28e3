package app

import (
	"regexp"
	"strings"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

var paperIdPattern = regexp.MustCompile(`\d{4}\.\d{5}`)

// ExtractPaperId returns the first 4.5 digit arXiv id found in text.
func ExtractPaperId(text string) (string, error) {
	id := paperIdPattern.FindString(text)
	if id == "" {
		return "", domain.ErrNoPaperId
	}
	return id, nil
}

var summaryPattern = regexp.MustCompile(`(?s)^(.*?)<summary>(.*?)</summary>(.*)$`)

// ParseSummary splits a model response around its <summary> markers. A
// response without markers is returned whole as the summary.
func ParseSummary(raw string) domain.ParsedSummary {
	trimmed := strings.TrimSpace(raw)

	m := summaryPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return domain.ParsedSummary{Summary: trimmed}
	}

	return domain.ParsedSummary{
		Preamble:   strings.TrimSpace(m[1]),
		Summary:    strings.TrimSpace(m[2]),
		Postscript: strings.TrimSpace(m[3]),
		Marked:     true,
	}
}

var improvedPromptPattern = regexp.MustCompile(`(?s)<improved_prompt>(.*?)</improved_prompt>`)

func extractImprovedPrompt(raw string) (string, error) {
	m := improvedPromptPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", domain.ErrNoImprovedPrompt
	}
	improved := strings.TrimSpace(m[1])
	if improved == "" {
		return "", domain.ErrNoImprovedPrompt
	}
	return improved, nil
}

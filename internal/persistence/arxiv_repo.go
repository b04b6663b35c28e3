package persistence

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/ledongthuc/pdf"
)

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type atomEntry struct {
	Id      string     `xml:"id"`
	Title   string     `xml:"title"`
	Summary string     `xml:"summary"`
	Links   []atomLink `xml:"link"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

// ArxivRepo loads the full text of a paper through the arXiv export API and
// the paper's PDF.
type ArxivRepo struct {
	BaseUrl string
	// ExtractText turns PDF bytes into plain text. Defaults to PDFText.
	ExtractText func(data []byte) (string, error)
}

func (r ArxivRepo) Fetch(ctx context.Context, paperId string) (*domain.Paper, error) {
	body, err := requestRaw(ctx, reqConfig{
		Method:    "GET",
		Url:       r.BaseUrl,
		UrlParams: []string{param("id_list", paperId), param("max_results", "1")}},
		200)

	if err != nil {
		return nil, fmt.Errorf("query arxiv for %s: %w", paperId, err)
	}

	var feed atomFeed
	if err = xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode arxiv feed: %w", err)
	}

	entry, ok := firstPaper(feed)
	if !ok {
		return nil, domain.ErrPaperNotFound
	}

	paper := &domain.Paper{
		Id:    paperId,
		Title: collapseSpace(entry.Title),
	}

	pdfUrl := pdfLink(entry)
	if pdfUrl == "" {
		slog.Warn("arxiv entry has no pdf link, using abstract", "paper_id", paperId)
		paper.Content = strings.TrimSpace(entry.Summary)
		return paper, nil
	}

	data, err := requestRaw(ctx, reqConfig{Method: "GET", Url: pdfUrl}, 200)
	if err != nil {
		return nil, fmt.Errorf("download pdf %s: %w", pdfUrl, err)
	}

	extract := r.ExtractText
	if extract == nil {
		extract = PDFText
	}

	text, err := extract(data)
	if err != nil {
		return nil, fmt.Errorf("extract text of %s: %w", paperId, err)
	}

	paper.Content = strings.TrimSpace(text)
	if paper.Content == "" {
		slog.Warn("pdf yielded no text, using abstract", "paper_id", paperId)
		paper.Content = strings.TrimSpace(entry.Summary)
	}

	return paper, nil
}

// arXiv reports unknown ids as a single entry whose id points at its
// error documentation.
func firstPaper(feed atomFeed) (atomEntry, bool) {
	for _, e := range feed.Entries {
		if strings.Contains(e.Id, "/api/errors") || strings.TrimSpace(e.Title) == "" {
			continue
		}
		return e, true
	}
	return atomEntry{}, false
}

func pdfLink(e atomEntry) string {
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func PDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	content, err := io.ReadAll(text)
	if err != nil {
		return "", err
	}

	return string(content), nil
}

package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// OllamaExtractor asks a local Ollama model to isolate the article content.
// It is the slowest and least predictable extractor, so it carries a low
// method prior in the ensemble; its value is recovering content on pages
// where the structural heuristics fail.
type OllamaExtractor struct {
	// BaseURL is the Ollama server root. Default: http://127.0.0.1:11434.
	BaseURL string
	// Model is the model name. Default: llama3.2.
	Model string
	// Client overrides the default HTTP client (60s timeout).
	Client *http.Client
	// MaxInputChars caps the text sent to the model. Default: 12000.
	MaxInputChars int
}

func (e *OllamaExtractor) Method() Method { return MethodOllama }

func (e *OllamaExtractor) defaults() (string, string, *http.Client, int) {
	base := e.BaseURL
	if base == "" {
		base = "http://127.0.0.1:11434"
	}
	model := e.Model
	if model == "" {
		model = "llama3.2"
	}
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	maxChars := e.MaxInputChars
	if maxChars <= 0 {
		maxChars = 12000
	}
	return base, model, client, maxChars
}

func (e *OllamaExtractor) Extract(ctx context.Context, rawHTML, baseURL string) (*Candidate, error) {
	base, model, client, maxChars := e.defaults()

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	title := documentTitle(doc)
	body := findBody(doc)
	if body == nil {
		body = doc
	}
	text := collectText(body)
	if len(text) < 50 {
		return nil, nil
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	prompt := "Extract the main article from the following page text. " +
		"Reply with JSON only: {\"title\": \"...\", \"content\": \"...\"} " +
		"where content keeps paragraph breaks as blank lines and excludes " +
		"navigation, ads, and comments.\n\nPage URL: " + baseURL + "\n\n" + text

	reqBody, err := json.Marshal(map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}
	var outer struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("ollama: decode: %w", err)
	}
	var parsed struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(outer.Response), &parsed); err != nil {
		return nil, fmt.Errorf("ollama: model output not JSON: %w", err)
	}
	content := strings.TrimSpace(parsed.Content)
	if content == "" {
		return nil, nil
	}
	if parsed.Title == "" {
		parsed.Title = title
	}

	paragraphs := Paragraphs(content)
	conf := 0.5
	if len(paragraphs) >= 3 {
		conf += 0.1
	}
	if len(content) >= 1000 {
		conf += 0.1
	}
	return &Candidate{
		Method:         MethodOllama,
		Title:          parsed.Title,
		Content:        content,
		ParagraphCount: len(paragraphs),
		Confidence:     conf,
	}, nil
}

// Package llm is the HTTP client for the Gemini generative language API:
// text generation (batch and streamed) and text embeddings.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// Embedding task types. Document and query embeddings use different
// intents so the model can optimize for asymmetric retrieval.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// Client communicates with the Gemini API.
type Client struct {
	apiKey      string
	baseURL     string
	chatModel   string
	embedModel  string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewClient creates a Gemini client with the given API key and model names.
func NewClient(apiKey, chatModel, embedModel string, maxTokens int, temperature float64) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		chatModel:   chatModel,
		embedModel:  embedModel,
		maxTokens:   maxTokens,
		temperature: temperature,
		// Per-request timeouts come from contexts; a client-wide timeout
		// would cut long streams short.
		httpClient: &http.Client{Timeout: 0},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, chatModel, embedModel string, maxTokens int, temperature float64, baseURL string) *Client {
	c := NewClient(apiKey, chatModel, embedModel, maxTokens, temperature)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	var sb strings.Builder
	for _, cand := range r.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Generate sends a prompt to the chat model and returns the full response text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			MaxOutputTokens: c.maxTokens,
			Temperature:     c.temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.chatModel)
	respBody, err := c.doWithRetry(ctx, url, body, defaultTimeout)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var result generateResponse
	if err := json.NewDecoder(respBody).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("generate: empty candidates")
	}
	return result.text(), nil
}

// GenerateStream sends a prompt to the chat model and forwards each text
// fragment to onDelta as it arrives. If onDelta returns an error the stream
// stops and that error is returned; the context cancelling mid-stream also
// aborts with the context error.
func (c *Client) GenerateStream(ctx context.Context, prompt string, onDelta func(string) error) error {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			MaxOutputTokens: c.maxTokens,
			Temperature:     c.temperature,
		},
	})
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.chatModel)
	respBody, err := c.doWithRetry(ctx, url, body, streamingTimeout)
	if err != nil {
		return err
	}
	defer respBody.Close()

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event generateResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decoding stream event: %w", err)
		}
		if text := event.text(); text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

type embedRequest struct {
	Content  content `json:"content"`
	TaskType string  `json:"taskType,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// EmbedDocument returns the embedding vector for document-side text.
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskDocument)
}

// EmbedQuery returns the embedding vector for a search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskQuery)
}

func (c *Client) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Content:  content{Parts: []part{{Text: text}}},
		TaskType: taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", c.baseURL, c.embedModel)
	respBody, err := c.doWithRetry(ctx, url, body, defaultTimeout)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var result embedResponse
	if err := json.NewDecoder(respBody).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embed: empty embedding")
	}
	return result.Embedding.Values, nil
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

// doWithRetry posts the body, retrying rate-limited requests with
// exponential backoff. The caller must close the returned body.
func (c *Client) doWithRetry(ctx context.Context, url string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.do(ctx, url, body, timeout)
		if err == nil {
			return rc, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, url string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

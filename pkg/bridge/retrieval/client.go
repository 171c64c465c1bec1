// Package retrieval talks to the knowledge-retrieval collaborator: one
// question in, a finite stream of content chunks out.
package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error reports a failed retrieval request.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("retrieval: unexpected status %d", e.Status)
	}
	return "retrieval: " + e.Message
}

// Client queries the retrieval endpoint for answers to caller questions.
type Client struct {
	url       string
	apiKey    string
	assistant string
	httpc     *http.Client
}

// New builds a retrieval client. The assistant name selects which knowledge
// assistant answers.
func New(url, apiKey, assistant string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{url: url, apiKey: apiKey, assistant: assistant, httpc: httpc}
}

type askRequest struct {
	Assistant string       `json:"assistant"`
	Stream    bool         `json:"stream"`
	Messages  []askMessage `json:"messages"`
}

type askMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chunk struct {
	Type  string `json:"type"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// ChunkStream is a finite, non-restartable sequence of answer fragments.
type ChunkStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the next content fragment. io.EOF ends the stream; the caller
// must still Close.
func (s *ChunkStream) Next() (string, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var c chunk
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		if c.Type != "content_chunk" {
			continue
		}
		return c.Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read retrieval stream: %w", err)
	}
	return "", io.EOF
}

// Close releases the underlying response body.
func (s *ChunkStream) Close() error {
	return s.body.Close()
}

// Ask streams the answer to one question. The context bounds the whole
// exchange, including reading the stream.
func (c *Client) Ask(ctx context.Context, question string) (*ChunkStream, error) {
	body, err := json.Marshal(askRequest{
		Assistant: c.assistant,
		Stream:    true,
		Messages:  []askMessage{{Role: "user", Content: question}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post retrieval question: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &Error{Status: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &ChunkStream{body: resp.Body, scanner: scanner}, nil
}

// Answer collects the full answer text for a question. An empty concatenation
// is an *Error so callers never speak a blank response.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	stream, err := c.Ask(ctx, question)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		fragment, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}
	answer := b.String()
	if strings.TrimSpace(answer) == "" {
		return "", &Error{Message: "empty answer"}
	}
	return answer, nil
}

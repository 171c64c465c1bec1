// Package webhook posts call-lifecycle payloads to the automation endpoint:
// greeting lookup before the call, transcript delivery after it, and meeting
// bookings mid-call.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agenix-ai/callbridge/pkg/bridge/config"
)

// Routes multiplexed over the single automation endpoint.
const (
	RouteGreeting   = "1"
	RouteTranscript = "2"
	RouteBooking    = "3"
)

// BookingFallback is spoken when the automation endpoint gives no booking
// confirmation message.
const BookingFallback = "I'm sorry, I couldn't schedule the meeting at this time."

// Payload is the envelope every route shares. Data is always a string: a
// marker for greetings, the transcript text, or serialized booking fields.
type Payload struct {
	Route  string `json:"route"`
	Number string `json:"number"`
	Data   any    `json:"data"`
}

// Error reports a non-success response from the automation endpoint.
type Error struct {
	Route  string
	Status int
}

func (e *Error) Error() string {
	return fmt.Sprintf("webhook route %s: unexpected status %d", e.Route, e.Status)
}

// Client posts payloads to a single automation endpoint URL.
type Client struct {
	url   string
	httpc *http.Client
	log   *slog.Logger
}

// New builds a webhook client. A nil logger discards.
func New(url string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		url:   url,
		httpc: &http.Client{Timeout: timeout},
		log:   log,
	}
}

// Post sends one payload and returns the raw response body. Non-2xx statuses
// yield an *Error; the body is still returned when present.
func (c *Client) Post(ctx context.Context, p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post webhook route %s: %w", p.Route, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &Error{Route: p.Route, Status: resp.StatusCode}
	}
	return data, nil
}

// Greeting asks the automation endpoint for a personalized opening line for
// the caller. Failures fall back to the default greeting so the call still
// starts.
func (c *Client) Greeting(ctx context.Context, callerNumber string) string {
	body, err := c.Post(ctx, Payload{
		Route:  RouteGreeting,
		Number: callerNumber,
		Data:   "empty",
	})
	if err != nil {
		c.log.Warn("greeting lookup failed, using default", "caller", callerNumber, "error", err)
		return config.DefaultGreeting
	}

	var parsed struct {
		FirstMessage string `json:"firstMessage"`
	}
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.FirstMessage != "" {
		return parsed.FirstMessage
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return config.DefaultGreeting
}

// DeliverTranscript sends the accumulated transcript after teardown.
func (c *Client) DeliverTranscript(ctx context.Context, callerNumber, transcript string) error {
	_, err := c.Post(ctx, Payload{
		Route:  RouteTranscript,
		Number: callerNumber,
		Data:   transcript,
	})
	return err
}

// Book submits a meeting request and returns the confirmation message to
// speak back to the caller. The booking fields travel as a JSON string in
// the data field, not a nested object; the endpoint's response is
// `{"message": ...}`, anything else yields the fallback line.
func (c *Client) Book(ctx context.Context, callerNumber string, details map[string]any) (string, error) {
	encoded, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("marshal booking details: %w", err)
	}
	body, err := c.Post(ctx, Payload{
		Route:  RouteBooking,
		Number: callerNumber,
		Data:   string(encoded),
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Message string `json:"message"`
	}
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil || parsed.Message == "" {
		return BookingFallback, nil
	}
	return parsed.Message, nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultGreeting is spoken when the workflow webhook cannot supply a
// personalized first message for the caller.
const DefaultGreeting = "Hey, this is Sara from Agenix AI solutions. How can I assist you today?"

// DefaultInstructions is the system prompt sent during the realtime handshake.
const DefaultInstructions = "You are Sara, a friendly phone agent for Agenix AI solutions. " +
	"Answer questions about AI employees using the question_and_answer tool and book " +
	"appointments with the schedule_meeting tool. Keep responses short and conversational, " +
	"as this is a phone call. Expand numbers and abbreviations for speech."

type Config struct {
	Addr string

	// PublicURL is the externally reachable base URL of this process. The
	// TwiML connect directive derives the media-stream websocket address
	// from it (https -> wss).
	PublicURL string

	// OpenAI realtime transport.
	OpenAIAPIKey      string
	RealtimeURL       string
	RealtimeModel     string
	Voice             string
	Instructions      string
	Temperature       float64
	HandshakeTimeout  time.Duration
	RealtimeReadLimit int64

	// Workflow webhook collaborator (greeting lookup, transcript delivery,
	// booking).
	WebhookURL     string
	WebhookTimeout time.Duration

	// Knowledge-retrieval collaborator.
	RetrievalURL       string
	RetrievalAPIKey    string
	RetrievalAssistant string

	// Per-dispatch budget for external tool calls. An unbounded stall would
	// block that call's AI-side loop indefinitely.
	ToolTimeout time.Duration

	// Telephony websocket.
	StreamWriteTimeout  time.Duration
	StreamPingInterval  time.Duration
	StreamMaxFrameBytes int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	MetricsNamespace    string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CALLBRIDGE_ADDR", ":8080"),
		PublicURL:           envOr("CALLBRIDGE_PUBLIC_URL", ""),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		RealtimeURL:         envOr("CALLBRIDGE_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:       envOr("CALLBRIDGE_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:               envOr("CALLBRIDGE_VOICE", "shimmer"),
		Instructions:        envOr("CALLBRIDGE_INSTRUCTIONS", DefaultInstructions),
		Temperature:         envFloat64Or("CALLBRIDGE_TEMPERATURE", 0.8),
		HandshakeTimeout:    envDurationOr("CALLBRIDGE_HANDSHAKE_TIMEOUT", 5*time.Second),
		RealtimeReadLimit:   envInt64Or("CALLBRIDGE_REALTIME_READ_LIMIT_BYTES", 1<<20),
		WebhookURL:          envOr("N8N_WEBHOOK_URL", ""),
		WebhookTimeout:      envDurationOr("CALLBRIDGE_WEBHOOK_TIMEOUT", 10*time.Second),
		RetrievalURL:        envOr("CALLBRIDGE_RETRIEVAL_URL", ""),
		RetrievalAPIKey:     envOr("CALLBRIDGE_RETRIEVAL_API_KEY", ""),
		RetrievalAssistant:  envOr("CALLBRIDGE_RETRIEVAL_ASSISTANT", "rag-tool"),
		ToolTimeout:         envDurationOr("CALLBRIDGE_TOOL_TIMEOUT", 10*time.Second),
		StreamWriteTimeout:  envDurationOr("CALLBRIDGE_STREAM_WRITE_TIMEOUT", 5*time.Second),
		StreamPingInterval:  envDurationOr("CALLBRIDGE_STREAM_PING_INTERVAL", 20*time.Second),
		StreamMaxFrameBytes: envInt64Or("CALLBRIDGE_STREAM_MAX_FRAME_BYTES", 64*1024),
		ReadHeaderTimeout:   envDurationOr("CALLBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("CALLBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		MetricsNamespace:    envOr("CALLBRIDGE_METRICS_NAMESPACE", "callbridge"),
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return Config{}, fmt.Errorf("N8N_WEBHOOK_URL must be set")
	}
	if strings.TrimSpace(cfg.PublicURL) == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_PUBLIC_URL must be set")
	}
	if _, err := url.Parse(cfg.PublicURL); err != nil {
		return Config{}, fmt.Errorf("CALLBRIDGE_PUBLIC_URL is not a valid URL: %w", err)
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.WebhookTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WEBHOOK_TIMEOUT must be > 0")
	}
	if cfg.StreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_STREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.StreamPingInterval <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_STREAM_PING_INTERVAL must be > 0")
	}
	if cfg.StreamMaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_STREAM_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.RealtimeReadLimit <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_REALTIME_READ_LIMIT_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("CALLBRIDGE_TEMPERATURE must be in [0, 2]")
	}

	return cfg, nil
}

// StreamURL returns the websocket address Twilio should connect its media
// stream to, derived from the public base URL.
func (c Config) StreamURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/media-stream"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

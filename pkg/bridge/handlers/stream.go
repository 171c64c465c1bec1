package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agenix-ai/callbridge/pkg/bridge/config"
	"github.com/agenix-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/agenix-ai/callbridge/pkg/bridge/metrics"
	"github.com/agenix-ai/callbridge/pkg/bridge/mw"
	"github.com/agenix-ai/callbridge/pkg/bridge/realtime"
	"github.com/agenix-ai/callbridge/pkg/bridge/relay"
	"github.com/agenix-ai/callbridge/pkg/bridge/session"
)

// MediaStreamHandler upgrades the telephony media-stream connection and runs
// one relay orchestrator for the call's duration.
type MediaStreamHandler struct {
	Config      config.Config
	Registry    *session.Registry
	Tools       relay.Dispatcher
	Transcripts relay.TranscriptSink
	Metrics     *metrics.Metrics
	Lifecycle   *lifecycle.Lifecycle
	Logger      *slog.Logger

	// DialAI overrides the realtime dialer; nil uses the configured endpoint.
	DialAI relay.AIDialer
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The telephony provider connects server-to-server; there is no
		// browser origin to check.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", "request_id", reqID, "error", err)
		return
	}
	if h.Config.StreamMaxFrameBytes > 0 {
		conn.SetReadLimit(h.Config.StreamMaxFrameBytes)
	}

	sessionID := "stream_" + uuid.NewString()
	sess, err := h.Registry.Create(sessionID, session.Options{Greeting: config.DefaultGreeting})
	if err != nil {
		logger.Error("stream session not created", "request_id", reqID, "error", err)
		_ = conn.Close()
		return
	}

	dial := h.DialAI
	if dial == nil {
		dial = h.realtimeDialer()
	}

	orch, err := relay.New(relay.Dependencies{
		Telephony:   conn,
		DialAI:      dial,
		Session:     sess,
		Registry:    h.Registry,
		Tools:       h.Tools,
		Transcripts: h.Transcripts,
		Metrics:     h.Metrics,
		Logger:      logger,
		Config: relay.Config{
			Voice:            h.Config.Voice,
			Instructions:     h.Config.Instructions,
			Temperature:      h.Config.Temperature,
			HandshakeTimeout: h.Config.HandshakeTimeout,
			WriteTimeout:     h.Config.StreamWriteTimeout,
			PingInterval:     h.Config.StreamPingInterval,
			FlushTimeout:     h.Config.WebhookTimeout,
		},
	})
	if err != nil {
		logger.Error("relay not assembled", "request_id", reqID, "error", err)
		h.Registry.Remove(sessionID)
		_ = conn.Close()
		return
	}

	logger.Info("media stream connected", "request_id", reqID, "session", sessionID)
	if err := orch.Run(r.Context()); err != nil {
		logger.Warn("relay ended with error", "request_id", reqID, "session", sessionID, "error", err)
		return
	}
	logger.Info("media stream finished", "request_id", reqID, "session", sessionID)
}

func (h MediaStreamHandler) realtimeDialer() relay.AIDialer {
	cfg := realtime.ClientConfig{
		URL:          h.Config.RealtimeURL,
		Model:        h.Config.RealtimeModel,
		APIKey:       h.Config.OpenAIAPIKey,
		ReadLimit:    h.Config.RealtimeReadLimit,
		WriteTimeout: h.Config.StreamWriteTimeout,
	}
	return func(ctx context.Context) (relay.AIConn, error) {
		return realtime.Dial(ctx, cfg)
	}
}

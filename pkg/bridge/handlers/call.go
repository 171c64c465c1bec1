package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agenix-ai/callbridge/pkg/bridge/config"
	"github.com/agenix-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/agenix-ai/callbridge/pkg/bridge/mw"
	"github.com/agenix-ai/callbridge/pkg/bridge/session"
	"github.com/agenix-ai/callbridge/pkg/bridge/twilio"
)

// defaultSetupTTL bounds how long a call-setup session may wait for its
// media stream to connect before it is reclaimed.
const defaultSetupTTL = 90 * time.Second

// GreetingSource resolves the opening line for a caller, falling back
// internally so it always returns something speakable.
type GreetingSource interface {
	Greeting(ctx context.Context, callerNumber string) string
}

// IncomingCallHandler answers the telephony provider's inbound-call webhook
// with a TwiML document that connects the call to the media-stream endpoint.
type IncomingCallHandler struct {
	Config    config.Config
	Registry  *session.Registry
	Greetings GreetingSource
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger

	// SetupTTL overrides defaultSetupTTL; a stream usually connects within
	// a second or two, so the entry normally retires long before it fires.
	SetupTTL time.Duration
}

func (h IncomingCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	callSID := r.PostFormValue("CallSid")
	if callSID == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	callerNumber := r.PostFormValue("From")
	if callerNumber == "" {
		callerNumber = session.UnknownCaller
	}

	logger := h.logger()
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger.Info("incoming call",
		"request_id", reqID,
		"call", callSID,
		"caller", callerNumber)

	greeting := config.DefaultGreeting
	if h.Greetings != nil {
		greeting = h.Greetings.Greeting(r.Context(), callerNumber)
	}

	metadata := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		metadata[key] = r.PostFormValue(key)
	}

	if h.Registry != nil {
		if _, err := h.Registry.Create(callSID, session.Options{
			CallerNumber: callerNumber,
			Greeting:     greeting,
			Metadata:     metadata,
		}); err != nil {
			if errors.Is(err, session.ErrSessionExists) {
				http.Error(w, "call already in progress", http.StatusConflict)
				return
			}
			http.Error(w, "session setup failed", http.StatusInternalServerError)
			return
		}
		h.reclaimAfterTTL(callSID, logger)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twilio.ConnectStreamTwiML(h.Config.StreamURL(), greeting, callerNumber)))
}

// reclaimAfterTTL removes the call-setup entry if the media stream never
// connects. When the stream does connect, its orchestrator retires the entry
// first and the timer fires on an absent id, a no-op.
func (h IncomingCallHandler) reclaimAfterTTL(callSID string, logger *slog.Logger) {
	ttl := h.SetupTTL
	if ttl <= 0 {
		ttl = defaultSetupTTL
	}
	registry := h.Registry
	time.AfterFunc(ttl, func() {
		if _, ok := registry.Get(callSID); !ok {
			return
		}
		logger.Warn("media stream never connected, reclaiming call session", "call", callSID)
		registry.Remove(callSID)
	})
}

func (h IncomingCallHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

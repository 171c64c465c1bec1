// Package handlers holds the HTTP surface of the bridge: liveness probes,
// the inbound-call webhook, and the media-stream websocket endpoint.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agenix-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/agenix-ai/callbridge/pkg/bridge/session"
)

// RootHandler answers the original server-is-running check.
type RootHandler struct{}

func (h RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "Twilio Media Stream Server is running!",
	})
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 once draining begins so the load balancer stops
// routing new calls here while in-flight ones finish.
type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Registry  *session.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool `json:"ok"`
		Draining    bool `json:"draining"`
		ActiveCalls int  `json:"active_calls"`
	}

	resp := readyResp{OK: true}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		resp.OK = false
		resp.Draining = true
	}
	if h.Registry != nil {
		resp.ActiveCalls = h.Registry.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

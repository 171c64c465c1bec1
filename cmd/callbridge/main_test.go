package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/agenix-ai/callbridge/pkg/bridge/config"
	bridgeserver "github.com/agenix-ai/callbridge/pkg/bridge/server"
)

func TestRunMainReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newServer: func(cfg config.Config, logger *slog.Logger, opts bridgeserver.Options) *bridgeserver.Server {
			t.Fatalf("newServer should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServerUsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestRunBridgeShutsDownOnSignal(t *testing.T) {
	sigCh := make(chan chan<- os.Signal, 1)
	deps := bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{
				Addr:                "127.0.0.1:0",
				PublicURL:           "https://bridge.example.com",
				OpenAIAPIKey:        "sk-test",
				RealtimeURL:         "wss://api.openai.com/v1/realtime",
				WebhookURL:          "https://n8n.example.com/webhook",
				WebhookTimeout:      time.Second,
				ToolTimeout:         time.Second,
				HandshakeTimeout:    time.Second,
				ShutdownGracePeriod: 2 * time.Second,
			}, nil
		},
		newServer: bridgeserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			sigCh <- c
		},
		signalStop: func(c chan<- os.Signal) {},
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	done := make(chan error, 1)
	go func() {
		done <- runBridge(context.Background(), logger, deps)
	}()

	select {
	case c := <-sigCh:
		c <- syscall.SIGTERM
	case <-time.After(2 * time.Second):
		t.Fatal("signal channel was never registered")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runBridge error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runBridge did not stop after signal")
	}
}

// Package server assembles the HTTP surface: routes, middleware, and the
// shared collaborator clients.
package server

import (
	"log/slog"
	"net/http"

	"github.com/agenix-ai/callbridge/pkg/bridge/config"
	"github.com/agenix-ai/callbridge/pkg/bridge/handlers"
	"github.com/agenix-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/agenix-ai/callbridge/pkg/bridge/metrics"
	"github.com/agenix-ai/callbridge/pkg/bridge/mw"
	"github.com/agenix-ai/callbridge/pkg/bridge/relay"
	"github.com/agenix-ai/callbridge/pkg/bridge/retrieval"
	"github.com/agenix-ai/callbridge/pkg/bridge/session"
	"github.com/agenix-ai/callbridge/pkg/bridge/tools"
	"github.com/agenix-ai/callbridge/pkg/bridge/webhook"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry  *session.Registry
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
	webhooks  *webhook.Client
	tools     *tools.Dispatcher
}

// Options overrides pieces of the default wiring, mainly for tests.
type Options struct {
	Registry *session.Registry
	Metrics  *metrics.Metrics
	DialAI   relay.AIDialer
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(cfg.MetricsNamespace)
	}

	webhooks := webhook.New(cfg.WebhookURL, cfg.WebhookTimeout, logger)
	answerer := retrieval.New(cfg.RetrievalURL, cfg.RetrievalAPIKey, cfg.RetrievalAssistant, nil)
	dispatcher := tools.New(answerer, webhooks, cfg.ToolTimeout, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		registry:  opts.Registry,
		lifecycle: &lifecycle.Lifecycle{},
		metrics:   opts.Metrics,
		webhooks:  webhooks,
		tools:     dispatcher,
	}
	s.routes(opts.DialAI)
	return s
}

func (s *Server) routes(dialAI relay.AIDialer) {
	s.mux.Handle("/", handlers.RootHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle: s.lifecycle,
		Registry:  s.registry,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/incoming-call", handlers.IncomingCallHandler{
		Config:    s.cfg,
		Registry:  s.registry,
		Greetings: s.webhooks,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	})
	s.mux.Handle("/media-stream", handlers.MediaStreamHandler{
		Config:      s.cfg,
		Registry:    s.registry,
		Tools:       s.tools,
		Transcripts: s.webhooks,
		Metrics:     s.metrics,
		Lifecycle:   s.lifecycle,
		Logger:      s.logger,
		DialAI:      dialAI,
	})
}

// Handler wraps the mux in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the session registry for drain coordination.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Lifecycle exposes the drain flag.
func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.lifecycle
}

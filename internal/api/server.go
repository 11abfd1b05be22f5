package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/scholar/internal/assistant"
	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/memory"
	"github.com/kalambet/scholar/internal/observability"
)

const defaultRecentLimit = 10

// Deps holds everything the HTTP and MCP surfaces need.
type Deps struct {
	Memory      *memory.Memory
	Knowledge   *knowledge.Base
	Assistant   *assistant.Assistant
	Metrics     *observability.Metrics // optional
	Token       string                 // optional; guards the mutating routes
	HTTPClient  *http.Client           // used by URL imports
	RecentLimit int                    // turns of history sent with each question
	Logger      *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.RecentLimit <= 0 {
		d.RecentLimit = defaultRecentLimit
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger, deps.Metrics))
	r.Use(allowCORS)

	r.Get("/health", handleHealth)
	r.Get("/metrics", deps.Metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", handleChat(deps))
		r.Get("/history", handleHistory(deps))
		r.Get("/history/summary", handleHistorySummary(deps))
		r.Get("/knowledge", handleKnowledge(deps))
		r.Get("/knowledge/search", handleKnowledgeSearch(deps))

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Post("/knowledge/import", handleImport(deps))
			r.Post("/clear-history", handleClearHistory(deps))
			r.Post("/clear-knowledge", handleClearKnowledge(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

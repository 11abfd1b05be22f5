package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/scholar/internal/assistant"
	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/memory"
	"github.com/kalambet/scholar/internal/storage"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// ChatResponse is returned by POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

// errMessageRequired is returned by runChat for an empty message.
var errMessageRequired = errors.New("message is required")

// runChat answers message with the recent history and the whole knowledge
// base as context, records both turns and keeps any extracted knowledge.
func runChat(ctx context.Context, deps Deps, message, selector string) (string, error) {
	if message == "" {
		return "", errMessageRequired
	}
	model, err := deps.Assistant.Resolve(selector)
	if err != nil {
		return "", err
	}

	history := deps.Memory.Recent(deps.RecentLimit)
	entries := deps.Knowledge.All()

	answer, err := deps.Assistant.Generate(ctx, message, history, entries, model)
	if err != nil {
		return "", err
	}

	if err := deps.Memory.AddMessage(ctx, memory.RoleUser, message); err != nil {
		return "", fmt.Errorf("saving question: %w", err)
	}
	if err := deps.Memory.AddTurn(ctx, memory.Turn{Role: memory.RoleAssistant, Content: answer, Model: string(model)}); err != nil {
		return "", fmt.Errorf("saving answer: %w", err)
	}
	deps.Metrics.SetStored(storage.ConversationsCollection, deps.Memory.Summary().TotalMessages)
	deps.Metrics.ObserveChatTurn(string(model))

	if entry, ok := knowledge.Extract(message, answer); ok {
		if err := deps.Knowledge.Add(ctx, entry); err != nil {
			return "", fmt.Errorf("saving knowledge: %w", err)
		}
		deps.Metrics.ObserveKnowledgeAdded("chat", 1)
		deps.Metrics.SetStored(storage.KnowledgeCollection, deps.Knowledge.Len())
	}

	return answer, nil
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			respondError(w, http.StatusBadRequest, "Message is required")
			return
		}

		answer, err := runChat(r.Context(), deps, req.Message, req.Model)
		switch {
		case errors.Is(err, assistant.ErrUnknownModel):
			respondError(w, http.StatusBadRequest, "%s", err.Error())
			return
		case err != nil:
			deps.Logger.Error("chat failed", "error", err)
			respondError(w, http.StatusInternalServerError, "%s", err.Error())
			return
		}

		respondJSON(w, http.StatusOK, ChatResponse{Response: answer, Success: true})
	}
}

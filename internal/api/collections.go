package api

import (
	"net/http"

	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/memory"
	"github.com/kalambet/scholar/internal/storage"
)

type historyResponse struct {
	History []memory.Turn `json:"history"`
	Success bool          `json:"success"`
}

type summaryResponse struct {
	Summary memory.Summary `json:"summary"`
	Success bool           `json:"success"`
}

type knowledgeResponse struct {
	Knowledge []knowledge.Entry `json:"knowledge"`
	Success   bool              `json:"success"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var turns []memory.Turn
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 {
			turns = deps.Memory.Recent(limit)
		} else {
			turns = deps.Memory.All()
		}
		respondJSON(w, http.StatusOK, historyResponse{History: turns, Success: true})
	}
}

func handleHistorySummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, summaryResponse{Summary: deps.Memory.Summary(), Success: true})
	}
}

func handleKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, knowledgeResponse{Knowledge: deps.Knowledge.All(), Success: true})
	}
}

func handleKnowledgeSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := deps.Knowledge.Search(r.URL.Query().Get("q"))
		respondJSON(w, http.StatusOK, knowledgeResponse{Knowledge: results, Success: true})
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Memory.Clear(r.Context()); err != nil {
			deps.Logger.Error("clearing history failed", "error", err)
			respondError(w, http.StatusInternalServerError, "%s", err.Error())
			return
		}
		deps.Metrics.SetStored(storage.ConversationsCollection, 0)
		respondJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

func handleClearKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Knowledge.Clear(r.Context()); err != nil {
			deps.Logger.Error("clearing knowledge failed", "error", err)
			respondError(w, http.StatusInternalServerError, "%s", err.Error())
			return
		}
		deps.Metrics.SetStored(storage.KnowledgeCollection, 0)
		respondJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

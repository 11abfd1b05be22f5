package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kalambet/scholar/internal/ingest"
	"github.com/kalambet/scholar/internal/storage"
)

const maxImportBodySize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20    // 5MB
const urlFetchTimeout = 10 * time.Second

// ImportRequest is the body of POST /api/knowledge/import.
type ImportRequest struct {
	Type    string `json:"type"` // text (default), file or url
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// ImportResponse reports how many entries an import added.
type ImportResponse struct {
	Imported int  `json:"imported"`
	Success  bool `json:"success"`
}

// importError carries the HTTP status an import failure maps to.
type importError struct {
	status int
	msg    string
}

func (e *importError) Error() string { return e.msg }

func badImport(status int, format string, args ...any) error {
	return &importError{status: status, msg: fmt.Sprintf(format, args...)}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		text, title, err := resolveImport(r.Context(), deps.HTTPClient, req)
		if err != nil {
			var ie *importError
			if errors.As(err, &ie) {
				respondError(w, ie.status, "%s", ie.msg)
				return
			}
			respondError(w, http.StatusInternalServerError, "%s", err.Error())
			return
		}

		entries := ingest.Entries(title, text)
		if len(entries) == 0 {
			respondError(w, http.StatusBadRequest, "no importable text found")
			return
		}
		if err := deps.Knowledge.AddAll(r.Context(), entries); err != nil {
			deps.Logger.Error("import failed", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save knowledge: %v", err)
			return
		}
		deps.Metrics.ObserveKnowledgeAdded("import", len(entries))
		deps.Metrics.SetStored(storage.KnowledgeCollection, deps.Knowledge.Len())
		deps.Logger.Info("imported knowledge", "type", req.Type, "title", title, "entries", len(entries))

		respondJSON(w, http.StatusOK, ImportResponse{Imported: len(entries), Success: true})
	}
}

// resolveImport turns an import request into plain text and a title.
func resolveImport(ctx context.Context, client *http.Client, req ImportRequest) (string, string, error) {
	if req.Type == "" {
		req.Type = "text"
	}

	switch req.Type {
	case "text":
		if req.Content == "" {
			return "", "", badImport(http.StatusBadRequest, "content is required")
		}
		return req.Content, req.Title, nil

	case "file":
		if req.Content == "" {
			return "", "", badImport(http.StatusBadRequest, "content is required")
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return "", "", badImport(http.StatusBadRequest, "invalid base64 content")
		}
		text, err := ingest.ExtractBytes(decoded)
		if err != nil {
			return "", "", badImport(http.StatusBadRequest, "cannot read file: %v", err)
		}
		return text, req.Title, nil

	case "url":
		if req.URL == "" {
			return "", "", badImport(http.StatusBadRequest, "url is required")
		}
		body, err := fetchURL(ctx, client, req.URL)
		if err != nil {
			return "", "", err
		}
		text, err := ingest.ExtractBytes(body)
		if err != nil {
			return "", "", badImport(http.StatusBadGateway, "cannot read url content: %v", err)
		}
		title := req.Title
		if title == "" {
			title = req.URL
		}
		return text, title, nil

	default:
		return "", "", badImport(http.StatusBadRequest, "unknown import type %q", req.Type)
	}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, urlFetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, badImport(http.StatusBadRequest, "invalid url: %v", err)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, badImport(http.StatusBadGateway, "failed to fetch url: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, badImport(http.StatusBadGateway, "url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return nil, badImport(http.StatusBadGateway, "failed to read url response: %v", err)
	}
	return body, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/scholar/internal/api"
	"github.com/kalambet/scholar/internal/assistant"
	"github.com/kalambet/scholar/internal/config"
	"github.com/kalambet/scholar/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

// useServer points every command at ts for the duration of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	oldColor := noColor
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
		noColor = oldColor
	})
	noColor = true
	err := rootCmd.Execute()
	return out.String(), err
}

func TestChatCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/chat": `{"response":"Graphs are sets of vertices and edges.","success":true}`,
	})
	useServer(t, ts)

	out, err := runCLI(t, "chat", "--model", "gemini", "what", "is", "a", "graph?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Graphs are sets of vertices and edges.\n" {
		t.Errorf("output = %q", out)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodPost || r.Path != "/api/chat" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	var body api.ChatRequest
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Message != "what is a graph?" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Model != "gemini" {
		t.Errorf("model = %q, want gemini", body.Model)
	}
}

func TestChatCommand_MissingArgs(t *testing.T) {
	if _, err := runCLI(t, "chat"); err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestChatCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	useServer(t, ts)

	_, err := runCLI(t, "chat", "hello")
	if err == nil {
		t.Fatal("expected error from 404 response")
	}
	if !strings.Contains(err.Error(), "404: not found") {
		t.Errorf("error = %q, want the server message", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/history": `{"history":[
			{"role":"user","content":"hi","timestamp":"2024-03-01T10:00:00Z"},
			{"role":"assistant","content":"hello","timestamp":"2024-03-01T10:00:01Z","model":"openai"}
		],"success":true}`,
	})
	useServer(t, ts)

	out, err := runCLI(t, "history", "--limit", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "User: hi") {
		t.Errorf("output missing user turn:\n%s", out)
	}
	if !strings.Contains(out, "Assistant (openai): hello") {
		t.Errorf("output missing assistant turn:\n%s", out)
	}
	if got := ts.recorded()[0].Path; got != "/api/history?limit=2" {
		t.Errorf("path = %q", got)
	}
}

func TestHistoryCommand_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/history": `{"history":[],"success":true}`,
	})
	useServer(t, ts)

	out, err := runCLI(t, "history")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No conversation history.") {
		t.Errorf("output = %q", out)
	}
	if got := ts.recorded()[0].Path; got != "/api/history" {
		t.Errorf("path = %q, want no limit parameter", got)
	}
}

func TestHistorySummaryCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/history/summary": `{"summary":{"total_messages":4,"user_messages":2,"assistant_messages":2},"success":true}`,
	})
	useServer(t, ts)

	out, err := runCLI(t, "history", "summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Total messages:     4", "User messages:      2", "Assistant messages: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryClear_RequiresConfirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/clear-history": `{"success":true}`,
	})
	useServer(t, ts)

	if _, err := runCLI(t, "history", "clear"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("expected no requests without --confirm, got %d", n)
	}
}

func TestHistoryClear_Confirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/clear-history": `{"success":true}`,
	})
	useServer(t, ts)

	if _, err := runCLI(t, "history", "clear", "--confirm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Path != "/api/clear-history" {
		t.Errorf("path = %q", reqs[0].Path)
	}
	if reqs[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", reqs[0].Auth)
	}
}

func TestKnowledgeClear_Confirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/clear-knowledge": `{"success":true}`,
	})
	useServer(t, ts)

	if _, err := runCLI(t, "knowledge", "clear", "--confirm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.recorded()[0].Path; got != "/api/clear-knowledge" {
		t.Errorf("path = %q", got)
	}
}

func TestKnowledgeList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/knowledge": `{"knowledge":[
			{"topic":"What is entropy?","content":"Entropy measures disorder.","question":"What is entropy?","answer":"Entropy measures disorder.","timestamp":"2024-03-01T10:00:00Z"}
		],"success":true}`,
	})
	useServer(t, ts)

	out, err := runCLI(t, "knowledge", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1. What is entropy?") {
		t.Errorf("output missing topic:\n%s", out)
	}
	if !strings.Contains(out, "Entropy measures disorder.") {
		t.Errorf("output missing content:\n%s", out)
	}
}

func TestKnowledgeSearch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/knowledge/search": `{"knowledge":[],"success":true}`,
	})
	useServer(t, ts)

	out, err := runCLI(t, "knowledge", "search", "graph", "theory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No knowledge entries found.") {
		t.Errorf("output = %q", out)
	}
	if got := ts.recorded()[0].Path; got != "/api/knowledge/search?q=graph+theory" {
		t.Errorf("path = %q", got)
	}
}

func TestKnowledgeImport(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/knowledge/import": `{"imported":2,"success":true}`,
	})
	useServer(t, ts)

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("Lecture notes on graph theory."), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "knowledge", "import", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	var body api.ImportRequest
	if err := json.Unmarshal([]byte(reqs[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Type != "text" {
		t.Errorf("type = %q, want text", body.Type)
	}
	if body.Title != "notes.txt" {
		t.Errorf("title = %q, want the file name", body.Title)
	}
	if body.Content != "Lecture notes on graph theory." {
		t.Errorf("content = %q", body.Content)
	}
}

func TestKnowledgeImport_Title(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/knowledge/import": `{"imported":1,"success":true}`,
	})
	useServer(t, ts)

	path := filepath.Join(t.TempDir(), "l3.txt")
	if err := os.WriteFile(path, []byte("Dynamic programming."), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "knowledge", "import", "--title", "Lecture 3", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body api.ImportRequest
	json.Unmarshal([]byte(ts.recorded()[0].Body), &body)
	if body.Title != "Lecture 3" {
		t.Errorf("title = %q, want Lecture 3", body.Title)
	}
}

func TestKnowledgeImport_MissingFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	useServer(t, ts)

	if _, err := runCLI(t, "knowledge", "import", filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestClientFor(t *testing.T) {
	c := clientFor(config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 5050, APIToken: "tok"}})
	if c.baseURL != "http://127.0.0.1:5050" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.token != "tok" {
		t.Errorf("token = %q", c.token)
	}
}

func TestClientOmitsAuthWithoutToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	c := ts.client()
	c.token = ""

	resp, err := c.get(context.Background(), "/health")
	if err != nil {
		t.Fatal(err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Fatal(err)
	}
	if auth := ts.recorded()[0].Auth; auth != "" {
		t.Errorf("auth = %q, want none", auth)
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 5000},
		Storage: config.StorageConfig{DataDir: t.TempDir(), Backend: "json", OnCorrupt: "empty"},
		Memory:  config.MemoryConfig{RecentLimit: 10},
		LLM:     config.LLMConfig{DefaultModel: "openai", MaxTokens: 500, Temperature: 0.7},
		OpenAI:  config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"},
		Gemini:  config.GeminiConfig{Model: "gemini-1.5-flash"},
		Ollama:  config.OllamaConfig{BaseURL: "http://localhost:11434"},
		Log:     config.LogConfig{Level: "info"},
		Metrics: config.MetricsConfig{Namespace: "scholar_test"},
	}
}

func TestBuildBackends(t *testing.T) {
	cfg := testConfig(t)
	if got := buildBackends(cfg); len(got) != 1 || got[assistant.ModelOpenAI] == nil {
		t.Errorf("backends = %v, want only openai", got)
	}

	cfg.Gemini.APIKey = "g-test"
	cfg.Ollama.Model = "llama3"
	got := buildBackends(cfg)
	if len(got) != 3 {
		t.Fatalf("len(backends) = %d, want 3", len(got))
	}
	if got[assistant.ModelGemini].Name() != "gemini" || got[assistant.ModelOllama].Name() != "ollama" {
		t.Errorf("unexpected backend names")
	}
}

func TestBuildApp(t *testing.T) {
	cfg := testConfig(t)

	a, err := buildApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	for _, name := range []string{storage.ConversationsCollection, storage.KnowledgeCollection} {
		if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, name+".json")); err != nil {
			t.Errorf("%s.json not created: %v", name, err)
		}
	}
	if a.deps.RecentLimit != 10 {
		t.Errorf("RecentLimit = %d", a.deps.RecentLimit)
	}
	if a.deps.Assistant.DefaultModel() != assistant.ModelOpenAI {
		t.Errorf("default model = %q", a.deps.Assistant.DefaultModel())
	}

	srv := httptest.NewServer(api.NewHandler(a.deps))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/history status = %d", resp.StatusCode)
	}
}

func TestBuildApp_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"

	a, err := buildApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, "scholar.db")); err != nil {
		t.Errorf("scholar.db not created: %v", err)
	}
}

func TestBuildApp_NoKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAI.APIKey = ""

	_, err := buildApp(context.Background(), cfg, nil)
	if !errors.Is(err, assistant.ErrNoBackends) {
		t.Fatalf("err = %v, want ErrNoBackends", err)
	}
}

func TestBuildApp_UnknownDefaultModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.DefaultModel = "claude"

	_, err := buildApp(context.Background(), cfg, nil)
	if !errors.Is(err, assistant.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

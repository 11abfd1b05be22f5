package main

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/scholar/internal/api"
	"github.com/kalambet/scholar/internal/config"
	"github.com/kalambet/scholar/internal/ingest"
	"github.com/kalambet/scholar/internal/knowledge"
	"github.com/kalambet/scholar/internal/memory"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message...>",
	Short: "Ask the assistant a question",
	Long: `Ask the assistant a question through the running server.

Examples:
  scholar chat "What is a monad?"
  scholar chat --model gemini explain the halting problem`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/chat", api.ChatRequest{
			Message: strings.Join(args, " "),
			Model:   model,
		})
		if err != nil {
			return err
		}

		var result api.ChatResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Response)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("model", "", "model to answer with (openai, gemini, ollama)")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/history"
		if limit > 0 {
			path += "?limit=" + strconv.Itoa(limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			History []memory.Turn `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), result.History)
		return nil
	},
}

func printHistory(w io.Writer, turns []memory.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No conversation history.")
		return
	}
	for _, t := range turns {
		stamp := colorize(colorDim, t.Timestamp.Local().Format(time.DateTime))
		label := roleLabel(t.Role)
		if t.Model != "" {
			label += colorize(colorDim, " ("+t.Model+")")
		}
		fmt.Fprintf(w, "%s %s: %s\n", stamp, label, t.Content)
	}
}

var historySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show message counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/history/summary")
		if err != nil {
			return err
		}

		var result struct {
			Summary memory.Summary `json:"summary"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Total messages:     %d\n", result.Summary.TotalMessages)
		fmt.Fprintf(w, "User messages:      %d\n", result.Summary.UserMessages)
		fmt.Fprintf(w, "Assistant messages: %d\n", result.Summary.AssistantMessages)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return clearCollection(cmd, "/api/clear-history", "conversation history")
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "show only the most recent n messages")
	historyClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	historyCmd.AddCommand(historySummaryCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect and manage the knowledge base",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listKnowledge(cmd, "/api/knowledge")
	},
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search knowledge entries by topic or content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"q": {strings.Join(args, " ")}}
		return listKnowledge(cmd, "/api/knowledge/search?"+q.Encode())
	},
}

func listKnowledge(cmd *cobra.Command, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return err
	}

	var result struct {
		Knowledge []knowledge.Entry `json:"knowledge"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printKnowledge(cmd.OutOrStdout(), result.Knowledge)
	return nil
}

func printKnowledge(w io.Writer, entries []knowledge.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No knowledge entries found.")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(w, "\n%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), e.Topic)
		fmt.Fprintf(w, "   %s\n", truncate(e.Content, 200))
	}
}

var knowledgeImportCmd = &cobra.Command{
	Use:   "import <files...>",
	Short: "Import text or PDF files into the knowledge base",
	Long: `Extract text from local files and import it into the knowledge base.

Examples:
  scholar knowledge import notes.txt
  scholar knowledge import --title "Lecture 3" lecture3.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		printStep("Extracting text from %d file(s)...", len(args))
		docs, err := ingest.ExtractFiles(cmd.Context(), args)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		total := 0
		for _, doc := range docs {
			docTitle := title
			if docTitle == "" {
				docTitle = filepath.Base(doc.Path)
			}
			resp, err := client.post(cmd.Context(), "/api/knowledge/import", api.ImportRequest{
				Type:    "text",
				Title:   docTitle,
				Content: doc.Text,
			})
			if err != nil {
				return err
			}
			var result api.ImportResponse
			if err := decodeJSON(resp, &result); err != nil {
				printError("%s: %v", doc.Path, err)
				continue
			}
			total += result.Imported
			printSuccess("%s: %d entries", doc.Path, result.Imported)
		}
		if total == 0 {
			return fmt.Errorf("nothing imported")
		}
		printSuccess("Imported %d entries", total)
		return nil
	},
}

var knowledgeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every knowledge entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return clearCollection(cmd, "/api/clear-knowledge", "knowledge base")
	},
}

func init() {
	knowledgeImportCmd.Flags().String("title", "", "title for the imported entries (default: file name)")
	knowledgeClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeImportCmd)
	knowledgeCmd.AddCommand(knowledgeClearCmd)
}

func clearCollection(cmd *cobra.Command, path, what string) error {
	confirm, _ := cmd.Flags().GetBool("confirm")
	if !confirm {
		printWarning("This will delete the entire %s. Use --confirm to proceed.", what)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), path, nil)
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return err
	}
	printSuccess("Cleared %s", what)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys (API keys, tokens, database URL) are\n" +
		"written to the secrets file instead of config.json.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

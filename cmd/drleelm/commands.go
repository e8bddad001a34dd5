package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/drleelm/drleelm/internal/client"
	"github.com/drleelm/drleelm/internal/config"
)

// newWaiter is replaced in tests to shorten the timings.
var newWaiter = client.NewWaiter

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and wait for the answer",
	Long: `Ask a question and wait for the answer.

Examples:
  drleelm ask "What does the mitochondria do?"
  drleelm ask --ns biology "Explain osmosis"
  drleelm ask --file notes/cells.md "Summarize this chapter"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		ns, _ := cmd.Flags().GetString("ns")
		file, _ := cmd.Flags().GetString("file")
		chatID, _ := cmd.Flags().GetString("chat")

		req := map[string]any{"question": question}
		if ns != "" {
			req["namespace"] = ns
		}
		if chatID != "" {
			req["chatId"] = chatID
		}
		path, topic := "/submit", "answer"
		if file != "" {
			req["filePath"] = file
			path, topic = "/api/companion/submit", "companion"
		}

		out, err := submitAndWait(cmd, path, topic, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
		return nil
	},
}

func init() {
	askCmd.Flags().String("ns", "", "collection namespace to retrieve context from")
	askCmd.Flags().String("file", "", "document to answer from (companion mode)")
	askCmd.Flags().String("chat", "", "chat id to continue")
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Generate study notes",
	Long: `Generate study notes from a topic, pasted notes or a document.

Examples:
  drleelm notes --topic "Photosynthesis"
  drleelm notes --file assets/chapter3.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")
		if topic == "" && file == "" && text == "" {
			return errors.New("one of --topic, --text, or --file is required")
		}

		out, err := submitAndWait(cmd, "/smartnotes", "smartnotes", map[string]any{
			"topic":    topic,
			"notes":    text,
			"filePath": file,
		})
		if err != nil {
			return err
		}
		printSuccess("Notes ready")
		fmt.Fprintln(cmd.OutOrStdout(), out.File)
		return nil
	},
}

func init() {
	notesCmd.Flags().String("topic", "", "topic to write notes on")
	notesCmd.Flags().String("text", "", "raw notes to restructure")
	notesCmd.Flags().String("file", "", "document to build notes from")
}

func submitAndWait(cmd *cobra.Command, path, topic string, body any) (client.Outcome, error) {
	c, err := newAPIClient(cmd)
	if err != nil {
		return client.Outcome{}, err
	}
	sub, err := c.Submit(cmd.Context(), path, body)
	if err != nil {
		return client.Outcome{}, err
	}
	printStep("Job %s submitted, waiting", sub.JobID)

	out, err := newWaiter(c).Wait(cmd.Context(), topic, sub.JobID)
	if errors.Is(err, client.ErrTimeout) {
		return client.Outcome{}, fmt.Errorf("no answer within %s; check later with: drleelm status", client.DefaultTimeout)
	}
	return out, err
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a collection for relevant passages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		ns, _ := cmd.Flags().GetString("ns")
		k, _ := cmd.Flags().GetInt("k")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		q := url.Values{"q": {query}, "k": {strconv.Itoa(k)}}
		if ns != "" {
			q.Set("ns", ns)
		}
		var results []struct {
			Text string         `json:"text"`
			Meta map[string]any `json:"meta"`
		}
		if err := c.Do(cmd.Context(), http.MethodGet, "/api/search?"+q.Encode(), nil, &results); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(results) == 0 || (len(results) == 1 && results[0].Text == "") {
			fmt.Fprintln(w, "No results found.")
			return nil
		}
		for i, r := range results {
			fmt.Fprintf(w, "\n%s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)))
			if src, ok := r.Meta["source"]; ok {
				fmt.Fprintf(w, "  Source: %v\n", src)
			}
			fmt.Fprintf(w, "  %s\n", truncate(r.Text, 500))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("ns", "", "collection namespace")
	searchCmd.Flags().Int("k", 6, "number of passages")
}

// --- chats ---

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and manage saved chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		var chats []struct {
			ID        string    `json:"id"`
			Title     string    `json:"title"`
			UpdatedAt time.Time `json:"updatedAt"`
		}
		if err := c.Do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/chats?limit=%d", limit), nil, &chats); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(chats) == 0 {
			fmt.Fprintln(w, "No chats found.")
			return nil
		}
		for _, ch := range chats {
			fmt.Fprintf(w, "%s  %s  %s\n",
				colorize(colorCyan, ch.ID),
				ch.UpdatedAt.Local().Format("2006-01-02 15:04"),
				truncate(ch.Title, 60))
		}
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		var chat struct {
			Chat struct {
				Title string `json:"title"`
			} `json:"chat"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := c.Do(cmd.Context(), http.MethodGet, "/api/chats/"+url.PathEscape(args[0]), nil, &chat); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, colorize(colorBold, chat.Chat.Title))
		for _, m := range chat.Messages {
			fmt.Fprintf(w, "\n[%s]\n%s\n", m.Role, m.Content)
		}
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Do(cmd.Context(), http.MethodDelete, "/api/chats/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted chat %s", args[0])
		return nil
	},
}

func init() {
	chatsListCmd.Flags().Int("limit", 20, "maximum number of chats")
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List models offered by the configured providers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		type model struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		w := cmd.OutOrStdout()

		if len(args) == 1 {
			embed, _ := cmd.Flags().GetBool("embedding")
			path := "/api/models/" + url.PathEscape(args[0])
			if embed {
				path += "?type=embedding"
			}
			var resp struct {
				Models []model `json:"models"`
			}
			if err := c.Do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			for _, m := range resp.Models {
				fmt.Fprintln(w, m.ID)
			}
			return nil
		}

		var all map[string][]model
		if err := c.Do(cmd.Context(), http.MethodGet, "/api/models", nil, &all); err != nil {
			return err
		}
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(w, colorize(colorBold, name))
			for _, m := range all[name] {
				fmt.Fprintf(w, "  %s\n", m.ID)
			}
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().Bool("embedding", false, "list embedding models")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

// loadSettings is replaced in tests.
var loadSettings = func() (*config.Settings, error) {
	_, s, err := config.Load()
	return s, err
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(s.Config()) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		key, value := args[0], args[1]
		if err := s.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a persisted value so the environment or default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if err := s.Revert(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/halwer/rolo/internal/config"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <provider>",
	Short: "Queue a background sync for a provider",
	Long: `Queue a background sync for a provider.

The job runs on the server's worker. Use "rolo status" to watch the queue
drain, or "rolo run" to force a pass immediately.

Examples:
  rolo sync gmail
  rolo sync gmail --query "newer_than:7d"
  rolo sync gcal`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"provider": args[0]}
		if query != "" {
			req["query"] = query
		}

		resp, err := client.post(cmd.Context(), "/sync", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued %s sync: job %s (batch %s)", args[0], result["job_id"], result["batch_id"])
		return nil
	},
}

func init() {
	syncCmd.Flags().String("query", "", "provider-side filter, e.g. a Gmail search expression")
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one queue pass now",
	Long: `Run one queue pass now instead of waiting for the background poll.

A pass claims up to one batch of due jobs and processes them. Repeat, or let
the server keep polling, to drain a large backlog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/runner/pass", map[string]any{})
		if err != nil {
			return err
		}

		var sum struct {
			Processed int `json:"processed"`
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
			Deferred  int `json:"deferred"`
		}
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}

		if sum.Processed == 0 && sum.Deferred == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		printSuccess("Processed %d jobs: %d succeeded, %d failed", sum.Processed, sum.Succeeded, sum.Failed)
		if sum.Deferred > 0 {
			printWarning("%d jobs deferred until their quota window resets", sum.Deferred)
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over synced interactions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/search", map[string]any{
			"query": query,
			"top_k": limit,
		})
		if err != nil {
			return err
		}

		var results []struct {
			OwnerID string  `json:"owner_id"`
			Text    string  `json:"text"`
			Score   float32 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score)
			fmt.Printf("  Interaction: %s\n", r.OwnerID)
			text := r.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- contacts ---

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Browse contacts extracted from interactions",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts, most recently seen first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/contacts?limit=%d", limit))
		if err != nil {
			return err
		}

		var contacts []struct {
			ID         string
			Email      string
			Name       string
			TimesSeen  int
			LastSeenAt time.Time
		}
		if err := decodeJSON(resp, &contacts); err != nil {
			return err
		}

		if len(contacts) == 0 {
			fmt.Println("No contacts found.")
			return nil
		}

		for _, c := range contacts {
			name := c.Name
			if name == "" {
				name = "-"
			}
			fmt.Printf("%s  %-32s  %-24s  seen %d, last %s\n",
				colorize(colorCyan, c.ID[:8]),
				c.Email,
				name,
				c.TimesSeen,
				c.LastSeenAt.Format("2006-01-02"),
			)
		}
		return nil
	},
}

var contactsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single contact as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/contacts/"+args[0])
		if err != nil {
			return err
		}

		var contact any
		if err := decodeJSON(resp, &contact); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contact)
	},
}

func init() {
	contactsListCmd.Flags().Int("limit", 50, "maximum number of contacts to list")
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsShowCmd)
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

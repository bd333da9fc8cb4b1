package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abhisek/apgen/internal/llm"
	"github.com/abhisek/apgen/internal/store"
	"github.com/abhisek/apgen/internal/ui/theme"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect the LLM call ledger",
	Long: `The ledger records every text-model call made by "apgen generate" when
db_path (or --db) is set: the prompt, the raw reply, token usage and latency.`,
}

var llmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent model calls",
	RunE:  runLLMList,
}

var llmViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Show the prompt and reply of one model call",
	Args:  cobra.ExactArgs(1),
	RunE:  runLLMView,
}

var llmRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Summarize recent generation runs",
	RunE:  runLLMRuns,
}

var llmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token usage by purpose and estimated cost by model",
	RunE:  runLLMStats,
}

func init() {
	llmListCmd.Flags().IntP("limit", "n", 20, "Number of calls to show")
	llmListCmd.Flags().StringP("purpose", "p", "", "Filter by purpose (mcq-initial, mcq-repair, frq-initial, frq-repair)")
	llmListCmd.Flags().Duration("since", 0, "Only show calls newer than this (e.g. 2h)")
	llmListCmd.Flags().Bool("failed", false, "Only show failed calls")
	llmListCmd.Flags().String("run", "", "Only show calls of this generation run")
	llmRunsCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")

	llmCmd.AddCommand(llmListCmd)
	llmCmd.AddCommand(llmViewCmd)
	llmCmd.AddCommand(llmRunsCmd)
	llmCmd.AddCommand(llmStatsCmd)
}

// openLedger opens the ledger for the inspection commands.
func openLedger(cmd *cobra.Command) (*store.Store, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func runLLMList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	purpose, _ := cmd.Flags().GetString("purpose")
	since, _ := cmd.Flags().GetDuration("since")
	failedOnly, _ := cmd.Flags().GetBool("failed")
	runID, _ := cmd.Flags().GetString("run")

	s, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := store.QueryOpts{Limit: limit, Purpose: purpose, RunID: runID}
	if since > 0 {
		opts.From = time.Now().Add(-since)
	}
	if failedOnly {
		// Failures are filtered client-side, so widen the window.
		opts.Limit = 0
	}
	events, err := s.EventRepo().QueryLLMEvents(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	if failedOnly {
		kept := events[:0]
		for _, e := range events {
			if !e.Success {
				kept = append(kept, e)
			}
		}
		events = kept
		if limit > 0 && len(events) > limit {
			events = events[:limit]
		}
	}

	if len(events) == 0 {
		fmt.Println(theme.Hint.Render("No model calls recorded."))
		return nil
	}

	fmt.Println(theme.Label.Render(fmt.Sprintf("%-5s  %-12s  %-12s  %-26s  %6s  %6s  %5s  %7s  %s",
		"ID", "When", "Purpose", "Model", "In", "Out", "Rows", "Latency", "OK")))
	for _, e := range events {
		ok := theme.OK.Render("✓")
		if !e.Success {
			ok = theme.Fail.Render("✗")
		}
		fmt.Printf("%-5d  %-12s  %-12s  %-26s  %6d  %6d  %5d  %7s  %s\n",
			e.ID,
			truncate(humanize.Time(e.Timestamp), 12),
			e.Purpose,
			truncate(e.Model, 26),
			e.InputTokens,
			e.OutputTokens,
			replyRows(e.ResponseBody),
			(time.Duration(e.LatencyMs) * time.Millisecond).Round(100*time.Millisecond),
			ok,
		)
	}
	return nil
}

func runLLMView(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid ID %q: %w", args[0], err)
	}

	s, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.EventRepo().GetLLMEvent(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	if e == nil {
		return fmt.Errorf("event %d not found", id)
	}

	fmt.Println(theme.Title.Render(fmt.Sprintf("Call %d", e.ID)))
	printRow("time", e.Timestamp.Local().Format("2006-01-02 15:04:05"))
	printRow("model", e.Model)
	printRow("purpose", e.Purpose)
	if e.RunID != "" {
		printRow("run", e.RunID)
	}
	printRow("tokens", fmt.Sprintf("%s in / %s out", humanize.Comma(int64(e.InputTokens)), humanize.Comma(int64(e.OutputTokens))))
	printRow("latency", (time.Duration(e.LatencyMs) * time.Millisecond).String())
	switch {
	case e.Success && e.StopReason == string(llm.StopMaxTokens):
		printRow("result", theme.Warn.Render(fmt.Sprintf("truncated, %d rows", replyRows(e.ResponseBody))))
	case e.Success:
		printRow("result", theme.OK.Render(fmt.Sprintf("ok, %d rows", replyRows(e.ResponseBody))))
	default:
		printRow("result", theme.Fail.Render(e.ErrorMessage))
	}

	section := func(title, body string) {
		fmt.Println()
		fmt.Println(theme.Label.Render(title))
		if body == "" {
			fmt.Println(theme.Hint.Render("(not captured)"))
			return
		}
		fmt.Println(body)
	}
	section("PROMPT", e.RequestBody)
	section("REPLY", e.ResponseBody)
	return nil
}

func runLLMStats(cmd *cobra.Command, args []string) error {
	s, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	stats, err := s.EventRepo().LLMUsageByPurpose(ctx)
	if err != nil {
		return fmt.Errorf("query usage: %w", err)
	}
	if len(stats) == 0 {
		fmt.Println(theme.Hint.Render("No model calls recorded."))
		return nil
	}

	fmt.Println(theme.Title.Render("Usage by purpose"))
	fmt.Println(theme.Label.Render(fmt.Sprintf("%-14s  %6s  %12s  %12s  %8s", "Purpose", "Calls", "Input", "Output", "Avg")))
	var calls, in, out int
	for _, st := range stats {
		fmt.Printf("%-14s  %6d  %12s  %12s  %8s\n",
			st.Purpose, st.Calls,
			humanize.Comma(int64(st.InputTokens)), humanize.Comma(int64(st.OutputTokens)),
			(time.Duration(st.AvgLatencyMs) * time.Millisecond).Round(100*time.Millisecond))
		calls += st.Calls
		in += st.InputTokens
		out += st.OutputTokens
	}
	fmt.Printf("%-14s  %6d  %12s  %12s\n", "total", calls, humanize.Comma(int64(in)), humanize.Comma(int64(out)))

	byModel, err := s.EventRepo().LLMUsageByModel(ctx)
	if err != nil {
		return fmt.Errorf("query model usage: %w", err)
	}
	if len(byModel) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println(theme.Title.Render("Estimated cost (USD)"))
	fmt.Println(theme.Label.Render(fmt.Sprintf("%-30s  %6s  %10s", "Model", "Calls", "Cost")))
	var (
		total   float64
		unknown []string
	)
	for _, mu := range byModel {
		cost := "?"
		if c := llm.LookupCost(mu.Model); c != nil {
			usd := c.Cost(mu.InputTokens, mu.OutputTokens)
			total += usd
			cost = formatCost(usd)
		} else {
			unknown = append(unknown, mu.Model)
		}
		fmt.Printf("%-30s  %6d  %10s\n", truncate(mu.Model, 30), mu.Calls, cost)
	}
	label := "total"
	if len(unknown) > 0 {
		label = "total (partial)"
	}
	fmt.Printf("%-30s  %6s  %10s\n", label, "", formatCost(total))
	if len(unknown) > 0 {
		fmt.Println(theme.Hint.Render("No pricing for: " + strings.Join(unknown, ", ")))
	}
	return nil
}

func runLLMRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.EventRepo().LLMRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println(theme.Hint.Render("No generation runs recorded."))
		return nil
	}

	fmt.Println(theme.Label.Render(fmt.Sprintf("%-36s  %-14s  %8s  %6s  %6s  %6s  %12s",
		"Run", "Started", "Duration", "Calls", "Failed", "Trunc", "Tokens")))
	for _, r := range runs {
		fmt.Printf("%-36s  %-14s  %8s  %6d  %6s  %6d  %12s\n",
			r.RunID,
			truncate(humanize.Time(r.First), 14),
			r.Last.Sub(r.First).Round(time.Second),
			r.Calls,
			theme.Count(r.Failures),
			r.Truncated,
			humanize.Comma(int64(r.InputTokens+r.OutputTokens)),
		)
	}
	return nil
}

// replyRows counts the non-blank lines of a stored reply, which is the
// number of candidate item rows the model produced.
func replyRows(body string) int {
	n := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

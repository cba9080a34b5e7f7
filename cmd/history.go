package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past renders",
	Long: `List and inspect renders recorded in the history database
(history.path). Failed renders keep the failing frame and the template's
input data so the failure can be reproduced with preview --frame.`,
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent renders",
	Args:    cobra.NoArgs,
	RunE:    runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one render",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var (
	historyLimit      int
	historyListOutput *OutputFlags
	historyShowOutput *OutputFlags
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of renders to show (0 for all)")
	historyListOutput = AddOutputFlags(historyListCmd, "table", "json", "yaml")
	historyShowOutput = AddOutputFlags(historyShowCmd, "yaml", "json")
}

func openHistory() (*history.Store, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "render history is disabled (history.enabled)")
	}
	return history.Open(cfg.History.Path, logger)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	renders, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ok, err := outputStructured(out, historyListOutput.Format, renders); ok {
		return err
	}

	if len(renders) == 0 {
		fmt.Fprintln(out, "No renders recorded.")
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tTEMPLATE\tSIZE\tFRAMES\tDURATION\tRESULT")
	for _, r := range renders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx%d\t%d\t%s\t%s\n",
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.TemplatePath,
			r.Width, r.Height,
			r.TotalFrames,
			elapsed(r),
			resultSummary(r),
		)
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := findRender(cmd, store, args[0])
	if err != nil {
		return err
	}

	if ok, err := outputStructured(cmd.OutOrStdout(), historyShowOutput.Format, r); ok {
		return err
	}
	return outputYAML(cmd.OutOrStdout(), r)
}

// findRender accepts a full id or the short prefix printed by list.
func findRender(cmd *cobra.Command, store *history.Store, id string) (history.Render, error) {
	r, err := store.Get(cmd.Context(), id)
	if err == nil || !errors.Is(err, history.ErrNotFound) {
		return r, err
	}

	all, err := store.List(cmd.Context(), 0)
	if err != nil {
		return history.Render{}, err
	}
	var matches []history.Render
	for _, candidate := range all {
		if len(id) >= 4 && len(candidate.ID) >= len(id) && candidate.ID[:len(id)] == id {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return history.Render{}, fmt.Errorf("render %s: %w", id, history.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return history.Render{}, fmt.Errorf("id prefix %s matches %d renders", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func elapsed(r history.Render) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(100 * time.Millisecond).String()
}

func resultSummary(r history.Render) string {
	switch r.Status {
	case history.StatusSucceeded:
		return fmt.Sprintf("%s (%s)", r.OutputPath, humanBytes(r.OutputBytes))
	case history.StatusFailed:
		if r.FailedFrame != nil {
			return fmt.Sprintf("%s at frame %d", r.ErrorCode, *r.FailedFrame)
		}
		return r.ErrorCode
	default:
		return ""
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"techdebtsim/internal/app"
	"techdebtsim/internal/db"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/repo"
)

func withRepo(ctx context.Context, fn func(r repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	if _, err := os.Stat(db.Path(workspace)); err != nil {
		return fmt.Errorf("no recorded runs in %s; record with tds run --record", workspace)
	}
	conn, err := app.OpenDB(ctx, workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(repo.Repo{DB: conn})
}

func historyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded runs",
	}
	c.AddCommand(historyRunsCmd(), historyShowCmd(), historyTailCmd(), historySnapshotsCmd(), historyRmCmd())
	return c
}

func historyRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r repo.Repo) error {
				runs, err := r.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Started", "Ended", "Seed", "Last Step"})
				for _, run := range runs {
					tw.AppendRow(table.Row{shortID(run.ID), run.StartedAt.Local().Format(time.DateTime), endedLabel(run), seedLabel(run.Seed), run.LastStep})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max runs")
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [run]",
		Short: "Show a run; defaults to the latest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r repo.Repo) error {
				run, err := r.ResolveRun(cmd.Context(), argOr(args, 0, "latest"))
				if err != nil {
					return err
				}
				snapshots, err := r.CountSnapshots(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "snapshots": snapshots})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Run " + run.ID)
				tw.AppendRow(table.Row{"Started", run.StartedAt.Local().Format(time.DateTime)})
				tw.AppendRow(table.Row{"Ended", endedLabel(run)})
				tw.AppendRow(table.Row{"Seed", seedLabel(run.Seed)})
				tw.AppendRow(table.Row{"Last step", run.LastStep})
				tw.AppendRow(table.Row{"Snapshots", snapshots})
				tw.AppendRow(table.Row{"Settings", run.SettingsJSON})
				tw.Render()
				return nil
			})
		},
	}
}

func historyTailCmd() *cobra.Command {
	var (
		n    int
		kind string
	)
	cmd := &cobra.Command{
		Use:   "tail [run]",
		Short: "Show the latest events of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" && !engine.EventKind(kind).Valid() {
				return fmt.Errorf("unknown event kind %q; one of %v", kind, engine.EventKinds)
			}
			return withRepo(cmd.Context(), func(r repo.Repo) error {
				run, err := r.ResolveRun(cmd.Context(), argOr(args, 0, "latest"))
				if err != nil {
					return err
				}
				items, err := r.LatestEvents(cmd.Context(), repo.EventFilter{RunID: run.ID, Kind: kind, Limit: n})
				if err != nil {
					return err
				}
				// Oldest first reads naturally in a terminal.
				for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
					items[i], items[j] = items[j], items[i]
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderEvents(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind")
	return cmd
}

func renderEvents(items []domain.RunEvent) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Kind", "Step"})
	for _, ev := range items {
		tw.AppendRow(table.Row{ev.ID, ev.TS.Local().Format(time.TimeOnly), ev.Kind, ev.Step})
	}
	tw.Render()
}

func historySnapshotsCmd() *cobra.Command {
	var from, limit int
	cmd := &cobra.Command{
		Use:   "snapshots [run]",
		Short: "List metric snapshots of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r repo.Repo) error {
				run, err := r.ResolveRun(cmd.Context(), argOr(args, 0, "latest"))
				if err != nil {
					return err
				}
				items, err := r.ListSnapshots(cmd.Context(), run.ID, from, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Step", "Reputation", "Users", "Revenue", "Quality", "Devs", "Satisfaction"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Step, s.Product.Reputation, s.Product.UserCount, s.Product.Revenue,
						s.Codebase.CodeQuality, s.Team.DeveloperCount, s.Team.AverageSatisfaction})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first step")
	cmd.Flags().IntVar(&limit, "limit", 50, "max snapshots")
	return cmd
}

func historyRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <run>",
		Short: "Delete a run with its events and snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(r repo.Repo) error {
				run, err := r.ResolveRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := r.DeleteRun(cmd.Context(), run.ID); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"deleted": run.ID})
				}
				fmt.Println("deleted", run.ID)
				return nil
			})
		},
	}
}

func argOr(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func endedLabel(run domain.Run) string {
	if run.EndedAt == nil {
		return "-"
	}
	return run.EndedAt.Local().Format(time.DateTime)
}

func seedLabel(seed *uint64) string {
	if seed == nil {
		return "-"
	}
	return strconv.FormatUint(*seed, 10)
}


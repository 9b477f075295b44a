package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/charity-dao/internal/chain"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/models"
	"github.com/david/charity-dao/internal/status"
)

func statusesCommand() *cobra.Command {
	var (
		address string
		want    string
	)
	cmd := &cobra.Command{
		Use:   "statuses",
		Short: "Print the derived status of every synced request and project",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, store, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			filter := db.EntityFilter{Address: address}
			reqs, err := store.ListRequests(ctx, filter)
			if err != nil {
				return err
			}
			projects, err := store.ListProjects(ctx, filter)
			if err != nil {
				return err
			}
			renderStatuses(cmd.OutOrStdout(), reqs, projects, want, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "only entities created by this wallet")
	cmd.Flags().StringVar(&want, "status", "", "only entities in this status")
	return cmd
}

func renderStatuses(w io.Writer, reqs []models.Request, projects []models.Project, want string, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Kind", "ID", "Status", "Reason", "Amount (USDT)", "DAO Votes"})

	for _, r := range reqs {
		d := status.ResolveRequest(r, now)
		if want != "" && string(d.Status) != want {
			continue
		}
		t.AppendRow(table.Row{"request", r.ID, d.Status, d.Reason, chain.FormatUSDT(r.Amount),
			votes(r.ApproveCount, r.RejectCount)})
	}
	for _, p := range projects {
		st := status.ResolveProject(p).Status
		if want != "" && string(st) != want {
			continue
		}
		t.AppendRow(table.Row{"project", p.ID, st, "", chain.FormatUSDT(p.TargetAmount),
			votes(p.ApproveCount, p.RejectCount)})
	}

	t.AppendFooter(table.Row{"", "", "", "Total", len(reqs) + len(projects), ""})
	t.Render()
}

func runsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Print the most recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, store, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			runs, err := store.ListSyncRuns(ctx, limit)
			if err != nil {
				return err
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}

func renderRuns(w io.Writer, runs []models.SyncRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Status", "Requests", "Projects", "Activities", "Duration", "Started At", "Error"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{r.RunID.String()[:8], r.Status, r.Requests, r.Projects, r.Activities,
			duration, r.StartedAt.Format("2006-01-02 15:04:05"), r.Error})
	}
	t.Render()
}

func votes(approve, reject uint64) string {
	return fmt.Sprintf("%d/%d", approve, reject)
}

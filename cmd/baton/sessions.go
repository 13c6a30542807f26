package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/internal/workflow"
	"github.com/ShayCichocki/baton/pkg/models"
)

func newSessionsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage workflow sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(o),
		newSessionsShowCmd(o),
		newSessionsPauseCmd(o),
		newSessionsCleanupCmd(o),
	)
	return cmd
}

// withStore runs fn against the configured session store.
func (o *rootOptions) withStore(cmd *cobra.Command, fn func(*env, *state.Store) error) error {
	e, err := o.setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(e, store)
}

func newSessionsListCmd(o *rootOptions) *cobra.Command {
	var resumable, all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Long: `List sessions, newest first.

By default only active and resumed sessions are shown. Use --resumable for
paused or failed sessions that can be resumed, or --all for everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(e *env, store *state.Store) error {
				var list []*models.WorkflowSession
				switch {
				case all:
					list = store.Sessions()
				case resumable:
					list = lookupAll(store, store.ListResumable())
				default:
					list = lookupAll(store, store.ListActive())
				}
				if len(list) == 0 {
					fmt.Fprintln(e.out, "No sessions.")
					return nil
				}
				sort.SliceStable(list, func(i, j int) bool {
					return list[i].UpdatedAt > list[j].UpdatedAt
				})

				now := time.Now()
				rows := make([][]string, 0, len(list))
				for _, s := range list {
					rows = append(rows, []string{
						s.SessionID,
						s.WorkflowName,
						string(s.State),
						s.CurrentAgent,
						fmt.Sprintf("%.0f%%", s.CompletionPercentage),
						fmt.Sprintf("%d", len(s.HandoffPackets)),
						formatAge(s.UpdatedAt, now),
					})
				}
				fmt.Fprintln(e.out, renderTable([]string{"Session", "Workflow", "State", "Agent", "Done", "Packets", "Updated"}, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&resumable, "resumable", false, "Only list paused or failed sessions that can be resumed")
	cmd.Flags().BoolVar(&all, "all", false, "List every session")
	return cmd
}

func lookupAll(store *state.Store, ids []string) []*models.WorkflowSession {
	out := make([]*models.WorkflowSession, 0, len(ids))
	for _, id := range ids {
		if s, ok := store.Session(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func newSessionsShowCmd(o *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its handoff packets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(e *env, store *state.Store) error {
				s, ok := store.Session(args[0])
				if !ok {
					return fmt.Errorf("session %s not found", args[0])
				}
				if asJSON {
					data, err := json.MarshalIndent(s, "", "  ")
					if err != nil {
						return fmt.Errorf("encode session: %w", err)
					}
					fmt.Fprintln(e.out, string(data))
					return nil
				}
				printSession(e, s)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	return cmd
}

func printSession(e *env, s *models.WorkflowSession) {
	now := time.Now()
	fmt.Fprintf(e.out, "Session: %s\n", s.SessionID)
	fmt.Fprintf(e.out, "  Workflow:   %s\n", s.WorkflowName)
	fmt.Fprintf(e.out, "  State:      %s\n", s.State)
	if req := s.Metadata[workflow.MetaRequest]; req != "" {
		fmt.Fprintf(e.out, "  Request:    %s\n", truncate(req, 72))
	}
	fmt.Fprintf(e.out, "  Agent:      %s\n", s.CurrentAgent)
	if s.NextSuggestedAgent != "" {
		fmt.Fprintf(e.out, "  Next:       %s\n", s.NextSuggestedAgent)
	}
	fmt.Fprintf(e.out, "  Completion: %.0f%%\n", s.CompletionPercentage)
	fmt.Fprintf(e.out, "  Started:    %s ago\n", formatAge(s.StartedAt, now))
	fmt.Fprintf(e.out, "  Updated:    %s ago\n", formatAge(s.UpdatedAt, now))
	if s.Resumable() {
		fmt.Fprintf(e.out, "  %s resumable: baton resume %s\n", warnGlyph(), s.SessionID)
	}

	if len(s.HandoffPackets) == 0 {
		return
	}
	rows := make([][]string, 0, len(s.HandoffPackets))
	for i, p := range s.HandoffPackets {
		mark := ""
		if s.IsCheckpoint(p.CompletedTaskID) {
			mark = okGlyph()
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			p.AgentName,
			string(p.Status),
			string(p.NextStepSuggestion),
			truncate(p.Notes, 48),
			mark,
		})
	}
	fmt.Fprintln(e.out)
	fmt.Fprintln(e.out, renderTable([]string{"#", "Agent", "Status", "Next", "Notes", "Checkpoint"}, rows))
}

func newSessionsPauseCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause an active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(e *env, store *state.Store) error {
				paused, err := store.Pause(args[0])
				if err != nil {
					return err
				}
				if !paused {
					return fmt.Errorf("session %s is unknown or not active", args[0])
				}
				printStatus(e.out, "✓", fmt.Sprintf("Paused %s", args[0]), color.FgGreen)
				return nil
			})
		},
	}
}

func newSessionsCleanupCmd(o *rootOptions) *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions not updated within the expiry window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(e *env, store *state.Store) error {
				days := maxAgeDays
				if days <= 0 {
					days = e.cfg.Store.ExpiryDays
				}
				n, err := store.CleanupExpired(days)
				if err != nil {
					return fmt.Errorf("cleanup sessions: %w", err)
				}
				printStatus(e.out, "✓", fmt.Sprintf("Removed %d session(s) older than %d day(s)", n, days), color.FgGreen)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Expiry window in days (default from store.expiry_days)")
	return cmd
}

func newStatsCmd(o *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show session store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(e *env, store *state.Store) error {
				st := store.Statistics()
				if asJSON {
					data, err := json.MarshalIndent(st, "", "  ")
					if err != nil {
						return fmt.Errorf("encode statistics: %w", err)
					}
					fmt.Fprintln(e.out, string(data))
					return nil
				}
				rows := [][]string{
					{"sessions created", formatNumber(st.SessionsCreated)},
					{"sessions resumed", formatNumber(st.SessionsResumed)},
					{"active sessions", formatNumber(int64(st.ActiveSessions))},
					{"packets cached", formatNumber(st.PacketsCached)},
					{"checkpoints", formatNumber(st.CheckpointsCreated)},
					{"workflows completed", formatNumber(st.WorkflowsCompleted)},
					{"workflows failed", formatNumber(st.WorkflowsFailed)},
					{"cache hit rate", fmt.Sprintf("%.1f%%", st.CacheHitRate*100)},
				}
				fmt.Fprintln(e.out, renderTable([]string{"Statistic", "Value"}, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

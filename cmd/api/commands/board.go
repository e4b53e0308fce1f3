package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"workboard/api/internal/board"
	"workboard/api/internal/config"
	"workboard/api/internal/gateway"
	"workboard/api/internal/util"
	"workboard/api/internal/workspace"
)

type boardOptions struct {
	apiURL    string
	workspace string
	period    string
	timeout   time.Duration
}

// NewBoardCommand creates the board command, a client of a running API.
// Without an API URL it works on the demo board.
func NewBoardCommand() *cobra.Command {
	opts := &boardOptions{}
	boardCmd := &cobra.Command{
		Use:   "board",
		Short: "Inspect and edit a workspace board",
	}
	flags := boardCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", "", "board API base URL (defaults to BOARD_API_URL; empty uses demo data)")
	flags.StringVar(&opts.workspace, "workspace", "", "workspace id (defaults to BOARD_WORKSPACE_ID)")
	flags.StringVar(&opts.period, "period", "", "period id such as 2026-02-09__2026-02-15 (defaults to the newest)")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "overall timeout for the command")

	boardCmd.AddCommand(
		newShowCommand(opts),
		newPeriodCommand(opts),
		newTaskCommand(opts),
		newMemberCommand(opts),
		newAssignCommand(opts),
		newUnassignCommand(opts),
	)
	return boardCmd
}

// withStore opens a workspace store, waits for its board and runs fn.
func withStore(cmd *cobra.Command, opts *boardOptions, fn func(ctx context.Context, ws *workspace.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	apiURL := util.FirstNonBlank(opts.apiURL, cfg.Board.APIURL)
	workspaceID := strings.TrimSpace(util.FirstNonBlank(opts.workspace, cfg.Board.WorkspaceID))

	var gw gateway.Gateway
	if apiURL != "" {
		gw = gateway.NewHTTP(apiURL)
	}
	var storeOpts []workspace.Option
	if opts.period != "" {
		storeOpts = append(storeOpts, workspace.WithPeriod(opts.period))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	ws := workspace.New(workspaceID, gw, storeOpts...)
	defer ws.Close()
	if err := ws.Open(ctx); err != nil {
		return err
	}
	if err := ws.Ready(ctx); err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	if ws.Mode() == workspace.ModeDemo {
		fmt.Fprintln(cmd.ErrOrStderr(), "demo mode: changes are not saved")
	}
	return fn(ctx, ws)
}

func newShowCommand(opts *boardOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the periods, members and tasks of a board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(_ context.Context, ws *workspace.Store) error {
				return printBoard(cmd.OutOrStdout(), ws.Snapshot())
			})
		},
	}
}

func newPeriodCommand(opts *boardOptions) *cobra.Command {
	periodCmd := &cobra.Command{Use: "period", Short: "Manage periods"}
	periodCmd.AddCommand(&cobra.Command{
		Use:   "create START END",
		Short: "Create a period from two YYYY-MM-DD dates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, ws *workspace.Store) error {
				if err := ws.CreatePeriod(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), board.BuildPeriodID(args[0], args[1]))
				return nil
			})
		},
	})
	return periodCmd
}

func newTaskCommand(opts *boardOptions) *cobra.Command {
	var (
		in        workspace.NewTask
		taskHours float64
	)
	taskCmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in the selected period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hours") {
				in.Minutes = float64(board.HoursToMinutes(taskHours))
			}
			return withStore(cmd, opts, func(ctx context.Context, ws *workspace.Store) error {
				id, err := ws.CreateTask(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	f := createCmd.Flags()
	f.StringVar(&in.Title, "title", "", "task title")
	f.StringVar(&in.Description, "description", "", "task description")
	f.Float64Var(&in.Minutes, "minutes", 0, "estimated minutes")
	f.Float64Var(&taskHours, "hours", 0, "estimated hours (overrides --minutes)")
	f.StringVar((*string)(&in.Business), "business", "", "business the task belongs to")
	f.BoolVar(&in.Important, "important", false, "mark the task important")
	taskCmd.AddCommand(createCmd)
	return taskCmd
}

func newMemberCommand(opts *boardOptions) *cobra.Command {
	var hoursPerDay float64
	memberCmd := &cobra.Command{Use: "member", Short: "Manage members"}
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a member in the selected period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, ws *workspace.Store) error {
				id, err := ws.CreateMember(ctx, args[0])
				if err != nil {
					return err
				}
				if hoursPerDay > 0 {
					availability := board.UniformWeekdays(board.HoursToMinutes(hoursPerDay))
					if err := ws.UpdateMemberAvailability(ctx, id, availability); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	createCmd.Flags().Float64Var(&hoursPerDay, "hours-per-day", 0, "availability Monday to Friday, in hours")
	memberCmd.AddCommand(createCmd)
	return memberCmd
}

func newAssignCommand(opts *boardOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assign TASK MEMBER",
		Short: "Assign a task to a member within their availability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, ws *workspace.Store) error {
				snap := ws.Snapshot()
				if _, ok := findTask(snap.Tasks, args[0]); !ok {
					return fmt.Errorf("task %q not found in %s", args[0], snap.SelectedPeriodID)
				}
				if _, ok := findMember(snap.Members, args[1]); !ok {
					return fmt.Errorf("member %q not found in %s", args[1], snap.SelectedPeriodID)
				}
				err := ws.AssignTask(ctx, args[0], board.StringPtr(args[1]))
				if errors.Is(err, board.ErrCapacityExceeded) {
					return errors.New(strings.TrimSpace(strings.TrimPrefix(ws.Snapshot().Toast, "❌")))
				}
				return err
			})
		},
	}
}

func newUnassignCommand(opts *boardOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unassign TASK",
		Short: "Move a task back to the unassigned list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, ws *workspace.Store) error {
				return ws.AssignTask(ctx, args[0], nil)
			})
		},
	}
}

func printBoard(w io.Writer, snap workspace.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "PERIOD\tLABEL\n")
	for _, p := range snap.Periods {
		marker := ""
		if p.ID == snap.SelectedPeriodID {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%s\n", p.ID, marker, p.Label)
	}

	fmt.Fprintf(tw, "\nMEMBER\tNAME\tASSIGNED\tAVAILABLE\tREMAINING\n")
	for _, m := range snap.Members {
		stat := snap.Stats[m.ID]
		remaining := hours(stat.Remaining)
		if stat.Over {
			remaining += " (over)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, hours(stat.Assigned), hours(stat.Available), remaining)
	}

	names := make(map[string]string, len(snap.Members))
	for _, m := range snap.Members {
		names[m.ID] = m.Name
	}
	fmt.Fprintf(tw, "\nTASK\tTITLE\tBUSINESS\tTIME\tASSIGNEE\n")
	for _, t := range snap.Tasks {
		assignee := "-"
		if t.Assigned() {
			assignee = util.FirstNonBlank(names[*t.AssignedTo], *t.AssignedTo)
		}
		title := t.Title
		if t.Important {
			title = "! " + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, title, t.Business, hours(int(t.Minutes)), assignee)
	}
	return tw.Flush()
}

func hours(minutes int) string {
	return strconv.FormatFloat(board.MinutesToHours(minutes), 'f', -1, 64) + "h"
}

func findTask(tasks []board.Task, id string) (board.Task, bool) {
	return board.Board{Tasks: tasks}.FindTask(id)
}

func findMember(members []board.Member, id string) (board.Member, bool) {
	return board.Board{Members: members}.FindMember(id)
}

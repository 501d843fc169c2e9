package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"simctl/interfaces/go/client"
	"simctl/internal/domain"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new session",
		Long: `Start a new session on the server. Flags left unset fall back to the
server's stored settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			req := client.StartRequest{}
			req.URL, _ = cmd.Flags().GetString("url")
			req.TransportMode, _ = cmd.Flags().GetString("transport")
			if cmd.Flags().Changed("iterations") {
				v, _ := cmd.Flags().GetInt("iterations")
				req.Iterations = &v
			}
			if cmd.Flags().Changed("min-interval") {
				v, _ := cmd.Flags().GetInt("min-interval")
				req.MinInterval = &v
			}
			if cmd.Flags().Changed("max-interval") {
				v, _ := cmd.Flags().GetInt("max-interval")
				req.MaxInterval = &v
			}
			if cmd.Flags().Changed("rotate-ip") {
				v, _ := cmd.Flags().GetBool("rotate-ip")
				req.RotateIP = &v
			}
			if cmd.Flags().Changed("random-profile") {
				v, _ := cmd.Flags().GetBool("random-profile")
				req.RandomProfile = &v
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := c.Start(ctx, req)
			if err != nil {
				return err
			}
			return printCommandResult(cmd, "start", res)
		},
	}
	cmd.Flags().String("url", "", "Target URL")
	cmd.Flags().Int("iterations", 0, "Number of successful requests to make")
	cmd.Flags().Int("min-interval", 0, "Minimum seconds between requests")
	cmd.Flags().Int("max-interval", 0, "Maximum seconds between requests")
	cmd.Flags().Bool("rotate-ip", false, "Rotate identity between iterations")
	cmd.Flags().Bool("random-profile", false, "Re-roll the device profile every iteration")
	cmd.Flags().String("transport", "", "Transport: http or browser")
	return cmd
}

func newCommandCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := c.Command(ctx, name)
			if err != nil {
				return err
			}
			return printCommandResult(cmd, name, res)
		},
	}
}

func printCommandResult(cmd *cobra.Command, name string, res client.CommandResult) error {
	if jsonOutput(cmd) {
		return printJSON(res)
	}
	if !res.OK {
		_, _ = color.New(color.FgYellow).Printf("%s refused: %s\n", name, res.Message)
		return nil
	}
	_, _ = color.New(color.FgGreen).Printf("%s ok\n", name)
	if res.Session != nil {
		s := res.Session
		fmt.Printf("  session %s  %s  %d/%d\n", s.ID, stateColor(s.State).Sprint(s.State), s.CurrentIteration, s.TotalIterations)
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			watch, _ := cmd.Flags().GetBool("watch")
			every, _ := cmd.Flags().GetDuration("interval")
			if every <= 0 {
				every = 2 * time.Second
			}
			for {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				st, err := c.Status(ctx)
				cancel()
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					if err := printJSON(st); err != nil {
						return err
					}
				} else {
					printStatus(st)
				}
				if !watch || (!st.IsRunning && st.State != domain.StateIdle) {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(every):
				}
			}
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "Poll until the session ends")
	cmd.Flags().Duration("interval", 2*time.Second, "Poll interval with --watch")
	return cmd
}

func printStatus(st domain.Status) {
	bold := color.New(color.Bold)
	_, _ = bold.Print("state ")
	_, _ = stateColor(st.State).Print(st.State)
	fmt.Printf("  %d/%d (%.1f%%)\n", st.CurrentIteration, st.TotalIterations, st.Percentage)
	if st.TargetURL != "" {
		fmt.Printf("  target      %s\n", st.TargetURL)
	}
	fmt.Printf("  interval    %d-%ds\n", st.MinInterval, st.MaxInterval)
	fmt.Printf("  requests    %s ok / %s failed\n",
		color.GreenString(strconv.Itoa(st.SuccessCount)), color.RedString(strconv.Itoa(st.FailureCount)))
	fmt.Printf("  rotations   %d", st.RotationCount)
	if st.CurrentIdentity != "" {
		fmt.Printf(" (now %s)", st.CurrentIdentity)
	}
	fmt.Println()
	fmt.Printf("  elapsed     %s", time.Duration(st.ElapsedSeconds)*time.Second)
	if st.EstimatedRemainingSeconds > 0 {
		fmt.Printf("  remaining ~%s", time.Duration(st.EstimatedRemainingSeconds)*time.Second)
	}
	fmt.Println()
}

func stateColor(s domain.State) *color.Color {
	switch s {
	case domain.StateRunning:
		return color.New(color.FgGreen)
	case domain.StatePaused:
		return color.New(color.FgYellow)
	case domain.StateFailed:
		return color.New(color.FgRed)
	case domain.StateCompleted:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			items, total, err := c.ListSessions(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(map[string]any{"items": items, "total": total})
			}
			for _, s := range items {
				fmt.Printf("%s  %-9s  %d/%d  ok=%d fail=%d rot=%d  %s\n",
					s.StartTime.Format(time.DateTime), stateColor(s.State).Sprint(s.State),
					s.CurrentIteration, s.TotalIterations, s.SuccessCount, s.FailureCount, s.RotationCount, s.TargetEndpoint)
			}
			fmt.Printf("%d of %d sessions\n", len(items), total)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum sessions to list")
	return cmd
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings [key=value ...]",
		Short: "Show or change server settings",
		Long: `Without arguments prints the stored settings. Each key=value argument
updates one field, using the JSON field names (for example
handleRedirects=false or minInterval=3).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			var s domain.Settings
			if len(args) == 0 {
				s, err = c.Settings(ctx)
			} else {
				patch, perr := parseAssignments(args)
				if perr != nil {
					return perr
				}
				s, err = c.UpdateSettings(ctx, patch)
			}
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
	return cmd
}

// parseAssignments turns key=value pairs into a JSON patch, typing values as
// bool, int or string.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
		} else {
			out[k] = v
		}
	}
	return out, nil
}

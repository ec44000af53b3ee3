package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/webjourney/internal/state"
	"github.com/user/webjourney/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage recorded sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recorded sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewStore(cfg.DataDir)

		list, err := sessions.GetSessionsMetadata(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tACTIONS\tCREATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ID,
				s.Title,
				s.Status,
				s.ActionCount,
				s.CreatedDate,
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the actions of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewStore(cfg.DataDir)

		actions, err := sessions.GetSessionActions(context.Background(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if len(actions) == 0 {
			fmt.Println("No actions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTYPE\tTIME\tTARGET\tMEDIA")
		for _, a := range actions {
			target := a.DataString("selector")
			if target == "" {
				target = a.DataString("url")
			}
			media := "-"
			if a.ScreenshotID != "" {
				media = "yes"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				a.OrderIndex,
				a.Type,
				time.UnixMilli(a.Timestamp).Format("2006-01-02 15:04:05"),
				target,
				media,
			)
		}
		return w.Flush()
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewStore(cfg.DataDir)

		if err := sessions.DeleteSession(context.Background(), types.SessionID(args[0])); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewStore(cfg.DataDir)

		if err := sessions.ClearAll(context.Background()); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		fmt.Println("All sessions cleared.")
		return nil
	},
}

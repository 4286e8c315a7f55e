package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage consultation sessions in the local store",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	cmd.AddCommand(sessionsExportCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Run: func(cmd *cobra.Command, args []string) {
			eng := requireEmbeddedEngine()
			defer eng.Close()

			sessions, err := eng.ListSessions(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return
			}

			fmt.Printf("%-36s  %-8s  %-8s  %-16s  %s\n", "ID", "STATUS", "SCENARIO", "UPDATED", "TITLE")
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%-36s  %-8s  %-8s  %-16s  %s\n",
					s.ID, s.Status, s.Scenario,
					time.Unix(s.UpdatedAt, 0).Format("2006-01-02 15:04"),
					runewidth.Truncate(title, 40, "…"))
			}
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng := requireEmbeddedEngine()
			defer eng.Close()

			if err := eng.DeleteSession(context.Background(), args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("deleted %s\n", args[0])
		},
	}
}

func sessionsExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export the session's latest report as markdown",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logger := setupLogging()
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", cfgPath, err)
				os.Exit(1)
			}
			eng, err := openEmbeddedEngine(logger, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer eng.Close()

			sessionID := args[0]
			path := out
			if path == "" {
				dir := cfg.Engine.ExportDir
				if dir == "" {
					dir = "."
				} else if err := os.MkdirAll(dir, 0o755); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				name := fmt.Sprintf("report-%s-%s.md", sessionID, time.Now().Format("20060102-150405"))
				path = filepath.Join(dir, name)
			}

			if err := eng.ExportReportMarkdown(context.Background(), sessionID, path); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("exported %s\n", path)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: export_dir/report-<session>-<timestamp>.md)")
	return cmd
}

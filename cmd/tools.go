package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/golaw/engine"
	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools and manage their permissions",
	}
	cmd.AddCommand(toolsListCmd())
	cmd.AddCommand(toolsPermissionCmd())
	return cmd
}

// openEmbeddedEngine builds an engine over the local store for commands
// that need the registry or the database but no model connector.
func openEmbeddedEngine(logger *slog.Logger, cfg *config.Config) (*engine.Engine, error) {
	return engine.New(engine.Config{
		DBPath:        cfg.Engine.DBPath,
		KBPath:        cfg.Engine.KBPath,
		MaxIterations: cfg.Engine.MaxIterations,
	}, engine.WithLogger(logger))
}

func requireEmbeddedEngine() *engine.Engine {
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
	return eng
}

func toolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools with their effective permissions",
		Run: func(cmd *cobra.Command, args []string) {
			eng := requireEmbeddedEngine()
			defer eng.Close()
			ctx := context.Background()

			all := eng.Tools().List()
			nameW := len("NAME")
			for _, t := range all {
				if w := runewidth.StringWidth(t.Name()); w > nameW {
					nameW = w
				}
			}

			fmt.Printf("%s  %s  %s\n",
				runewidth.FillRight("NAME", nameW),
				runewidth.FillRight("PERMISSION", 10),
				"DESCRIPTION")
			for _, t := range all {
				perm, err := eng.GetToolPermission(ctx, t.Name())
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("%s  %s  %s\n",
					runewidth.FillRight(t.Name(), nameW),
					runewidth.FillRight(perm, 10),
					runewidth.Truncate(t.Description(), 72, "…"))
			}
		},
	}
}

func toolsPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Read or change a tool's persisted permission",
	}

	get := &cobra.Command{
		Use:   "get [tool]",
		Short: "Show one tool's permission, or every override when no tool is given",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng := requireEmbeddedEngine()
			defer eng.Close()
			ctx := context.Background()

			if len(args) == 1 {
				perm, err := eng.GetToolPermission(ctx, args[0])
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				fmt.Println(perm)
				return
			}

			perms, err := eng.ListToolPermissions(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(perms) == 0 {
				fmt.Println("No overrides persisted; every tool uses its default.")
				return
			}
			for _, p := range perms {
				fmt.Printf("%s  %s\n", runewidth.FillRight(p.ToolName, 24), p.Permission)
			}
		},
	}

	set := &cobra.Command{
		Use:   "set <tool> <allow|ask|deny>",
		Short: "Persist a tool permission",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			name, perm := args[0], args[1]
			switch perm {
			case protocol.PermissionAllow, protocol.PermissionAsk, protocol.PermissionDeny:
			default:
				fmt.Fprintf(os.Stderr, "Error: permission must be allow, ask or deny\n")
				os.Exit(1)
			}

			eng := requireEmbeddedEngine()
			defer eng.Close()

			if err := eng.SetToolPermission(context.Background(), name, perm); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s -> %s\n", name, perm)
		},
	}

	cmd.AddCommand(get)
	cmd.AddCommand(set)
	return cmd
}

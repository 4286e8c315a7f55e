package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/golaw/internal/bootstrap"
	"github.com/nextlevelbuilder/golaw/internal/retrieval"
)

func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Search, read and seed the knowledge base",
	}
	cmd.AddCommand(kbSearchCmd())
	cmd.AddCommand(kbReadCmd())
	cmd.AddCommand(kbInfoCmd())
	cmd.AddCommand(kbSeedCmd())
	return cmd
}

// kbRetriever opens the configured knowledge base directly; kb commands
// never need the database or the model connector.
func kbRetriever() *retrieval.Retriever {
	setupLogging()
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	return retrieval.New(cfg.Engine.KBPath)
}

func kbSearchCmd() *cobra.Command {
	var (
		scenario string
		topK     int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search knowledge base documents",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			r := kbRetriever()
			results, err := r.Search(context.Background(), strings.Join(args, " "), scenario, topK)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(results) == 0 {
				fmt.Println("No results.")
				return
			}

			for i, res := range results {
				title := runewidth.FillRight(runewidth.Truncate(res.Title, 28, "…"), 28)
				fmt.Printf("%2d. %s %s:%d-%d (score %.2f)\n",
					i+1, title, res.FilePath, res.LineStart, res.LineEnd, res.Score)
				snippet := strings.Join(strings.Fields(res.Snippet), " ")
				fmt.Printf("    %s\n", runewidth.Truncate(snippet, 96, "…"))
			}
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "restrict the search to one scenario directory")
	cmd.Flags().IntVar(&topK, "top", 5, "number of results")
	return cmd
}

func kbReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <path>",
		Short: "Print one knowledge base document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			r := kbRetriever()
			// Accept both the full path kb search prints and a
			// root-relative one.
			content, err := r.ReadFile(args[0])
			if err != nil {
				if c, err2 := r.ReadFile(filepath.Join(r.Root(), args[0])); err2 == nil {
					content, err = c, nil
				}
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(content)
			if !strings.HasSuffix(content, "\n") {
				fmt.Println()
			}
		},
	}
}

func kbInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show knowledge base location and size",
		Run: func(cmd *cobra.Command, args []string) {
			r := kbRetriever()
			info, err := r.Info()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Path:     %s\n", info.KBPath)
			fmt.Printf("Files:    %d\n", info.FileCount)
			if info.UpdatedAt > 0 {
				fmt.Printf("Updated:  %s\n", time.Unix(info.UpdatedAt, 0).Format("2006-01-02 15:04:05"))
			}
		},
	}
}

func kbSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the starter labor-law documents when missing",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", cfgPath, err)
				os.Exit(1)
			}

			created, err := bootstrap.SeedKnowledgeBase(cfg.Engine.KBPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(created) == 0 {
				fmt.Println("Knowledge base already seeded, nothing to do.")
				return
			}
			for _, path := range created {
				fmt.Printf("created %s\n", path)
			}
		},
	}
}

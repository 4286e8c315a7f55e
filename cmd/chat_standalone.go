package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/nextlevelbuilder/golaw/engine"
	"github.com/nextlevelbuilder/golaw/internal/bootstrap"
	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const chatEventBuffer = 256

func runChatStandalone(cfg *config.Config, sessionID, scenario, message string) {
	logger := chatLogger()

	if cfg.Model.APIKey == "" {
		fmt.Fprintf(os.Stderr, "Error: no model API key configured.\n")
		fmt.Fprintf(os.Stderr, "Run 'golaw onboard' or export GOLAW_OPENROUTER_API_KEY.\n")
		os.Exit(1)
	}

	if created, err := bootstrap.SeedKnowledgeBase(cfg.Engine.KBPath); err != nil {
		logger.Warn("knowledge base seeding failed", "error", err)
	} else if len(created) > 0 {
		fmt.Fprintf(os.Stderr, "Seeded knowledge base with %d starter documents\n", len(created))
	}

	eng, err := engine.New(engine.Config{
		DBPath:        cfg.Engine.DBPath,
		KBPath:        cfg.Engine.KBPath,
		MaxIterations: cfg.Engine.MaxIterations,
	}, engine.WithLogger(logger), engine.WithModelRateLimit(cfg.Model.RequestsPerMinute))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if err := eng.UpdateModelConfig(cfg.Model.ToProtocol()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// The drain loop empties the channel between turns; a full buffer drops
	// rather than stalling the worker goroutine, same as the gateway fan-out.
	events := make(chan protocol.Event, chatEventBuffer)
	subID := eng.SubscribeEvents(func(evt protocol.Event) {
		select {
		case events <- evt:
		default:
		}
	})
	defer eng.UnsubscribeEvents(subID)

	if sessionID == "" {
		sess, err := eng.CreateSession(ctx, scenario, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session: %v\n", err)
			os.Exit(1)
		}
		sessionID = sess.ID
	} else if _, err := eng.GetSession(ctx, sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	drainBacklog(events)

	if message != "" {
		if err := runStandaloneTurn(ctx, eng, events, sessionID, message); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	modelName, _, _ := eng.ModelInfo()
	fmt.Fprintf(os.Stderr, "\ngolaw chat — embedded engine\n")
	fmt.Fprintf(os.Stderr, "Session: %s | Scenario: %s | Model: %s\n", sessionID, scenario, modelName)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a new session, \"/report\" to rebuild the report\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch input {
		case "exit", "quit":
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		case "/new":
			sess, err := eng.CreateSession(ctx, scenario, "")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
				continue
			}
			sessionID = sess.ID
			drainBacklog(events)
			fmt.Fprintf(os.Stderr, "New session: %s\n\n", sessionID)
			continue
		case "/report":
			taskID, err := eng.RegenerateReport(ctx, sessionID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
				continue
			}
			if err := drainStandaloneTask(ctx, eng, events, taskID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			}
			continue
		}

		if err := runStandaloneTurn(ctx, eng, events, sessionID, input); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\nGoodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		}
	}
}

// runStandaloneTurn sends one user message and renders events until the
// spawned task finishes. Ctrl+C cancels the task, not the process.
func runStandaloneTurn(ctx context.Context, eng *engine.Engine, events chan protocol.Event, sessionID, content string) error {
	taskID, err := eng.SendMessage(ctx, sessionID, content)
	if err != nil {
		return err
	}
	return drainStandaloneTask(ctx, eng, events, taskID)
}

func drainStandaloneTask(ctx context.Context, eng *engine.Engine, events chan protocol.Event, taskID string) error {
	interrupt := ctx.Done()
	for {
		select {
		case <-interrupt:
			interrupt = nil // fire once
			fmt.Fprintln(os.Stderr, "\nCancelling...")
			if err := eng.CancelAgentTask(taskID); err != nil {
				return nil // task already finished
			}
		case evt := <-events:
			done, approval, err := renderTaskEvent(taskID, evt)
			if err != nil {
				return err
			}
			if approval != nil {
				decision, perr := promptToolApproval(*approval)
				if perr != nil {
					decision = protocol.ToolDecision{Action: protocol.ToolDeny}
				}
				// Fresh context: an interrupt must not strand the worker
				// mid-approval.
				if rerr := eng.RespondToolCall(context.Background(), approval.RequestID, decision); rerr != nil {
					return rerr
				}
				continue
			}
			if done {
				return nil
			}
		}
	}
}

// drainBacklog discards queued events, typically the subscription handshake
// and session bookkeeping noise.
func drainBacklog(events chan protocol.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		remote    string
		sessionID string
		scenario  string
		message   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Consult the advisor in the terminal",
		Long: `Chat with the labor-dispute advisor.

Without --remote the engine runs embedded in this process against the local
SQLite store. With --remote the command speaks the gateway protocol over
WebSocket, so several terminals can share one running gateway.

Examples:
  golaw chat                                  # interactive, embedded engine
  golaw chat -m "公司拖欠了我两个月工资"      # one-shot message
  golaw chat -s 3f2a91…                       # continue a session
  golaw chat --remote ws://127.0.0.1:18990    # talk to a running gateway`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(remote, sessionID, scenario, message)
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "gateway WebSocket URL (empty: run the engine in-process)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue (default: create a new session)")
	cmd.Flags().StringVar(&scenario, "scenario", "labor", "scenario for new sessions")
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")

	return cmd
}

func runChat(remote, sessionID, scenario, message string) {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	if remote != "" {
		runChatRemote(cfg, remote, sessionID, scenario, message)
		return
	}
	runChatStandalone(cfg, sessionID, scenario, message)
}

// chatLogger keeps engine noise off the REPL: warnings only unless -v.
func chatLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// Approval choices. Same vocabulary as the channel keyboards.
const (
	approveOnce    = "once"
	approveAlways  = "always"
	approveSession = "session"
	approveDeny    = "deny"
)

// promptToolApproval asks the user to rule on one tool invocation and maps
// the choice onto the wire decision.
func promptToolApproval(p protocol.ToolCallRequestPayload) (protocol.ToolDecision, error) {
	title := fmt.Sprintf("工具请求：%s", p.ToolName)
	if args := formatToolArgs(p.Arguments); args != "" {
		title += "  " + args
	}

	var choice string
	err := huh.NewSelect[string]().
		Title(title).
		Options(
			huh.NewOption("允许一次", approveOnce),
			huh.NewOption("总是允许", approveAlways),
			huh.NewOption("本会话全部允许", approveSession),
			huh.NewOption("拒绝", approveDeny),
		).
		Value(&choice).
		Run()
	if err != nil {
		return protocol.ToolDecision{}, err
	}

	switch choice {
	case approveAlways:
		return protocol.ToolDecision{Action: protocol.ToolAllow, Always: true}, nil
	case approveSession:
		return protocol.ToolDecision{Action: protocol.ToolAllowAllSession}, nil
	case approveDeny:
		return protocol.ToolDecision{Action: protocol.ToolDeny}, nil
	default:
		return protocol.ToolDecision{Action: protocol.ToolAllow}, nil
	}
}

// formatToolArgs renders tool arguments as one trimmed line, truncated by
// display width so CJK arguments do not blow up the prompt.
func formatToolArgs(raw json.RawMessage) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if s == "" || s == "{}" || s == "null" {
		return ""
	}
	return runewidth.Truncate(s, 64, "…")
}

// renderCompleted prints the final output of one agent run. Report is set
// when the run produced a reviewed report, Message when it ended on an
// interview turn.
func renderCompleted(p protocol.CompletedPayload) {
	switch {
	case p.Report != "":
		fmt.Printf("\n%s\n\n", p.Report)
	case p.Message != "":
		fmt.Printf("\n%s\n\n", p.Message)
	}
}

func renderReviewNotice(kind string, p protocol.ReviewPayload) {
	label := "review"
	if kind == protocol.EventReviewIntercepted {
		label = "review!"
	}
	fmt.Fprintf(os.Stderr, "  [%s] %d issue(s), %d critical\n", label, p.IssueCount, p.CriticalCount)
}

// renderTaskEvent handles every event of a running task except approval
// requests, which each transport answers its own way: the returned payload
// is non-nil when the caller must prompt and respond. done reports a
// terminal event.
func renderTaskEvent(taskID string, evt protocol.Event) (done bool, approval *protocol.ToolCallRequestPayload, err error) {
	switch evt.Kind {
	case protocol.EventAgentPhase:
		var p protocol.AgentPhasePayload
		if json.Unmarshal([]byte(evt.Payload), &p) == nil && p.TaskID == taskID {
			fmt.Fprintf(os.Stderr, "  [%s]\n", p.Phase)
		}

	case protocol.EventToolCallResult:
		var p protocol.ToolCallResultPayload
		if json.Unmarshal([]byte(evt.Payload), &p) == nil && p.TaskID == taskID {
			fmt.Fprintf(os.Stderr, "  [tool] %s\n", p.ToolName)
		}

	case protocol.EventToolCallRequest:
		var p protocol.ToolCallRequestPayload
		if json.Unmarshal([]byte(evt.Payload), &p) == nil && p.TaskID == taskID {
			return false, &p, nil
		}

	case protocol.EventReviewIntercepted, protocol.EventReviewAdjusted:
		var p protocol.ReviewPayload
		if json.Unmarshal([]byte(evt.Payload), &p) == nil && p.TaskID == taskID {
			renderReviewNotice(evt.Kind, p)
		}

	case protocol.EventCompleted:
		var p protocol.CompletedPayload
		if json.Unmarshal([]byte(evt.Payload), &p) == nil && p.TaskID == taskID {
			renderCompleted(p)
			return true, nil, nil
		}

	case protocol.EventCancelled:
		if evt.Payload == taskID {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return true, nil, nil
		}

	case protocol.EventError:
		var p protocol.ErrorPayload
		if json.Unmarshal([]byte(evt.Payload), &p) == nil && p.TaskID == taskID {
			return true, nil, fmt.Errorf("%s", p.Message)
		}
	}
	return false, nil, nil
}

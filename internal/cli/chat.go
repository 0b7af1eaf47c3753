package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mazzlabs/sentinel"
	"github.com/mazzlabs/sentinel/internal/config"
	"github.com/mazzlabs/sentinel/internal/presentation/tui"
	"github.com/mazzlabs/sentinel/pkg/capability"
	"github.com/mazzlabs/sentinel/pkg/domain"
)

// ChatOptions contains all the configuration for the chat command.
type ChatOptions struct {
	ConfigPath string
	SessionID  string
	ScreenFile string
	Debug      bool
}

// RunChat starts an interactive conversation in the terminal. Each
// entered line runs one full turn against the engine; replies render
// as markdown and decided device actions print as system messages.
func RunChat(opts ChatOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger := NewLogger(cfg, opts.Debug)

	tui.PrintBanner(strings.TrimSpace(sentinel.Version))

	engineOpts := []sentinel.Option{
		sentinel.WithCapabilities(localCapabilities(logger)),
	}
	if opts.Debug {
		engineOpts = append(engineOpts, sentinel.WithLifecycleHooks(createDebugHooks(logger)))
	}

	engine, handle, err := BuildEngine(cfg, logger, engineOpts...)
	if err != nil {
		return err
	}
	defer handle.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	conversationID := greet(sigCtx, engine, opts.SessionID)

	runErr := chatLoop(sigCtx, engine, conversationID, opts.ScreenFile, logger)
	if runErr != nil && isInterrupted(runErr) {
		if sigCtx.Signal() == os.Interrupt {
			fmt.Println("[CTRL+C]")
		} else {
			fmt.Println()
		}
		printSystemMessage("Interrupted.")
	}
	return handleExecutionError(runErr)
}

// greet resolves the conversation id and announces it. A named session
// with archived history resumes; anything else starts fresh.
func greet(ctx context.Context, engine *sentinel.Engine, sessionID string) string {
	if sessionID == "" {
		id := uuid.NewString()
		printSystemMessage("Conversation '%s' started. Type 'exit' to leave.", id)
		return id
	}
	if stored, err := engine.Session(ctx, sessionID); err == nil && len(stored.History) > 0 {
		printSystemMessage("Resuming conversation '%s' (%d archived messages).", sessionID, len(stored.History))
	} else {
		printSystemMessage("Conversation '%s' started. Type 'exit' to leave.", sessionID)
	}
	return sessionID
}

func chatLoop(ctx *SignalContext, engine *sentinel.Engine, conversationID, screenFile string, logger *slog.Logger) error {
	render := tui.NewRenderer()
	reader := bufio.NewReader(NewInterruptibleReader(os.Stdin, ctx.Done()))

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}

		query := strings.TrimSpace(line)
		switch query {
		case "":
			continue
		case "exit", "quit":
			printSystemMessage("Bye.")
			return nil
		}

		state, err := engine.RunTurn(ctx, conversationID, query, readScreenContext(screenFile, logger))
		if err != nil {
			if isInterrupted(err) {
				return err
			}
			printSystemMessage("Turn rejected: %v", err)
			continue
		}

		printTurn(state, render)
	}
}

// readScreenContext loads the environment snapshot for the next turn.
// The file is reread every turn so an updated snapshot is picked up; a
// missing or unreadable file means no screen context.
func readScreenContext(path string, logger *slog.Logger) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read screen context file", "path", path, "err", err)
		return ""
	}
	return string(data)
}

func printTurn(state domain.State, render func(string) (string, error)) {
	if state.Response != "" {
		out, err := render(state.Response)
		if err != nil {
			out = state.Response + "\n"
		}
		fmt.Print(out)
	}

	if a := state.FinalAction; a != nil && a.Kind != domain.ActionNone {
		printSystemMessage("Device action: %s", describeAction(a))
	}
	if state.NeedsUserInput {
		printSystemMessage("Waiting for your input to continue.")
	}
	if state.HaltReason != domain.HaltNone {
		printSystemMessage("Turn halted (%s): %s", state.HaltReason, state.Error)
	} else if state.HasError() {
		printSystemMessage("Turn failed: %s", state.Error)
	}
}

// describeAction renders a device action for the terminal, standing in
// for the gesture layer a device host would wire.
func describeAction(a *domain.Action) string {
	switch a.Kind {
	case domain.ActionClick:
		return fmt.Sprintf("%s %q", a.Kind, a.Target)
	case domain.ActionType:
		if a.Target != "" {
			return fmt.Sprintf("%s %q into %q", a.Kind, a.Text, a.Target)
		}
		return fmt.Sprintf("%s %q", a.Kind, a.Text)
	case domain.ActionScroll:
		return fmt.Sprintf("%s %s", a.Kind, a.Direction)
	default:
		return string(a.Kind)
	}
}

// localCapabilities is the capability host for terminal sessions. A
// device build registers the platform surface instead; a clock is
// enough here for capability turns to resolve.
func localCapabilities(logger *slog.Logger) *capability.Registry {
	reg := capability.NewRegistry(capability.WithLogger(logger))
	reg.Register("clock", "now", func(ctx context.Context, params map[string]any) domain.CapabilityResult {
		now := time.Now()
		return domain.CapabilitySuccess{
			Message: now.Format(time.RFC1123),
			Data: map[string]any{
				"iso":     now.Format(time.RFC3339),
				"weekday": now.Weekday().String(),
			},
		}
	})
	return reg
}

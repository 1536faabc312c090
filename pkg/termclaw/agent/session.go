// Package agent – session.go drives the interactive/one-shot conversation
// cycle: classify, assemble, call the model behind a spinner, interpret,
// then either present an answer, run the confirm/edit/execute flow, or do a
// tool round-trip and re-enter assembly without prompting the user.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"golang.org/x/term"
)

// confirmAction is the user's choice on a proposed command.
type confirmAction int

const (
	actionRun confirmAction = iota
	actionCancel
)

// Session binds the registry, history store, model client, and tool host
// into the conversation state machine. Single logical thread of control;
// the only background task is the spinner, which is joined before the reply
// is processed.
type Session struct {
	cfg      *Config
	client   ModelClient
	registry *ToolRegistry
	host     ToolHost
	store    HistoryStore
	logger   *slog.Logger

	interactive bool
	turns       []Turn
	next        directive

	// Replaceable seams for tests and non-TTY environments.
	out        io.Writer
	confirm    func(reply Reply) (confirmAction, string, error)
	examine    func(failOutput string) (bool, error)
	runCommand func(ctx context.Context, command string) (string, error)
	progress   func(ctx context.Context, fn func())
}

// NewSession creates a session. interactive selects the REPL loop; one-shot
// sessions persist history at exit, interactive ones do not.
func NewSession(cfg *Config, client ModelClient, registry *ToolRegistry, host ToolHost, store HistoryStore, logger *slog.Logger, interactive bool) *Session {
	s := &Session{
		cfg:         cfg,
		client:      client,
		registry:    registry,
		host:        host,
		store:       store,
		logger:      logger.With("component", "session"),
		interactive: interactive,
		out:         os.Stdout,
	}
	s.confirm = s.confirmPrompt
	s.examine = s.examinePrompt
	s.runCommand = s.runShellCommand
	s.progress = s.spinnerProgress
	return s
}

// Run executes the session: the REPL when interactive, otherwise one cycle
// for the given query followed by a history write. Only fully-formed turns
// are ever persisted: cycles loop internally until tool round-trips and
// error examinations settle.
func (s *Session) Run(ctx context.Context, query string) error {
	if s.interactive {
		return s.runInteractive(ctx)
	}

	turns, err := s.store.Load()
	if err != nil {
		return err
	}
	s.turns = turns

	if err := s.cycle(ctx, query); err != nil {
		return err
	}
	return s.store.Save(s.turns)
}

// runInteractive blocks on a readline prompt until the user types "exit".
// Interactive conversations stay in memory; nothing is persisted.
func (s *Session) runInteractive(ctx context.Context) error {
	rl, err := readline.New("termclaw> ")
	if err != nil {
		return fmt.Errorf("initializing prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on ^D, readline.ErrInterrupt on ^C
			fmt.Fprintln(s.out, "Bye!")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			fmt.Fprintln(s.out, "Bye!")
			return nil
		}
		if err := s.cycle(ctx, line); err != nil {
			return err
		}
	}
}

// cycle runs one user turn to completion, including any tool round-trips
// and error examinations that re-enter dispatch without new human input.
func (s *Session) cycle(ctx context.Context, input string) error {
	pending := input
	// committed marks the last fully settled turn. Turns appended by an
	// unterminated tool round-trip are rolled back on failure so they can
	// never reach the store.
	committed := len(s.turns)
	for {
		d := s.next
		s.next = directive{}

		mode := d.modeFor(pending)
		userText := ""
		if !d.skipUserInput {
			userText = pending
		}

		req := Assemble(s.cfg, mode, s.turns, userText, s.registry.Definitions(),
			assembleOptions{skipEnvContext: d.skipEnvContext})

		var (
			resp *Response
			err  error
		)
		s.progress(ctx, func() {
			resp, err = s.client.Complete(ctx, req)
		})
		if err != nil {
			s.turns = s.turns[:committed]
			if errors.Is(err, ErrEmptyResponse) {
				fmt.Fprintln(s.out, "The model returned an empty response. Giving up.")
				return err
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				// Error-shaped payloads degrade to an informational reply.
				fmt.Fprintln(s.out, apiErr.Error())
				return nil
			}
			fmt.Fprintf(s.out, "Request failed: %v\n", err)
			return nil
		}

		if userText != "" {
			s.turns = append(s.turns, UserTurn(userText))
		}

		outcome := Interpret(resp)
		switch outcome.Kind {
		case OutcomeToolCalls:
			s.handleToolCalls(ctx, outcome.ToolCalls)
			// Re-enter dispatch: no new human turn, no restated environment.
			s.next = directive{
				mode:           mode,
				sticky:         d.sticky,
				skipUserInput:  true,
				skipEnvContext: true,
			}
			pending = ""
			continue

		case OutcomeRejected:
			s.turns = append(s.turns, AssistantTurn(outcome.Reply.Info, nil))
			fmt.Fprintln(s.out, outcome.Reply.Info)
			return nil

		default:
			s.turns = append(s.turns, AssistantTurn(resp.Content, nil))
			committed = len(s.turns)
			again, newPending, err := s.handleFinal(ctx, outcome.Reply)
			if err != nil {
				return err
			}
			if !again {
				return nil
			}
			pending = newPending
		}
	}
}

// handleToolCalls executes a batch in request order and appends one Tool
// turn per call. An unresolved tool name yields empty output; we log the
// warning rather than fail the round-trip.
func (s *Session) handleToolCalls(ctx context.Context, calls []ToolCall) {
	s.turns = append(s.turns, AssistantTurn("", calls))

	for _, call := range calls {
		callID := call.ID
		if callID == "" {
			callID = uuid.NewString()
		}

		output := ""
		desc, ok := s.registry.Resolve(call.Function.Name)
		if !ok {
			s.logger.Warn("model requested unknown tool", "name", call.Function.Name)
		} else {
			out, err := s.host.Execute(ctx, desc.Source, call.Function.Arguments)
			if err != nil {
				s.logger.Warn("tool execution failed", "name", call.Function.Name, "error", err)
				out = fmt.Sprintf("tool error: %v\n%s", err, out)
			}
			output = sanitizeText(truncate(out, s.cfg.Tools.MaxOutputBytes))
		}

		s.turns = append(s.turns, ToolTurn(callID, output))
	}
}

// handleFinal presents the decoded reply. For command proposals it runs the
// confirm/edit/cancel flow; a failed command with captured output offers the
// examine prompt, which synthesizes an Error-mode turn for the next cycle.
// Returns again=true with the synthesized input when the cycle must re-run.
func (s *Session) handleFinal(ctx context.Context, reply Reply) (bool, string, error) {
	if !reply.HasCommand() {
		fmt.Fprintln(s.out, reply.Info)
		return false, "", nil
	}

	action, command, err := s.confirm(reply)
	if err != nil {
		return false, "", fmt.Errorf("confirmation prompt: %w", err)
	}
	if action == actionCancel {
		fmt.Fprintln(s.out, "Cancelled.")
		return false, "", nil
	}

	failOutput, runErr := s.runCommand(ctx, command)
	if runErr == nil {
		fmt.Fprintln(s.out, "[ok]")
		return false, "", nil
	}

	fmt.Fprintf(s.out, "[failed] %v\n", runErr)
	if strings.TrimSpace(failOutput) == "" {
		return false, "", nil
	}

	wantExamine, err := s.examine(failOutput)
	if err != nil || !wantExamine {
		return false, "", err
	}

	// Sticky Error mode: persists until a full cycle ends without another
	// examination request.
	s.next = directive{mode: QueryError, sticky: true}
	synthesized := fmt.Sprintf("The command `%s` failed with: %s", command, failOutput)
	return true, synthesized, nil
}

// ---------- Default seams ----------

// confirmPrompt shows the proposed command and asks run / edit / cancel.
// The edit path pre-fills an input with the command.
func (s *Session) confirmPrompt(reply Reply) (confirmAction, string, error) {
	fmt.Fprintf(s.out, "\n  $ %s\n  %s\n\n", reply.Cmd, reply.Info)

	choice := "run"
	sel := huh.NewSelect[string]().
		Title("Run this command?").
		Options(
			huh.NewOption("Run it", "run"),
			huh.NewOption("Edit first", "edit"),
			huh.NewOption("Cancel", "cancel"),
		).
		Value(&choice)
	if err := huh.NewForm(huh.NewGroup(sel)).Run(); err != nil {
		return actionCancel, "", err
	}

	switch choice {
	case "cancel":
		return actionCancel, "", nil
	case "edit":
		edited := reply.Cmd
		input := huh.NewInput().Title("Edit command").Value(&edited)
		if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
			return actionCancel, "", err
		}
		if strings.TrimSpace(edited) == "" {
			return actionCancel, "", nil
		}
		return actionRun, edited, nil
	default:
		return actionRun, reply.Cmd, nil
	}
}

// examinePrompt asks whether to send the failure output back to the model.
func (s *Session) examinePrompt(string) (bool, error) {
	yes := false
	confirm := huh.NewConfirm().Title("Examine the error with the model?").Value(&yes)
	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		return false, err
	}
	return yes, nil
}

// runShellCommand executes the command through the configured shell. Output
// streams to the terminal and is captured as the combined failure output
// offered to the examine flow.
func (s *Session) runShellCommand(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, s.cfg.Shell, "-c", command)
	var captured bytes.Buffer
	cmd.Stdout = io.MultiWriter(s.out, &captured)
	cmd.Stderr = io.MultiWriter(os.Stderr, &captured)
	cmd.Stdin = os.Stdin

	err := cmd.Run()
	s.logger.Debug("command executed", "command", command, "error", err)
	return captured.String(), err
}

// spinnerProgress animates while fn runs. The spinner owns one goroutine
// and Run returns only after it has stopped, so no orphaned animation
// survives into reply processing. Without a terminal, fn runs bare.
func (s *Session) spinnerProgress(ctx context.Context, fn func()) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fn()
		return
	}
	_ = spinner.New().Title("thinking...").Context(ctx).Action(fn).Run()
}

// Package agent – prompt.go assembles the outbound conversation: persona
// preamble, mode instructions, hand-authored exemplars, rolling history,
// dynamic environment context, and a trailing reminder against drift.
package agent

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode"
)

// preamble is the global persona and environment framing shared by all
// modes. The mode instruction is appended to form the system message.
const preamble = `You are termclaw, a terminal assistant that helps the user operate a %s system from the %s shell.
You always answer with a single JSON object and nothing else.`

// modeInstruction returns the instruction text for a query type.
func modeInstruction(mode QueryType, shell string) string {
	switch mode {
	case QueryQuestion:
		return `Answer the user's question about the system or the shell concisely.
Respond with {"info": "<answer>"}. Do not propose a command.`
	case QueryError:
		return fmt.Sprintf(`The user ran a command that failed. Analyze the error output they provide,
explain the most likely cause in plain language, and when a corrected %s command
would fix it, include it. Respond with {"info": "<explanation>", "cmd": "<corrected command or omit>"}.`, shell)
	default:
		return fmt.Sprintf(`Translate the user's request into a single %s command.
Respond with {"cmd": "<command>", "info": "<one-sentence explanation of what it does>"}.
Prefer portable flags. Never wrap the JSON in markdown fences.`, shell)
	}
}

// exemplars returns the hand-authored few-shot turns that anchor the output
// format for a mode. These are fixed, not learned.
func exemplars(mode QueryType) []Turn {
	switch mode {
	case QueryQuestion:
		return []Turn{
			{Role: RoleUser, Content: "what does chmod 755 mean?"},
			{Role: RoleAssistant, Content: `{"info": "chmod 755 gives the owner read, write and execute permission, and everyone else read and execute."}`},
			{Role: RoleUser, Content: "which process is using port 8080?"},
			{Role: RoleAssistant, Content: `{"info": "Run lsof -i :8080 to see the process bound to port 8080; the PID column identifies it."}`},
		}
	case QueryError:
		return []Turn{
			{Role: RoleUser, Content: "The command `tar -xf backup` failed with: tar: backup: Cannot open: No such file or directory"},
			{Role: RoleAssistant, Content: `{"info": "tar could not find a file named 'backup' in the current directory; the archive name is probably backup.tar or it lives elsewhere.", "cmd": "ls *.tar*"}`},
		}
	default:
		return []Turn{
			{Role: RoleUser, Content: "list all files including hidden ones"},
			{Role: RoleAssistant, Content: `{"cmd": "ls -la", "info": "Lists every entry in the current directory, including dotfiles, in long format."}`},
			{Role: RoleUser, Content: "how much disk space is left"},
			{Role: RoleAssistant, Content: `{"cmd": "df -h", "info": "Shows free and used space for all mounted filesystems in human-readable units."}`},
		}
	}
}

// assembleOptions tunes one assembly cycle.
type assembleOptions struct {
	// skipEnvContext drops the dynamic environment turn (tool continuations).
	skipEnvContext bool
	// now and cwd override the real environment in tests.
	now func() time.Time
	cwd func() (string, error)
}

// Assemble builds the outbound request in fixed order: system message,
// exemplars, history, dynamic context, pending user turn, trailing
// reminder. pendingUser is empty on tool-call continuations. Tool schemas
// are attached only when the registry is non-empty.
func Assemble(cfg *Config, mode QueryType, history []Turn, pendingUser string, tools []ToolDefinition, opts assembleOptions) Request {
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.cwd == nil {
		opts.cwd = os.Getwd
	}

	shell := shellName(cfg.Shell)
	instruction := modeInstruction(mode, shell)

	turns := make([]Turn, 0, len(history)+10)
	turns = append(turns, Turn{
		Role:    RoleSystem,
		Content: fmt.Sprintf(preamble, runtime.GOOS, shell) + "\n\n" + instruction,
	})
	turns = append(turns, exemplars(mode)...)
	turns = append(turns, history...)

	if !opts.skipEnvContext {
		turns = append(turns, Turn{Role: RoleSystem, Content: environmentContext(cfg, opts)})
	}

	if pendingUser != "" {
		turns = append(turns, Turn{Role: RoleUser, Content: sanitizeText(pendingUser)})
	}

	turns = append(turns, Turn{
		Role: RoleSystem,
		Content: fmt.Sprintf("Reminder: %s\nKeep the whole response under %d characters.",
			instruction, cfg.MaxReplyChars),
	})

	req := Request{
		Messages:    turns,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		JSONMode:    cfg.JSONMode,
	}
	if len(tools) > 0 {
		req.Tools = tools
	}
	return req
}

// environmentContext builds the dynamic system turn: working directory (when
// exposure is enabled) and current date/time.
func environmentContext(cfg *Config, opts assembleOptions) string {
	var b strings.Builder
	if cfg.ExposeCwd {
		if cwd, err := opts.cwd(); err == nil {
			fmt.Fprintf(&b, "Current working directory: %s\n", cwd)
		}
	}
	fmt.Fprintf(&b, "Current date/time: %s", opts.now().Format("Mon, 02 Jan 2006 15:04:05 MST"))
	return b.String()
}

// shellName reduces a shell path to its base name for prompt text.
func shellName(shell string) string {
	if i := strings.LastIndexByte(shell, '/'); i >= 0 {
		return shell[i+1:]
	}
	return shell
}

// sanitizeText strips ANSI escape sequences and non-printable control
// characters (keeping newlines and tabs) so terminal output embeds cleanly
// in a prompt. JSON-level escaping of quotes and backslashes happens at
// marshal time in the client.
func sanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			// CSI sequences end on a letter; bare ESC codes end immediately.
			if unicode.IsLetter(r) {
				inEscape = false
			}
		case r == 0x1b:
			inEscape = true
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

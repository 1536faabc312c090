package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func testAssembleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Shell = "/bin/bash"
	cfg.MaxReplyChars = 1500
	cfg.ExposeCwd = true
	return cfg
}

func fixedOpts() assembleOptions {
	return assembleOptions{
		now: func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
		cwd: func() (string, error) { return "/home/dev/project", nil },
	}
}

func TestAssembleOrder(t *testing.T) {
	cfg := testAssembleConfig()
	history := []Turn{
		UserTurn("earlier request"),
		AssistantTurn(`{"info": "earlier answer"}`, nil),
	}

	req := Assemble(cfg, QueryExecute, history, "show disk usage", nil, fixedOpts())

	msgs := req.Messages
	ex := exemplars(QueryExecute)
	wantLen := 1 + len(ex) + len(history) + 1 + 1 + 1
	if len(msgs) != wantLen {
		t.Fatalf("assembled %d messages, want %d", len(msgs), wantLen)
	}

	if msgs[0].Role != RoleSystem || !strings.Contains(msgs[0].Content, "termclaw") {
		t.Errorf("first message must be the system preamble, got %v: %q", msgs[0].Role, msgs[0].Content)
	}
	for i, e := range ex {
		if msgs[1+i].Content != e.Content {
			t.Errorf("exemplar %d out of place", i)
		}
	}
	histStart := 1 + len(ex)
	if msgs[histStart].Content != "earlier request" {
		t.Errorf("history not after exemplars: %q", msgs[histStart].Content)
	}

	envTurn := msgs[histStart+2]
	if envTurn.Role != RoleSystem || !strings.Contains(envTurn.Content, "/home/dev/project") {
		t.Errorf("dynamic environment turn missing or misplaced: %+v", envTurn)
	}
	if !strings.Contains(envTurn.Content, "Sat, 14 Mar 2026") {
		t.Errorf("environment turn missing date: %q", envTurn.Content)
	}

	userTurn := msgs[histStart+3]
	if userTurn.Role != RoleUser || userTurn.Content != "show disk usage" {
		t.Errorf("pending user turn misplaced: %+v", userTurn)
	}

	last := msgs[len(msgs)-1]
	if last.Role != RoleSystem || !strings.HasPrefix(last.Content, "Reminder:") {
		t.Errorf("trailing reminder missing: %+v", last)
	}
	if !strings.Contains(last.Content, fmt.Sprintf("under %d characters", cfg.MaxReplyChars)) {
		t.Errorf("reminder lacks length budget: %q", last.Content)
	}
}

func TestAssembleSkipEnvContext(t *testing.T) {
	cfg := testAssembleConfig()
	opts := fixedOpts()
	opts.skipEnvContext = true

	req := Assemble(cfg, QueryExecute, nil, "", nil, opts)
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "Current date/time") {
			t.Errorf("dynamic environment turn present despite skipEnvContext: %q", m.Content)
		}
		if m.Role == RoleUser && m.Content == "" {
			t.Error("empty pending user turn must be omitted")
		}
	}
}

func TestAssembleCwdHidden(t *testing.T) {
	cfg := testAssembleConfig()
	cfg.ExposeCwd = false

	req := Assemble(cfg, QueryExecute, nil, "hi", nil, fixedOpts())
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "/home/dev/project") {
			t.Errorf("working directory leaked with ExposeCwd disabled: %q", m.Content)
		}
	}
}

func TestAssembleToolsOnlyWhenPresent(t *testing.T) {
	cfg := testAssembleConfig()

	req := Assemble(cfg, QueryExecute, nil, "hi", nil, fixedOpts())
	if req.Tools != nil {
		t.Errorf("Tools attached with empty registry: %v", req.Tools)
	}

	defs := []ToolDefinition{{Type: "function", Function: FunctionDef{Name: "weather"}}}
	req = Assemble(cfg, QueryExecute, nil, "hi", defs, fixedOpts())
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "weather" {
		t.Errorf("Tools = %v, want the weather definition", req.Tools)
	}
}

func TestAssembleModeInstruction(t *testing.T) {
	cfg := testAssembleConfig()

	tests := []struct {
		mode QueryType
		want string
	}{
		{QueryExecute, "Translate the user's request"},
		{QueryQuestion, "Do not propose a command"},
		{QueryError, "a command that failed"},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			req := Assemble(cfg, tt.mode, nil, "x", nil, fixedOpts())
			if !strings.Contains(req.Messages[0].Content, tt.want) {
				t.Errorf("system message for %v lacks %q", tt.mode, tt.want)
			}
			last := req.Messages[len(req.Messages)-1].Content
			if !strings.Contains(last, tt.want) {
				t.Errorf("reminder for %v lacks %q", tt.mode, tt.want)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"newlines and tabs kept", "a\n\tb", "a\n\tb"},
		{"ansi color stripped", "\x1b[31mred\x1b[0m text", "red text"},
		{"control chars dropped", "a\x07b\x00c", "abc"},
		{"carriage return dropped", "line\r\n", "line\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeText(tt.input); got != tt.want {
				t.Errorf("sanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestShellName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/bin/bash", "bash"},
		{"/usr/local/bin/fish", "fish"},
		{"zsh", "zsh"},
	}
	for _, tt := range tests {
		if got := shellName(tt.in); got != tt.want {
			t.Errorf("shellName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

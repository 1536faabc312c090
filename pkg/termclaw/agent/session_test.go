package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// stubClient replays canned responses and records every outbound request.
type stubClient struct {
	responses []*Response
	errs      []error
	requests  []Request
}

func (c *stubClient) Complete(ctx context.Context, req Request) (*Response, error) {
	i := len(c.requests)
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.responses) {
		return nil, errors.New("stub exhausted")
	}
	return c.responses[i], nil
}

// memStore keeps history in memory and records saves.
type memStore struct {
	loaded []Turn
	saved  [][]Turn
}

func (m *memStore) Load() ([]Turn, error) { return m.loaded, nil }
func (m *memStore) Save(turns []Turn) error {
	m.saved = append(m.saved, append([]Turn(nil), turns...))
	return nil
}

type testSession struct {
	*Session
	client *stubClient
	store  *memStore
	out    *bytes.Buffer
	ran    []string
}

// newTestSession wires a one-shot session with inert seams: confirmation
// auto-runs, commands succeed silently, no spinner, no prompts.
func newTestSession(t *testing.T, client *stubClient, host *fakeToolHost) *testSession {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Shell = "/bin/sh"
	if host == nil {
		host = &fakeToolHost{descriptors: map[string]string{}}
	}
	registry, err := DiscoverTools(context.Background(), host, testLogger())
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}

	ts := &testSession{client: client, store: &memStore{}, out: &bytes.Buffer{}}
	s := NewSession(cfg, client, registry, host, ts.store, testLogger(), false)
	s.out = ts.out
	s.progress = func(ctx context.Context, fn func()) { fn() }
	s.confirm = func(reply Reply) (confirmAction, string, error) { return actionRun, reply.Cmd, nil }
	s.examine = func(string) (bool, error) { return false, nil }
	s.runCommand = func(ctx context.Context, command string) (string, error) {
		ts.ran = append(ts.ran, command)
		return "", nil
	}
	ts.Session = s
	return ts
}

func TestSessionExecuteFlow(t *testing.T) {
	client := &stubClient{responses: []*Response{
		{Content: `{"cmd": "df -h", "info": "disk usage"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, nil)

	if err := ts.Run(context.Background(), "how much disk space is left"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ts.ran) != 1 || ts.ran[0] != "df -h" {
		t.Errorf("ran commands %v, want [df -h]", ts.ran)
	}
	if !strings.Contains(ts.out.String(), "[ok]") {
		t.Errorf("output %q missing [ok]", ts.out.String())
	}

	if len(ts.store.saved) != 1 {
		t.Fatalf("history saved %d times, want 1", len(ts.store.saved))
	}
	saved := ts.store.saved[0]
	if len(saved) != 2 {
		t.Fatalf("persisted %d turns, want 2 (user + assistant)", len(saved))
	}
	if saved[0].Role != RoleUser || saved[0].Content != "how much disk space is left" {
		t.Errorf("first persisted turn = %+v", saved[0])
	}
	if saved[1].Role != RoleAssistant {
		t.Errorf("second persisted turn role = %v, want assistant", saved[1].Role)
	}
}

func TestSessionInfoOnlyReply(t *testing.T) {
	client := &stubClient{responses: []*Response{
		{Content: `{"info": "port 8080 is free"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, nil)

	if err := ts.Run(context.Background(), "is port 8080 in use?"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ts.ran) != 0 {
		t.Errorf("no command should run, got %v", ts.ran)
	}
	if !strings.Contains(ts.out.String(), "port 8080 is free") {
		t.Errorf("output %q missing the answer", ts.out.String())
	}
}

func TestSessionCancelledCommand(t *testing.T) {
	client := &stubClient{responses: []*Response{
		{Content: `{"cmd": "rm -rf /tmp/x", "info": "removes it"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, nil)
	ts.confirm = func(reply Reply) (confirmAction, string, error) { return actionCancel, "", nil }

	if err := ts.Run(context.Background(), "remove the temp dir"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ts.ran) != 0 {
		t.Errorf("cancelled command must not run, got %v", ts.ran)
	}
	if !strings.Contains(ts.out.String(), "Cancelled.") {
		t.Errorf("output %q missing cancellation notice", ts.out.String())
	}
}

func TestSessionEditedCommandRuns(t *testing.T) {
	client := &stubClient{responses: []*Response{
		{Content: `{"cmd": "ls", "info": "lists files"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, nil)
	ts.confirm = func(reply Reply) (confirmAction, string, error) { return actionRun, "ls -la", nil }

	if err := ts.Run(context.Background(), "list files"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ts.ran) != 1 || ts.ran[0] != "ls -la" {
		t.Errorf("ran %v, want the edited command [ls -la]", ts.ran)
	}
}

func TestSessionToolRoundTrip(t *testing.T) {
	host := &fakeToolHost{
		descriptors: map[string]string{"/tools/weather": weatherDescriptor},
		output:      "overcast, 12C",
	}
	client := &stubClient{responses: []*Response{
		{
			FinishReason: "tool_calls",
			ToolCalls: []ToolCall{
				{ID: "call_1", Type: "function", Function: FunctionCall{Name: "weather", Arguments: `{"city":"Oslo","tool_reason":"asked"}`}},
				{ID: "call_2", Type: "function", Function: FunctionCall{Name: "weather", Arguments: `{"city":"Bergen","tool_reason":"asked"}`}},
			},
		},
		{Content: `{"info": "Overcast in both cities."}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, host)

	if err := ts.Run(context.Background(), "weather in Oslo and Bergen?"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(host.executed) != 2 {
		t.Fatalf("executed %d tool calls, want 2", len(host.executed))
	}
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}

	// The continuation request restates neither the user input nor the
	// dynamic environment.
	second := client.requests[1].Messages
	for _, m := range second {
		if m.Role == RoleUser && m.Content == "weather in Oslo and Bergen?" {
			t.Error("continuation repeats the user turn outside history")
		}
		if strings.Contains(m.Content, "Current date/time:") {
			t.Errorf("continuation restates the environment context: %q", m.Content)
		}
	}
	last := second[len(second)-1]
	if !strings.HasPrefix(last.Content, "Reminder:") {
		t.Errorf("continuation must end with the reminder, got %q", last.Content)
	}
	var toolTurns int
	for _, m := range second {
		if m.Role == RoleTool {
			toolTurns++
		}
	}
	if toolTurns != 2 {
		t.Errorf("continuation carries %d tool turns, want 2", toolTurns)
	}

	saved := ts.store.saved[0]
	// user, assistant(tool calls), tool, tool, assistant(final)
	if len(saved) != 5 {
		t.Fatalf("persisted %d turns, want 5", len(saved))
	}
	if len(saved[1].ToolCalls) != 2 {
		t.Errorf("assistant turn carries %d tool calls, want 2", len(saved[1].ToolCalls))
	}
	if saved[2].Role != RoleTool || saved[2].ToolCallID != "call_1" {
		t.Errorf("third turn = %+v, want tool output for call_1", saved[2])
	}
	if saved[3].ToolCallID != "call_2" {
		t.Errorf("fourth turn call id = %q, want call_2", saved[3].ToolCallID)
	}
	if saved[2].Content != "overcast, 12C" {
		t.Errorf("tool output = %q, want %q", saved[2].Content, "overcast, 12C")
	}
}

func TestSessionUnknownToolYieldsEmptyOutput(t *testing.T) {
	host := &fakeToolHost{descriptors: map[string]string{"/tools/weather": weatherDescriptor}}
	client := &stubClient{responses: []*Response{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []ToolCall{{ID: "call_9", Function: FunctionCall{Name: "no_such_tool", Arguments: `{}`}}},
		},
		{Content: `{"info": "done"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, host)

	if err := ts.Run(context.Background(), "do the thing"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(host.executed) != 0 {
		t.Errorf("unknown tool must not execute anything, ran %v", host.executed)
	}

	saved := ts.store.saved[0]
	var tool *Turn
	for i := range saved {
		if saved[i].Role == RoleTool {
			tool = &saved[i]
		}
	}
	if tool == nil {
		t.Fatal("no tool turn persisted")
	}
	if tool.Content != "" || tool.ToolCallID != "call_9" {
		t.Errorf("tool turn = %+v, want empty output for call_9", *tool)
	}
}

func TestSessionToolOutputTruncated(t *testing.T) {
	host := &fakeToolHost{
		descriptors: map[string]string{"/tools/weather": weatherDescriptor},
		output:      strings.Repeat("x", 100),
	}
	client := &stubClient{responses: []*Response{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []ToolCall{{ID: "c1", Function: FunctionCall{Name: "weather", Arguments: `{}`}}},
		},
		{Content: `{"info": "ok"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, host)
	ts.cfg.Tools.MaxOutputBytes = 24

	if err := ts.Run(context.Background(), "weather?"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := strings.Repeat("x", 24) + "..."
	saved := ts.store.saved[0]
	for _, turn := range saved {
		if turn.Role == RoleTool && turn.Content != want {
			t.Errorf("tool output = %q, want %d bytes plus ellipsis", turn.Content, 24)
		}
	}
}

func TestSessionAbortedToolRoundTripNotPersisted(t *testing.T) {
	host := &fakeToolHost{
		descriptors: map[string]string{"/tools/weather": weatherDescriptor},
		output:      "overcast, 12C",
	}
	client := &stubClient{
		responses: []*Response{
			{
				FinishReason: "tool_calls",
				ToolCalls:    []ToolCall{{ID: "call_1", Function: FunctionCall{Name: "weather", Arguments: `{}`}}},
			},
			nil,
		},
		errs: []error{nil, &APIError{StatusCode: 502, Message: "bad gateway"}},
	}
	ts := newTestSession(t, client, host)

	if err := ts.Run(context.Background(), "weather?"); err != nil {
		t.Fatalf("API errors must not abort the session, got %v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}

	// The round-trip never produced a final turn, so none of it is kept.
	if len(ts.store.saved) != 1 {
		t.Fatalf("history saved %d times, want 1", len(ts.store.saved))
	}
	if n := len(ts.store.saved[0]); n != 0 {
		t.Errorf("persisted %d turns from an unterminated round-trip, want 0: %+v", n, ts.store.saved[0])
	}
}

func TestSessionSettledTurnsSurviveLaterFailure(t *testing.T) {
	client := &stubClient{
		responses: []*Response{
			{Content: `{"cmd": "cat /nope", "info": "prints the file"}`, FinishReason: "stop"},
			nil,
		},
		errs: []error{nil, &APIError{StatusCode: 500, Message: "server error"}},
	}
	ts := newTestSession(t, client, nil)
	ts.runCommand = func(ctx context.Context, command string) (string, error) {
		return "cat: /nope: No such file or directory", errors.New("exit status 1")
	}
	ts.examine = func(string) (bool, error) { return true, nil }

	if err := ts.Run(context.Background(), "show /nope"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The first exchange settled before the examine cycle failed; only the
	// settled turns are kept.
	saved := ts.store.saved[0]
	if len(saved) != 2 {
		t.Fatalf("persisted %d turns, want the settled user + assistant pair", len(saved))
	}
	if saved[0].Role != RoleUser || saved[1].Role != RoleAssistant {
		t.Errorf("persisted roles = %v, %v", saved[0].Role, saved[1].Role)
	}
}

func TestSessionEmptyResponseFatal(t *testing.T) {
	client := &stubClient{errs: []error{ErrEmptyResponse}}
	ts := newTestSession(t, client, nil)

	err := ts.Run(context.Background(), "anything")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if len(ts.store.saved) != 0 {
		t.Errorf("history must not be saved after a fatal error")
	}
}

func TestSessionAPIErrorRecoverable(t *testing.T) {
	client := &stubClient{errs: []error{&APIError{StatusCode: 429, Message: "rate limited"}}}
	ts := newTestSession(t, client, nil)

	if err := ts.Run(context.Background(), "anything"); err != nil {
		t.Fatalf("API errors must not abort the session, got %v", err)
	}
	if !strings.Contains(ts.out.String(), "rate limited") {
		t.Errorf("output %q missing the API error message", ts.out.String())
	}
	// The failed turn is never persisted.
	if len(ts.store.saved) != 1 || len(ts.store.saved[0]) != 0 {
		t.Errorf("saved %+v, want one empty save", ts.store.saved)
	}
}

func TestSessionFailedCommandExamined(t *testing.T) {
	client := &stubClient{responses: []*Response{
		{Content: `{"cmd": "cat /nope", "info": "prints the file"}`, FinishReason: "stop"},
		{Content: `{"info": "The file /nope does not exist.", "cmd": "ls /"}`, FinishReason: "stop"},
	}}
	ts := newTestSession(t, client, nil)
	ts.runCommand = func(ctx context.Context, command string) (string, error) {
		ts.ran = append(ts.ran, command)
		if command == "cat /nope" {
			return "cat: /nope: No such file or directory", errors.New("exit status 1")
		}
		return "", nil
	}
	ts.examine = func(failOutput string) (bool, error) {
		if !strings.Contains(failOutput, "No such file") {
			t.Errorf("examine got %q, want the captured stderr", failOutput)
		}
		return true, nil
	}

	if err := ts.Run(context.Background(), "show /nope"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}

	// The second cycle runs in error-analysis mode with a synthesized turn.
	second := client.requests[1].Messages
	if !strings.Contains(second[0].Content, "a command that failed") {
		t.Errorf("second request not in error mode: %q", second[0].Content)
	}
	found := false
	for _, m := range second {
		if m.Role == RoleUser && strings.Contains(m.Content, "The command `cat /nope` failed with:") {
			found = true
		}
	}
	if !found {
		t.Error("synthesized failure turn missing from second request")
	}

	// Both the failed and the corrected command went through the run seam.
	if len(ts.ran) != 2 || ts.ran[1] != "ls /" {
		t.Errorf("ran %v, want [cat /nope, ls /]", ts.ran)
	}
	if !strings.Contains(ts.out.String(), "[failed]") || !strings.Contains(ts.out.String(), "[ok]") {
		t.Errorf("output %q missing failure then success markers", ts.out.String())
	}
}

func TestSessionRejectedReply(t *testing.T) {
	client := &stubClient{responses: []*Response{
		{Content: "refused payload", FinishReason: "content_filter"},
	}}
	ts := newTestSession(t, client, nil)

	if err := ts.Run(context.Background(), "something"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(ts.out.String(), "refused payload") {
		t.Error("rejected payload must not be shown")
	}
	if !strings.Contains(ts.out.String(), rejectionInfo) {
		t.Errorf("output %q missing the rejection notice", ts.out.String())
	}
}

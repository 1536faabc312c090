// Package agent – toolhost.go executes user-supplied tool plugins. A plugin
// is a standalone executable in the tools directory: `<tool> describe` must
// print a single JSON descriptor object, `<tool> run <argsJSON>` performs
// the call and prints its output. Plugins run with the user's full
// privileges; installing one is the trust decision.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoDescriptor marks a plugin that does not implement the describe entry
// point. Discovery skips these with a warning instead of failing startup.
var ErrNoDescriptor = errors.New("plugin does not answer describe")

// ToolRef is an opaque handle to a plugin's executable code.
type ToolRef struct {
	Path string
}

// ToolHost enumerates and executes plugins.
type ToolHost interface {
	List(ctx context.Context) ([]ToolRef, error)
	Describe(ctx context.Context, ref ToolRef) ([]byte, error)
	Execute(ctx context.Context, ref ToolRef, argumentsJSON string) (string, error)
}

// ExecToolHost runs plugins found in a directory of executables.
type ExecToolHost struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecToolHost creates a host over the given plugin directory.
func NewExecToolHost(dir string, logger *slog.Logger) *ExecToolHost {
	return &ExecToolHost{
		dir:     dir,
		timeout: 60 * time.Second,
		logger:  logger.With("component", "toolhost"),
	}
}

// List returns a ref for every executable regular file in the tools
// directory, sorted by name. A missing directory yields no plugins.
func (h *ExecToolHost) List(ctx context.Context) ([]ToolRef, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tools dir %q: %w", h.dir, err)
	}

	var refs []ToolRef
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !isExecutable(info) {
			h.logger.Debug("skipping non-executable file", "file", entry.Name())
			continue
		}
		refs = append(refs, ToolRef{Path: filepath.Join(h.dir, entry.Name())})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// Describe invokes the plugin's discovery entry point and returns its raw
// descriptor bytes. A plugin that exits non-zero or prints nothing is
// reported as ErrNoDescriptor.
func (h *ExecToolHost) Describe(ctx context.Context, ref ToolRef) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ref.Path, "describe")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, filepath.Base(ref.Path))
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, filepath.Base(ref.Path))
	}
	return out, nil
}

// Execute runs the plugin with the serialized arguments and returns its
// combined output text.
func (h *ExecToolHost) Execute(ctx context.Context, ref ToolRef, argumentsJSON string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ref.Path, "run", argumentsJSON)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	h.logger.Debug("plugin executed",
		"tool", filepath.Base(ref.Path),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	if err != nil {
		// The plugin's own diagnostics are the useful part of a failure.
		return strings.TrimSpace(buf.String()), fmt.Errorf("running %s: %w", filepath.Base(ref.Path), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// isExecutable reports whether the file has any execute bit set.
func isExecutable(info fs.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

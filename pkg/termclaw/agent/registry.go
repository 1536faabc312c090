// Package agent – registry.go discovers plugin tools and maintains the
// name-to-descriptor registry advertised to the model. Every accepted
// descriptor's parameter schema gains a required tool_reason property: the
// model must state why it is invoking a tool, enforced centrally so plugin
// authors cannot forget it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// ErrDuplicateTool marks two plugins declaring the same function name.
// Ambiguity is fatal at startup, never silently arbitrated.
var ErrDuplicateTool = errors.New("duplicate tool name")

// ErrBadDescriptor marks a plugin whose self-description is not a single
// well-formed JSON descriptor object. Fatal at startup.
var ErrBadDescriptor = errors.New("malformed tool descriptor")

// ToolDescriptor binds a discovered tool's schema to its executable source.
// Immutable after discovery.
type ToolDescriptor struct {
	Name       string
	Source     ToolRef
	Definition ToolDefinition
}

// ToolRegistry holds the discovered tools, keyed by unique function name.
type ToolRegistry struct {
	byName map[string]ToolDescriptor
	order  []string
	logger *slog.Logger
}

// DiscoverTools enumerates the host's plugins and builds the registry.
// A plugin without a describe entry point is skipped with a warning; a
// descriptor that is not parseable JSON, or a duplicate function name, is
// a startup-fatal error.
func DiscoverTools(ctx context.Context, host ToolHost, logger *slog.Logger) (*ToolRegistry, error) {
	reg := &ToolRegistry{
		byName: make(map[string]ToolDescriptor),
		logger: logger.With("component", "registry"),
	}

	refs, err := host.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing plugins: %w", err)
	}

	for _, ref := range refs {
		raw, err := host.Describe(ctx, ref)
		if err != nil {
			if errors.Is(err, ErrNoDescriptor) {
				reg.logger.Warn("plugin has no describe entry point, skipping",
					"plugin", filepath.Base(ref.Path))
				continue
			}
			return nil, fmt.Errorf("describing %s: %w", filepath.Base(ref.Path), err)
		}

		var def ToolDefinition
		if err := strictUnmarshalObject(raw, &def); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadDescriptor, filepath.Base(ref.Path), err)
		}

		// Unknown but well-formed descriptor types are not ours to run.
		if def.Type != "function" {
			reg.logger.Warn("unsupported descriptor type, skipping",
				"plugin", filepath.Base(ref.Path), "type", def.Type)
			continue
		}
		if def.Function.Name == "" {
			return nil, fmt.Errorf("%w: %s: missing function name", ErrBadDescriptor, filepath.Base(ref.Path))
		}

		if existing, ok := reg.byName[def.Function.Name]; ok {
			return nil, fmt.Errorf("%w: %q declared by both %s and %s",
				ErrDuplicateTool, def.Function.Name,
				filepath.Base(existing.Source.Path), filepath.Base(ref.Path))
		}

		params, err := injectToolReason(def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadDescriptor, filepath.Base(ref.Path), err)
		}
		def.Function.Parameters = params

		reg.byName[def.Function.Name] = ToolDescriptor{
			Name:       def.Function.Name,
			Source:     ref,
			Definition: def,
		}
		reg.order = append(reg.order, def.Function.Name)
		reg.logger.Debug("tool registered", "name", def.Function.Name, "source", ref.Path)
	}

	reg.logger.Info("tool discovery complete", "tools", len(reg.order))
	return reg, nil
}

// strictUnmarshalObject decodes exactly one JSON object and rejects
// anything else (arrays, scalars, trailing garbage).
func strictUnmarshalObject(raw []byte, v any) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("not a single JSON object: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// injectToolReason adds tool_reason as a required string property to a
// parameter schema. Works on schemas with no properties or no required
// list at all.
func injectToolReason(params json.RawMessage) (json.RawMessage, error) {
	schema := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("parameter schema: %w", err)
		}
	}
	if schema["type"] == nil {
		schema["type"] = "object"
	}

	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	props["tool_reason"] = map[string]any{
		"type":        "string",
		"description": "Why this tool call is needed to answer the user's request.",
	}
	schema["properties"] = props

	required := []any{}
	if r, ok := schema["required"].([]any); ok {
		required = r
	}
	hasReason := false
	for _, r := range required {
		if r == "tool_reason" {
			hasReason = true
			break
		}
	}
	if !hasReason {
		required = append(required, "tool_reason")
	}
	schema["required"] = required

	out, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("re-encoding schema: %w", err)
	}
	return out, nil
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	return len(r.order)
}

// Definitions returns the tool schemas in discovery order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].Definition)
	}
	return defs
}

// Resolve looks up a tool by function name.
func (r *ToolRegistry) Resolve(name string) (ToolDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered tool names in discovery order.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// Package nodes provides the built-in node type catalog. Each type
// registers itself into a workflow.TypeRegistry via RegisterBuiltins;
// there is no runtime plugin discovery.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wirebird/wirebird/internal/workflow"
)

// RegisterBuiltins installs the core node types into the registry.
func RegisterBuiltins(reg *workflow.TypeRegistry) {
	reg.Register(&workflow.NodeType{
		ID:      "start",
		Kind:    workflow.KindArray,
		Execute: executeStart,
	})
	reg.Register(&workflow.NodeType{
		ID:       "scheduled",
		Kind:     workflow.KindArray,
		Execute:  executeScheduled,
		Register: RegisterScheduled,
	})
	reg.Register(&workflow.NodeType{
		ID:      "hardwired",
		Kind:    workflow.KindArray,
		Execute: executeHardwired,
	})
	reg.Register(&workflow.NodeType{
		ID:      "set",
		Kind:    workflow.KindMap,
		Execute: executeSet,
	})
	reg.Register(&workflow.NodeType{
		ID:      "transform",
		Kind:    workflow.KindMap,
		Execute: executeTransform,
	})
	reg.Register(&workflow.NodeType{
		ID:      "if",
		Kind:    workflow.KindArray,
		Execute: executeIf,
	})
	reg.Register(&workflow.NodeType{
		ID:      "append_to_file",
		Kind:    workflow.KindArray,
		Execute: executeAppendToFile,
	})
}

func executeStart(_ context.Context, _ *workflow.Node, _ []workflow.Item, _ map[string]any) (any, error) {
	return []workflow.Item{{}}, nil
}

func executeScheduled(_ context.Context, _ *workflow.Node, _ []workflow.Item, _ map[string]any) (any, error) {
	return []workflow.Item{{"time": time.Now().Format(time.RFC3339)}}, nil
}

// executeHardwired returns the node's embedded JSON payload. A parse
// failure yields an error item instead of failing the step.
func executeHardwired(_ context.Context, node *workflow.Node, _ []workflow.Item, _ map[string]any) (any, error) {
	raw, _ := node.Data["json"].(string)
	if raw == "" {
		raw = "[]"
	}
	var items []workflow.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []workflow.Item{{"error": "Invalid JSON", "message": err.Error()}}, nil
	}
	return items, nil
}

// executeSet builds an item from the configured fields. Field values
// that parse as JSON become typed values; anything else stays a string.
func executeSet(_ context.Context, node *workflow.Node, _ []workflow.Item, _ map[string]any) (any, error) {
	result := workflow.Data{}
	fields, _ := node.Data["fields"].([]any)
	for _, f := range fields {
		field, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := field["name"].(string)
		if name == "" {
			continue
		}
		value := field["value"]
		if s, ok := value.(string); ok {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				value = parsed
			}
		}
		result[name] = value
	}
	return result, nil
}

// executeTransform passes through the node's expression field, which
// the evaluator has already resolved against the item.
func executeTransform(_ context.Context, node *workflow.Node, _ []workflow.Item, _ map[string]any) (any, error) {
	return workflow.Data{"result": node.Data["expression"]}, nil
}

// executeIf forwards the input when the evaluated condition is truthy
// and drops it otherwise.
func executeIf(_ context.Context, node *workflow.Node, input []workflow.Item, _ map[string]any) (any, error) {
	condition := node.Data["condition"]
	if condition == nil {
		condition = "true"
	}
	if isTruthy(condition) {
		return input, nil
	}
	return []workflow.Item{}, nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch t {
		case "", "false", "0", "null", "undefined":
			return false
		}
		return true
	case float64:
		return t != 0
	case int:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func executeAppendToFile(_ context.Context, node *workflow.Node, _ []workflow.Item, _ map[string]any) (any, error) {
	path, _ := node.Data["filepath"].(string)
	content := node.Data["content"]
	if path == "" {
		return []workflow.Item{{"written": false, "filepath": ""}}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%v\n", content); err != nil {
		return nil, fmt.Errorf("append to %s: %w", path, err)
	}
	return []workflow.Item{{"written": true, "filepath": path}}, nil
}

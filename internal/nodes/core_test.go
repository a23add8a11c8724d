package nodes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebird/wirebird/internal/workflow"
)

func execute(t *testing.T, typeID string, node *workflow.Node, input []workflow.Item) any {
	t.Helper()
	reg := workflow.NewTypeRegistry()
	RegisterBuiltins(reg)
	nt, ok := reg.Lookup(typeID)
	require.True(t, ok, "type %s not registered", typeID)
	out, err := nt.Execute(context.Background(), node, input, nil)
	require.NoError(t, err)
	return out
}

func TestRegisterBuiltins(t *testing.T) {
	reg := workflow.NewTypeRegistry()
	RegisterBuiltins(reg)

	for _, id := range []string{"start", "scheduled", "hardwired", "set", "transform", "if", "append_to_file"} {
		_, ok := reg.Lookup(id)
		assert.True(t, ok, "missing builtin %s", id)
	}

	sched, _ := reg.Lookup("scheduled")
	assert.NotNil(t, sched.Register, "scheduled type must register as a trigger")
	set, _ := reg.Lookup("set")
	assert.Equal(t, workflow.KindMap, set.Kind)
}

func TestExecuteHardwired(t *testing.T) {
	node := &workflow.Node{Data: workflow.Data{"json": `[{"user": "ada"}, {"user": "grace"}]`}}
	out := execute(t, "hardwired", node, nil)

	items, ok := out.([]workflow.Item)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "ada", items[0]["user"])
}

func TestExecuteHardwiredInvalidJSON(t *testing.T) {
	node := &workflow.Node{Data: workflow.Data{"json": `{not json`}}
	out := execute(t, "hardwired", node, nil)

	// A broken payload is data, not a step failure.
	items, ok := out.([]workflow.Item)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Invalid JSON", items[0]["error"])
	assert.NotEmpty(t, items[0]["message"])
}

func TestExecuteSet(t *testing.T) {
	node := &workflow.Node{Data: workflow.Data{
		"fields": []any{
			map[string]any{"name": "count", "value": "42"},
			map[string]any{"name": "flag", "value": "true"},
			map[string]any{"name": "label", "value": "plain text"},
			map[string]any{"value": "no name, skipped"},
		},
	}}
	out := execute(t, "set", node, []workflow.Item{{}})

	result, ok := out.(workflow.Data)
	require.True(t, ok)
	assert.Equal(t, float64(42), result["count"])
	assert.Equal(t, true, result["flag"])
	assert.Equal(t, "plain text", result["label"])
	assert.Len(t, result, 3)
}

func TestExecuteTransform(t *testing.T) {
	node := &workflow.Node{Data: workflow.Data{"expression": "evaluated value"}}
	out := execute(t, "transform", node, []workflow.Item{{}})

	result, ok := out.(workflow.Data)
	require.True(t, ok)
	assert.Equal(t, "evaluated value", result["result"])
}

func TestExecuteIf(t *testing.T) {
	input := []workflow.Item{{"x": 1}, {"x": 2}}

	tests := []struct {
		name      string
		condition any
		pass      bool
	}{
		{"true string", "true", true},
		{"false string", "false", false},
		{"zero string", "0", false},
		{"null string", "null", false},
		{"empty string", "", false},
		{"nonzero number", float64(7), true},
		{"zero number", float64(0), false},
		{"bool", true, true},
		{"missing condition defaults true", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &workflow.Node{Data: workflow.Data{}}
			if tt.condition != nil {
				node.Data["condition"] = tt.condition
			}
			out := execute(t, "if", node, input)
			items, ok := out.([]workflow.Item)
			require.True(t, ok)
			if tt.pass {
				assert.Len(t, items, 2)
			} else {
				assert.Empty(t, items)
			}
		})
	}
}

func TestExecuteAppendToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.log")
	node := &workflow.Node{Data: workflow.Data{"filepath": path, "content": "line one"}}

	out := execute(t, "append_to_file", node, nil)
	items, ok := out.([]workflow.Item)
	require.True(t, ok)
	assert.Equal(t, true, items[0]["written"])

	node.Data["content"] = "line two"
	execute(t, "append_to_file", node, nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestExecuteStart(t *testing.T) {
	out := execute(t, "start", &workflow.Node{}, nil)
	items, ok := out.([]workflow.Item)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Empty(t, items[0])
}

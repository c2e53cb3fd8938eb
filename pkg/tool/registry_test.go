package tool

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, args map[string]interface{}) (string, error) {
	text, _ := args["text"].(string)
	return text, nil
}

func testDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "test tool",
		Parameters: ObjectSchema(map[string]interface{}{
			"text": map[string]interface{}{"type": "string", "description": "input text"},
		}, []string{"text"}),
		Handler: echoHandler,
	}
}

func TestRegisterRequiresNameAndHandler(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())

	err := reg.Register(Definition{Handler: echoHandler})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	err = reg.Register(Definition{Name: "orphan"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}

func TestRegisterOverwritesOnDuplicateName(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(testDefinition("echo")))

	replacement := testDefinition("echo")
	replacement.Description = "second registration"
	require.NoError(t, reg.Register(replacement))

	got := reg.Get("echo")
	require.NotNil(t, got)
	assert.Equal(t, "second registration", got.Description)
	assert.Len(t, reg.List(), 1)
}

func TestValidateEnforcesSchema(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(testDefinition("echo")))

	assert.NoError(t, reg.Validate("echo", map[string]interface{}{"text": "hi"}))

	err := reg.Validate("echo", map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")

	// Unknown tool or schema-less tool accepts anything.
	assert.NoError(t, reg.Validate("unknown", nil))
}

func TestSubsetAndFilter(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	for _, name := range []string{"read_file", "write_file", "run_shell"} {
		require.NoError(t, reg.Register(testDefinition(name)))
	}

	sub := reg.Subset([]string{"read_file", "missing"})
	assert.Equal(t, []string{"read_file"}, sub.Names())

	filtered := reg.Filter([]string{"read_file", "write_file"}, []string{"write_file"})
	assert.Equal(t, []string{"read_file"}, filtered.Names())

	// Empty allow keeps everything except blocked names.
	filtered = reg.Filter(nil, []string{"run_shell"})
	assert.Equal(t, []string{"read_file", "write_file"}, filtered.Names())
}

func TestRemove(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(testDefinition("echo")))

	reg.Remove("echo")
	assert.Nil(t, reg.Get("echo"))
	assert.Empty(t, reg.Names())
}
